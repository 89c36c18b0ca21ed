package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ManageClient issues authorized calls against the site-management REST
// API. The id token is read from the credential store immediately before
// each request. Non-2xx responses are returned as data, not errors: the
// pages render whatever the upstream said.
type ManageClient struct {
	baseURL string
	apiKey  string
	creds   *CredentialStore
	http    *http.Client
	logger  *slog.Logger
}

// NewManageClient constructs the client for the configured API domain.
func NewManageClient(cfg Config, creds *CredentialStore, logger *slog.Logger) *ManageClient {
	return &ManageClient{
		baseURL: "https://" + cfg.ManageAPIDomain,
		apiKey:  cfg.APIKey,
		creds:   creds,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// CallResult captures one upstream exchange for rendering.
type CallResult struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

// JSON decodes the response body into v.
func (r *CallResult) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode management response: %w", err)
	}
	return nil
}

// Site is one entry of the paginated site list.
type Site struct {
	SiteID string `json:"siteId"`
	Name   string `json:"name"`
}

// SitePage is the paginated /site/sites response.
type SitePage struct {
	Items     []Site `json:"items"`
	NextToken string `json:"nextToken"`
}

// Point is one telemetry logpoint.
type Point struct {
	SequenceID int64 `json:"sequenceId"`
}

// PointPage is the paginated /point/points response.
type PointPage struct {
	Items     []Point `json:"items"`
	NextToken string  `json:"nextToken"`
}

// ModelFile describes one file of the latest site model.
type ModelFile struct {
	Path        string `json:"path"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	Version     int64  `json:"version"`
	TimestampMs int64  `json:"timestampMs"`
	DownloadURL string `json:"downloadUrl"`
}

// FilePage is the paginated /model/latest response.
type FilePage struct {
	Items       []ModelFile `json:"items"`
	NextToken   string      `json:"nextToken"`
	SiteVersion int64       `json:"siteVersion"`
}

// Presign is the /model/presign/file response.
type Presign struct {
	URL       string `json:"url"`
	RequestID string `json:"requestId"`
}

// ListSites fetches one page of sites.
func (c *ManageClient) ListSites(ctx context.Context, maxPageSize int, nextToken string) (*CallResult, error) {
	q := url.Values{}
	q.Set("maxPageSize", strconv.Itoa(pageSizeOrDefault(maxPageSize)))
	if nextToken != "" {
		q.Set("nextToken", nextToken)
	}
	return c.do(ctx, http.MethodGet, "/ext/0/site/sites", q, nil)
}

// ListPoints fetches one page of logpoints for a site. since <= 0 means
// "from the beginning".
func (c *ManageClient) ListPoints(ctx context.Context, siteID string, maxPageSize int, nextToken string, since int64) (*CallResult, error) {
	q := url.Values{}
	q.Set("siteId", siteID)
	q.Set("maxPageSize", strconv.Itoa(pageSizeOrDefault(maxPageSize)))
	if nextToken != "" {
		q.Set("nextToken", nextToken)
	}
	if since > 0 {
		q.Set("since", strconv.FormatInt(since, 10))
	}
	return c.do(ctx, http.MethodGet, "/ext/0/point/points", q, nil)
}

// ListFiles fetches one page of the latest model file listing for a site.
func (c *ManageClient) ListFiles(ctx context.Context, siteID string, maxPageSize int, nextToken string) (*CallResult, error) {
	q := url.Values{}
	q.Set("siteId", siteID)
	q.Set("maxPageSize", strconv.Itoa(pageSizeOrDefault(maxPageSize)))
	if nextToken != "" {
		q.Set("nextToken", nextToken)
	}
	return c.do(ctx, http.MethodGet, "/ext/0/model/latest", q, nil)
}

// SetProtection enables or clears directory protection for a site. Enabling
// protects protectedFolder/ on behalf of companyName, matching the sample
// flow the platform documents.
func (c *ManageClient) SetProtection(ctx context.Context, siteID string, disable bool) (*CallResult, error) {
	type protection struct {
		Prefixes map[string]string `json:"prefixes,omitempty"`
	}
	body := struct {
		SiteID     string     `json:"siteId"`
		Protection protection `json:"protection"`
	}{SiteID: siteID}
	if !disable {
		body.Protection.Prefixes = map[string]string{"protectedFolder/": "companyName"}
	}
	return c.do(ctx, http.MethodPut, "/ext/0/site/protection", nil, body)
}

// PresignFile requests a presigned upload URL for a path within a site.
func (c *ManageClient) PresignFile(ctx context.Context, siteID, path string) (*CallResult, error) {
	q := url.Values{}
	q.Set("siteId", siteID)
	q.Set("path", path)
	return c.do(ctx, http.MethodGet, "/ext/0/model/presign/file", q, nil)
}

// AddFile attaches a previously uploaded temporary file to the site model.
func (c *ManageClient) AddFile(ctx context.Context, siteID, path, presignRequestID string) (*CallResult, error) {
	body := map[string]string{
		"siteId":           siteID,
		"path":             path,
		"presignRequestId": presignRequestID,
	}
	return c.do(ctx, http.MethodPost, "/ext/0/model/command/add/file", nil, body)
}

// Download fetches an absolute (presigned) URL with the current credential.
func (c *ManageClient) Download(ctx context.Context, rawURL string) (*CallResult, error) {
	return c.doURL(ctx, http.MethodGet, rawURL, "", nil, true)
}

// UploadRaw PUTs raw bytes to a presigned upload URL. The credential is
// deliberately not attached: presigned URLs carry their own authorization
// in query parameters.
func (c *ManageClient) UploadRaw(ctx context.Context, rawURL string, contents []byte) (*CallResult, error) {
	return c.doURL(ctx, http.MethodPut, rawURL, "application/octet-stream", contents, false)
}

func (c *ManageClient) do(ctx context.Context, method, path string, query url.Values, body any) (*CallResult, error) {
	callURL := c.baseURL + path
	if len(query) > 0 {
		callURL += "?" + query.Encode()
	}

	var payload []byte
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = b
		contentType = "application/json"
	}

	return c.doURL(ctx, method, callURL, contentType, payload, true)
}

func (c *ManageClient) doURL(ctx context.Context, method, callURL, contentType string, payload []byte, authorize bool) (*CallResult, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, callURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build management request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if authorize {
		idToken, err := c.creds.Get()
		if err != nil {
			return nil, err
		}
		// The API expects the raw id token, not a Bearer-prefixed one.
		req.Header.Set("Authorization", idToken)
		if c.apiKey != "" {
			req.Header.Set("Api-Key", c.apiKey)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call management api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read management response: %w", err)
	}

	c.logger.Info("management api call",
		"method", method,
		"url", redactQuery(callURL),
		"status", resp.StatusCode,
		"bytes", len(respBody),
	)

	return &CallResult{Method: method, URL: callURL, Status: resp.StatusCode, Body: respBody}, nil
}

func pageSizeOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxPageSize
	}
	return n
}

// redactQuery strips query strings from logged URLs; presigned URLs embed
// credentials there.
func redactQuery(rawURL string) string {
	if idx := strings.IndexByte(rawURL, '?'); idx != -1 {
		return rawURL[:idx]
	}
	return rawURL
}
