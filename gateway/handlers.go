package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"sitegw/relay"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config Config
	Logger *slog.Logger
	Creds  *CredentialStore
	Flow   *AuthFlow
	Manage *ManageClient
	Relay  *relay.Server

	relayOpts []relay.Option
	sessionMu sync.Mutex
	session   *relay.Session
}

// AppOption adjusts app construction.
type AppOption func(*App)

// WithRelayOptions forwards options to every relay session the app starts.
func WithRelayOptions(opts ...relay.Option) AppOption {
	return func(a *App) { a.relayOpts = opts }
}

// NewApp wires together the application state from configuration.
func NewApp(cfg Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds := NewCredentialStore()
	tokens := NewTokenExchanger(cfg, logger)

	app := &App{
		Config: cfg,
		Logger: logger,
		Creds:  creds,
		Flow:   NewAuthFlow(tokens, creds, logger),
		Manage: NewManageClient(cfg, creds, logger),
		Relay:  relay.NewServer(logger),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app, nil
}

// Shutdown tears down the live relay session, if any.
func (a *App) Shutdown() {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
}

// handleLogin forwards the browser to the hosted login page.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, a.Flow.BeginLogin(), http.StatusFound)
}

// handleCallback completes the authorization-code flow.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if err := a.Flow.HandleCallback(r.Context(), code, state); err != nil {
		a.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, "/success", http.StatusFound)
}

func (a *App) handleSuccess(w http.ResponseWriter, r *http.Request) {
	a.render(w, "success", nil)
}

func (a *App) handleListSites(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxPageSize := intParam(q, "maxPageSize", DefaultMaxPageSize)

	res, err := a.Manage.ListSites(r.Context(), maxPageSize, q.Get("nextToken"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	var page SitePage
	_ = res.JSON(&page) // non-2xx bodies simply render empty tables

	nextPage := ""
	if page.NextToken != "" {
		nextPage = fmt.Sprintf("list?nextToken=%s&maxPageSize=%d", url.QueryEscape(page.NextToken), maxPageSize)
	}

	a.render(w, "sites", struct {
		Result   *CallResult
		Page     SitePage
		NextPage string
	}{res, page, nextPage})
}

func (a *App) handleListPoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	siteID := q.Get("siteId")
	maxPageSize := intParam(q, "maxPageSize", DefaultMaxPageSize)
	since := int64Param(q, "since", 0)

	res, err := a.Manage.ListPoints(r.Context(), siteID, maxPageSize, q.Get("nextToken"), since)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	var page PointPage
	_ = res.JSON(&page)

	var minSeq, maxSeq int64
	for i, p := range page.Items {
		if i == 0 || p.SequenceID < minSeq {
			minSeq = p.SequenceID
		}
		if i == 0 || p.SequenceID > maxSeq {
			maxSeq = p.SequenceID
		}
	}

	nextPage := ""
	if page.NextToken != "" {
		nextPage = fmt.Sprintf("points?siteId=%s&nextToken=%s&maxPageSize=%d&since=%d",
			url.QueryEscape(siteID), url.QueryEscape(page.NextToken), maxPageSize, since)
	}

	a.render(w, "points", struct {
		Title         string
		Result        *CallResult
		SiteID        string
		Count         int
		MinSequenceID int64
		MaxSequenceID int64
		NextPage      string
	}{
		Title:         "List logpoints of site " + siteID,
		Result:        res,
		SiteID:        siteID,
		Count:         len(page.Items),
		MinSequenceID: minSeq,
		MaxSequenceID: maxSeq,
		NextPage:      nextPage,
	})
}

type fileRow struct {
	File       ModelFile
	Timestamp  string
	EncodedURL string
}

func (a *App) handleListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	siteID := q.Get("siteId")
	maxPageSize := intParam(q, "maxPageSize", DefaultMaxPageSize)

	res, err := a.Manage.ListFiles(r.Context(), siteID, maxPageSize, q.Get("nextToken"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	var page FilePage
	_ = res.JSON(&page)

	var totalSize int64
	rows := make([]fileRow, 0, len(page.Items))
	for _, f := range page.Items {
		totalSize += f.Size
		rows = append(rows, fileRow{
			File:       f,
			Timestamp:  time.UnixMilli(f.TimestampMs).UTC().Format(time.RFC3339),
			EncodedURL: url.QueryEscape(f.DownloadURL),
		})
	}

	nextPage := ""
	if page.NextToken != "" {
		nextPage = fmt.Sprintf("files?siteId=%s&nextToken=%s&maxPageSize=%d",
			url.QueryEscape(siteID), url.QueryEscape(page.NextToken), maxPageSize)
	}

	a.render(w, "files", struct {
		Title     string
		Result    *CallResult
		SiteID    string
		Page      FilePage
		Rows      []fileRow
		TotalSize int64
		NewPath   int64
		NextPage  string
	}{
		Title:     "List files of site " + siteID,
		Result:    res,
		SiteID:    siteID,
		Page:      page,
		Rows:      rows,
		TotalSize: totalSize,
		NewPath:   time.Now().UnixMilli(),
		NextPage:  nextPage,
	})
}

func (a *App) handleProtection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	siteID := q.Get("siteId")
	disable := q.Get("disable") == "true"

	res, err := a.Manage.SetProtection(r.Context(), siteID, disable)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	body := `{"siteId":"` + siteID + `","protection":{}}`
	if !disable {
		body = `{"siteId":"` + siteID + `","protection":{"prefixes":{"protectedFolder/":"companyName"}}}`
	}

	a.render(w, "protection", struct {
		Title       string
		Result      *CallResult
		RequestBody string
	}{"Set directory protection for site " + siteID, res, body})
}

func (a *App) handleDownload(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")

	res, err := a.Manage.Download(r.Context(), rawURL)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	a.render(w, "download", struct {
		Title  string
		Result *CallResult
	}{"Downloaded file at " + rawURL, res})
}

func (a *App) handlePresign(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	siteID := q.Get("siteId")
	path := q.Get("path")

	res, err := a.Manage.PresignFile(r.Context(), siteID, path)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	var presign Presign
	_ = res.JSON(&presign)

	a.render(w, "presign", struct {
		Title      string
		Result     *CallResult
		SiteID     string
		Path       string
		RequestID  string
		EncodedURL string
	}{
		Title:      fmt.Sprintf("Presigning path %s of site %s", path, siteID),
		Result:     res,
		SiteID:     siteID,
		Path:       path,
		RequestID:  presign.RequestID,
		EncodedURL: url.QueryEscape(presign.URL),
	})
}

func (a *App) handleUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	siteID := q.Get("siteId")
	path := q.Get("path")
	requestID := q.Get("presignRequestId")
	uploadURL := q.Get("uploadUrl")

	contents := "test1\ntest2\n"
	res, err := a.Manage.UploadRaw(r.Context(), uploadURL, []byte(contents))
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	a.render(w, "upload", struct {
		Title       string
		Result      *CallResult
		SiteID      string
		Path        string
		RequestID   string
		RequestBody string
	}{
		Title:       fmt.Sprintf("Uploading path %s of site %s as temporary file", path, siteID),
		Result:      res,
		SiteID:      siteID,
		Path:        path,
		RequestID:   requestID,
		RequestBody: contents,
	})
}

func (a *App) handleAddFile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	siteID := q.Get("siteId")
	path := q.Get("path")
	requestID := q.Get("presignRequestId")

	res, err := a.Manage.AddFile(r.Context(), siteID, path, requestID)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	a.render(w, "addfile", struct {
		Title       string
		Result      *CallResult
		SiteID      string
		RequestBody string
	}{
		Title:       fmt.Sprintf("Adding previously added temporary path %s to site %s", path, siteID),
		Result:      res,
		SiteID:      siteID,
		RequestBody: fmt.Sprintf(`{"siteId":%q,"path":%q,"presignRequestId":%q}`, siteID, path, requestID),
	})
}

// handleStatus starts a live telemetry relay for a site and serves the page
// that consumes it. A second status request replaces any running session:
// the old one is closed before the new one connects.
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("siteId")

	idToken, err := a.Creds.Get()
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	subject, err := a.Creds.Subject()
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	sess := relay.NewSession(relay.Config{
		BrokerDomain: a.Config.BrokerDomain,
		SiteID:       siteID,
		IDToken:      idToken,
		Subject:      subject,
	}, a.Relay, a.Logger, a.relayOpts...)

	a.sessionMu.Lock()
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	if err := sess.Start(r.Context()); err != nil {
		a.sessionMu.Unlock()
		a.renderError(w, r, err)
		return
	}
	a.session = sess
	a.Relay.OnClose(sess.Close)
	a.sessionMu.Unlock()

	a.render(w, "status", struct {
		Title        string
		Topic        string
		WebSocketURL string
	}{
		Title:        "Live status of site " + siteID,
		Topic:        fmt.Sprintf("prod-ext/site:%s/+/status", siteID),
		WebSocketURL: "ws://" + r.Host + "/ws",
	})
}

func (a *App) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		a.Logger.Error("template error", "template", name, "error", err)
	}
}

// renderError maps an error to a status code and renders it as a page.
// Upstream failures are shown to the user, never silently swallowed.
func (a *App) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	var exchange *TokenExchangeError
	switch {
	case errors.Is(err, ErrStateMismatch):
		status = http.StatusForbidden
	case errors.Is(err, ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, relay.ErrMissingContext):
		status = http.StatusBadRequest
	case errors.As(err, &exchange):
		status = http.StatusBadGateway
	}

	a.Logger.Error("request failed",
		"request_id", RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if terr := pageTemplates.ExecuteTemplate(w, "error", struct{ Message string }{err.Error()}); terr != nil {
		a.Logger.Error("template error", "template", "error", "error", terr)
	}
}

func intParam(q url.Values, key string, fallback int) int {
	if v := q.Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func int64Param(q url.Values, key string, fallback int64) int64 {
	if v := q.Get(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
