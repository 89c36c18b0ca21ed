package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"sitegw/relay"
)

type stubToken struct{ err error }

func (t *stubToken) Wait() bool                     { return true }
func (t *stubToken) WaitTimeout(time.Duration) bool { return true }
func (t *stubToken) Error() error                   { return t.err }
func (t *stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// stubBroker is the minimal fake broker client the status handler needs.
type stubBroker struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connected    bool
	disconnected bool
	handler      mqtt.MessageHandler
	topic        string
}

func (c *stubBroker) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return &stubToken{}
}

func (c *stubBroker) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.connected = false
}

func (c *stubBroker) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = topic
	c.handler = cb
	return &stubToken{}
}

func (c *stubBroker) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *stubBroker) IsConnectionOpen() bool                              { return c.IsConnected() }
func (c *stubBroker) Publish(string, byte, bool, interface{}) mqtt.Token  { return &stubToken{} }
func (c *stubBroker) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &stubToken{}
}
func (c *stubBroker) Unsubscribe(...string) mqtt.Token        { return &stubToken{} }
func (c *stubBroker) AddRoute(string, mqtt.MessageHandler)    {}
func (c *stubBroker) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *stubBroker) deliver(payload string) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(c, &stubMessage{payload: []byte(payload)})
	}
}

func (c *stubBroker) wasDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *stubBroker) subscribedTopic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic
}

type stubMessage struct{ payload []byte }

func (m *stubMessage) Duplicate() bool   { return false }
func (m *stubMessage) Qos() byte         { return 0 }
func (m *stubMessage) Retained() bool    { return false }
func (m *stubMessage) Topic() string     { return "" }
func (m *stubMessage) MessageID() uint16 { return 0 }
func (m *stubMessage) Payload() []byte   { return m.payload }
func (m *stubMessage) Ack()              {}

// brokerRecorder hands out stub brokers and remembers them in order.
type brokerRecorder struct {
	mu      sync.Mutex
	brokers []*stubBroker
}

func (r *brokerRecorder) factory(opts *mqtt.ClientOptions) mqtt.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &stubBroker{opts: opts}
	r.brokers = append(r.brokers, b)
	return b
}

func (r *brokerRecorder) get(i int) *stubBroker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.brokers) {
		return nil
	}
	return r.brokers[i]
}

func newTestApp(t *testing.T, opts ...AppOption) *App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApp(testConfig(), logger, opts...)
	if err != nil {
		t.Fatalf("NewApp returned error: %v", err)
	}
	return app
}

func TestLoginRedirectsToHostedUI(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/login", nil)

	app.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.Contains(loc, "auth.example.com/login") || !strings.Contains(loc, "state=") {
		t.Fatalf("unexpected redirect target %q", loc)
	}
}

func TestCallbackStateMismatchIsForbidden(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/callback?code=goodcode&state=WRONG", nil)

	app.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCallbackSuccessStoresCredentialAndRedirects(t *testing.T) {
	srv, _ := stubTokenEndpoint(t,
		`{"access_token":"a1","refresh_token":"r1"}`,
		`{"access_token":"a2","id_token":"i1"}`,
	)

	app := newTestApp(t)
	app.Flow.tokens.oauth.Endpoint.TokenURL = srv.URL + "/oauth2/token"

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/callback?code=goodcode&state="+app.Flow.state, nil)
	app.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/success" {
		t.Fatalf("expected redirect to /success, got %q", loc)
	}
	if got, _ := app.Creds.Get(); got != "i1" {
		t.Fatalf("expected stored credential i1, got %q", got)
	}
}

func TestListRendersSitesTable(t *testing.T) {
	manage, _ := stubManageAPI(t, http.StatusOK,
		`{"items":[{"siteId":"S1","name":"Plant north"}],"nextToken":"tok2"}`)

	app := newTestApp(t)
	app.Manage.baseURL = manage.URL
	app.Creds.Set("i1")

	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/list", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"S1", "Plant north", "status?siteId=S1", "nextToken=tok2"} {
		if !strings.Contains(body, want) {
			t.Fatalf("list page missing %q:\n%s", want, body)
		}
	}
}

func TestListWithoutLoginIsUnauthorized(t *testing.T) {
	app := newTestApp(t)

	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/list", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStatusWithoutLoginIsUnauthorized(t *testing.T) {
	app := newTestApp(t)

	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status?siteId=S1", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStatusWithoutSiteIsBadRequest(t *testing.T) {
	rec := &brokerRecorder{}
	app := newTestApp(t, WithRelayOptions(relay.WithClientFactory(rec.factory)))
	app.Creds.Set(unsignedToken(t, `{"email":"alice@example.com"}`))

	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStatusRelayForwardsBrokerMessages(t *testing.T) {
	rec := &brokerRecorder{}
	app := newTestApp(t, WithRelayOptions(relay.WithClientFactory(rec.factory)))
	app.Creds.Set(unsignedToken(t, `{"email":"alice@example.com"}`))
	defer app.Shutdown()

	ts := httptest.NewServer(app.Routes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial local websocket: %v", err)
	}
	defer conn.Close()

	resp, err := http.Get(ts.URL + "/status?siteId=S1")
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /status, got %d", resp.StatusCode)
	}

	broker := rec.get(0)
	if broker == nil {
		t.Fatalf("expected a broker connection")
	}
	if got := broker.subscribedTopic(); got != "prod-ext/site:S1/+/status" {
		t.Fatalf("unexpected topic %q", got)
	}

	// The sink slot is installed asynchronously after the handshake, so
	// redeliver until the frame comes through.
	got := make(chan string, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err == nil {
			got <- string(data)
		}
		close(got)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case text, ok := <-got:
			if !ok {
				t.Fatalf("websocket read failed before a message arrived")
			}
			if text != "m1" {
				t.Fatalf("expected verbatim payload m1, got %q", text)
			}
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("message never reached the websocket client")
		}
		broker.deliver("m1")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatusReplacesExistingSession(t *testing.T) {
	rec := &brokerRecorder{}
	app := newTestApp(t, WithRelayOptions(relay.WithClientFactory(rec.factory)))
	app.Creds.Set(unsignedToken(t, `{"email":"alice@example.com"}`))
	defer app.Shutdown()

	router := app.Routes()
	for _, site := range []string{"S1", "S2"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status?siteId="+site, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status %s: expected 200, got %d", site, w.Code)
		}
	}

	if !rec.get(0).wasDisconnected() {
		t.Fatalf("first session must be torn down when a second one starts")
	}
	if rec.get(1).wasDisconnected() {
		t.Fatalf("second session must stay up")
	}
}

func TestShutdownClosesSession(t *testing.T) {
	rec := &brokerRecorder{}
	app := newTestApp(t, WithRelayOptions(relay.WithClientFactory(rec.factory)))
	app.Creds.Set(unsignedToken(t, `{"email":"alice@example.com"}`))

	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status?siteId=S1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	app.Shutdown()

	if !rec.get(0).wasDisconnected() {
		t.Fatalf("shutdown must disconnect the broker client")
	}
}
