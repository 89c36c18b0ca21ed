package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrMissingContext means a session was requested without the identifiers
// it needs; the broker is never contacted in that case.
var ErrMissingContext = errors.New("relay requires an id token and a site id")

// Quiesce window for in-flight traffic on disconnect, in milliseconds.
const disconnectQuiesce = 250

// Sink receives forwarded broker messages. The local WebSocket server is
// the production implementation.
type Sink interface {
	Send(text string) error
	Close() error
}

// ClientFactory builds the broker client from prepared options. Tests
// substitute a fake; production uses mqtt.NewClient.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Config identifies what a session subscribes to and as whom.
type Config struct {
	// BrokerDomain hosts the MQTT-over-WSS endpoint at /mqtt.
	BrokerDomain string
	// SiteID scopes the subscription to one site.
	SiteID string
	// IDToken authorizes the broker connection via a query parameter.
	IDToken string
	// Subject seeds the broker client id; combined with the connect time
	// it stays unique across reconnects by the same user.
	Subject string
}

// Session is one live bridge from a site-scoped broker subscription to the
// sink. Lifecycle: Start connects and subscribes, then forwards each
// message payload verbatim until either side closes; Close tears down
// both sides. Sessions never reconnect; a failed one is discarded.
type Session struct {
	cfg       Config
	sink      Sink
	logger    *slog.Logger
	newClient ClientFactory
	now       func() time.Time

	client    mqtt.Client
	messages  chan string
	done      chan struct{}
	closeOnce sync.Once
}

// Option adjusts session construction.
type Option func(*Session)

// WithClientFactory overrides how the broker client is built.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Session) { s.newClient = f }
}

// WithClock overrides the clock used for the client id suffix.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession wires a session; Start actually connects.
func NewSession(cfg Config, sink Sink, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		newClient: mqtt.NewClient,
		now:       time.Now,
		messages:  make(chan string, 16),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start connects to the broker, subscribes to the site's status topic, and
// begins forwarding. On any transport failure the session is terminal and
// the error is returned; nothing retries.
func (s *Session) Start(ctx context.Context) error {
	if s.cfg.IDToken == "" || s.cfg.SiteID == "" {
		return ErrMissingContext
	}

	brokerURL := fmt.Sprintf("wss://%s/mqtt?token=%s&contextType=ext-site&contextId=%s",
		s.cfg.BrokerDomain, url.QueryEscape(s.cfg.IDToken), url.QueryEscape(s.cfg.SiteID))
	clientID := fmt.Sprintf("prod-user-%s-%d", s.cfg.Subject, s.now().UnixMilli())

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("broker connection lost", "site", s.cfg.SiteID, "error", err)
		s.Close()
	})

	s.client = s.newClient(opts)
	if err := s.wait(ctx, s.client.Connect()); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	topic := fmt.Sprintf("prod-ext/site:%s/+/status", s.cfg.SiteID)
	if err := s.wait(ctx, s.client.Subscribe(topic, 0, s.onMessage)); err != nil {
		s.client.Disconnect(disconnectQuiesce)
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	s.logger.Info("relay session started", "site", s.cfg.SiteID, "topic", topic, "client_id", clientID)
	go s.forward()
	return nil
}

// onMessage runs on the broker client's I/O context; it hands the payload
// to the forwarding goroutine rather than touching the sink directly.
func (s *Session) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case s.messages <- string(msg.Payload()):
	case <-s.done:
	}
}

func (s *Session) forward() {
	for {
		select {
		case text := <-s.messages:
			if err := s.sink.Send(text); err != nil {
				s.logger.Error("forward to websocket failed", "site", s.cfg.SiteID, "error", err)
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close tears down both sides of the bridge. Safe to call from any side
// and any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.client != nil && s.client.IsConnected() {
			s.client.Disconnect(disconnectQuiesce)
		}
		if err := s.sink.Close(); err != nil {
			s.logger.Debug("sink close", "error", err)
		}
		s.logger.Info("relay session closed", "site", s.cfg.SiteID)
	})
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
