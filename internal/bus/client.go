package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/bellgate/internal/metrics"
)

// Defaults for the bounded connect/publish windows.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second

	// DefaultLiveRetries caps retry attempts for live (non-queued) delivery.
	// Queued redelivery is the reconciler's job.
	DefaultLiveRetries = 3

	retryBaseDelay = time.Second

	qosAtLeastOnce byte = 1
)

// Config carries broker connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool

	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	// RetryBaseDelay is the unit of the linear backoff between publish
	// retries. Defaults to one second.
	RetryBaseDelay time.Duration
}

// pahoClient is the slice of mqtt.Client the engine uses; a fake stands in
// for it in tests.
type pahoClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// Client owns the broker connection lifecycle. Connections are reused across
// publishes while healthy; concurrent callers needing a connection coalesce
// through a singleflight group so only one dial is ever in flight.
type Client struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	conn    pahoClient
	connect singleflight.Group

	// dial builds the underlying MQTT client; overridden in tests.
	dial func() pahoClient
}

// NewClient creates a delivery engine for the given broker settings.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = retryBaseDelay
	}
	c := &Client{cfg: cfg, log: log}
	c.dial = c.newPahoClient
	return c
}

func (c *Client) newPahoClient() pahoClient {
	scheme := "tcp"
	if c.cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Host, c.cfg.Port)).
		SetClientID("bellgate-" + uuid.NewString()[:8]).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetKeepAlive(60 * time.Second).
		SetCleanSession(true).
		SetAutoReconnect(false)
	if c.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return mqtt.NewClient(opts)
}

// acquire returns a connected client, dialing if necessary. Concurrent
// acquires share a single connection attempt.
func (c *Client) acquire(ctx context.Context) (pahoClient, error) {
	c.mu.Lock()
	if c.conn != nil && c.conn.IsConnectionOpen() {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	v, err, _ := c.connect.Do("connect", func() (any, error) {
		c.mu.Lock()
		if c.conn != nil && c.conn.IsConnectionOpen() {
			conn := c.conn
			c.mu.Unlock()
			return conn, nil
		}
		c.mu.Unlock()

		conn := c.dial()
		token := conn.Connect()
		if !token.WaitTimeout(c.cfg.ConnectTimeout) {
			conn.Disconnect(0)
			return nil, fmt.Errorf("%w after %s", ErrConnectTimeout, c.cfg.ConnectTimeout)
		}
		if err := token.Error(); err != nil {
			conn.Disconnect(0)
			return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.log.Info("mqtt connected", zap.String("host", c.cfg.Host))
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.(pahoClient), nil
}

// drop closes the given connection and forgets it if it is the cached one.
// Called on publish failures so a wedged connection is never reused.
func (c *Client) drop(conn pahoClient) {
	conn.Disconnect(250)
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

// Publish sends one JSON payload at QoS 1. The contract ends at successful
// handoff to the bus: the broker, not this client, guarantees the appliance
// eventually sees the message. On timeout or broker error the connection is
// closed before the typed error is returned.
func (c *Client) Publish(ctx context.Context, topic string, payload any) error {
	start := time.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}

	conn, err := c.acquire(ctx)
	if err != nil {
		metrics.ObserveBusPublish(topic, "connect_error", start)
		return err
	}

	token := conn.Publish(topic, qosAtLeastOnce, false, body)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		c.drop(conn)
		metrics.ObserveBusPublish(topic, "timeout", start)
		return fmt.Errorf("publish %s: %w after %s", topic, ErrPublishTimeout, c.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.drop(conn)
		metrics.ObserveBusPublish(topic, "error", start)
		return fmt.Errorf("publish %s: %w: %w", topic, ErrPublishFailed, err)
	}

	metrics.ObserveBusPublish(topic, "ok", start)
	c.log.Debug("published", zap.String("topic", topic), zap.Int("bytes", len(body)))
	return nil
}

// PublishWithRetry attempts Publish up to maxRetries times with linear
// backoff (base delay times the attempt number). The last delivery error is
// returned when every attempt fails.
func (c *Client) PublishWithRetry(ctx context.Context, topic string, payload any, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(maxRetries-1), linearBackoff(c.cfg.RetryBaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.Publish(ctx, topic, payload)
		if err == nil {
			return nil
		}
		c.log.Warn("publish attempt failed",
			zap.String("topic", topic),
			zap.Int("attempt", attempt),
			zap.Int("maxRetries", maxRetries),
			zap.Error(err),
		)
		if IsDeliveryError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// HealthCheck verifies the broker is reachable by ensuring a live connection.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.acquire(ctx)
	return err
}

// Close releases the broker connection if one is open.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Disconnect(250)
	}
}

func linearBackoff(base time.Duration) retry.Backoff {
	var attempt int
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * base, false
	})
}
