// Package bark delivers notifications through a Bark push server.
package bark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/notification"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/circuitbreaker"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// DefaultServerURL is the public Bark server.
const DefaultServerURL = "https://api.day.app"

// Config contains configuration for the Bark client.
type Config struct {
	ServerURL  string
	DeviceKeys []string

	// Sound and Icon are applied when a notification leaves them empty.
	Sound string
	Icon  string

	Timeout     time.Duration
	MaxAttempts uint
	RetryDelay  time.Duration
}

// DefaultConfig returns defaults for the given device keys.
func DefaultConfig(keys ...string) Config {
	return Config{
		ServerURL:   DefaultServerURL,
		DeviceKeys:  keys,
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  time.Second,
	}
}

// Recorder observes delivery outcomes.
type Recorder interface {
	NotificationSent(level string)
	NotificationFailed(level string)
}

type nopRecorder struct{}

func (nopRecorder) NotificationSent(string)   {}
func (nopRecorder) NotificationFailed(string) {}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRecorder sets the delivery recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithBreakerHook is called after the client logs a breaker transition.
func WithBreakerHook(fn func(name string, from, to circuitbreaker.State)) Option {
	return func(c *Client) { c.breakerHook = fn }
}

// Client pushes to every configured device key.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
	recorder   Recorder
	breaker    *circuitbreaker.CircuitBreaker

	breakerHook func(name string, from, to circuitbreaker.State)
}

var _ notification.Notifier = (*Client)(nil)

// pushRequest is the JSON body of POST /push.
type pushRequest struct {
	DeviceKey string `json:"device_key"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body"`
	Level     string `json:"level,omitempty"`
	Group     string `json:"group,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Icon      string `json:"icon,omitempty"`
	URL       string `json:"url,omitempty"`
}

type pushResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewClient creates a Bark client. At least one device key is required.
func NewClient(config Config, opts ...Option) (*Client, error) {
	keys := make([]string, 0, len(config.DeviceKeys))
	for _, k := range config.DeviceKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, shared.NewDomainError("bark", "NewClient", shared.ErrInvalidArgument, "at least one device key is required")
	}
	config.DeviceKeys = keys
	if config.ServerURL == "" {
		config.ServerURL = DefaultServerURL
	}
	config.ServerURL = strings.TrimRight(config.ServerURL, "/")
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 1
	}

	c := &Client{config: config}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	c.logger = c.logger.With(logger.Component("bark"))
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: config.Timeout}
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.BarkBreaker(func(name string, from, to circuitbreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			if c.breakerHook != nil {
				c.breakerHook(name, from, to)
			}
		})
	}
	return c, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// Send pushes n to every device key concurrently and waits for all of them.
// Failures are logged and counted, never returned.
func (c *Client) Send(ctx context.Context, n notification.Notification) {
	n = n.Normalize()
	if n.Sound == "" {
		n.Sound = c.config.Sound
	}
	if n.Icon == "" {
		n.Icon = c.config.Icon
	}

	var wg sync.WaitGroup
	for _, key := range c.config.DeviceKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if err := c.SendTo(ctx, key, n); err != nil {
				c.recorder.NotificationFailed(string(n.Level))
				c.logger.Error("bark push failed",
					logger.Secret("device_key", key),
					logger.String("title", n.Title),
					logger.Err(err),
				)
				return
			}
			c.recorder.NotificationSent(string(n.Level))
		}(key)
	}
	wg.Wait()
}

// SendTo pushes n to a single device.
func (c *Client) SendTo(ctx context.Context, deviceKey string, n notification.Notification) error {
	body, err := json.Marshal(pushRequest{
		DeviceKey: deviceKey,
		Title:     n.Title,
		Body:      n.Body,
		Level:     string(n.Level),
		Group:     n.Group,
		Sound:     n.Sound,
		Icon:      n.Icon,
		URL:       n.URL,
	})
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(
			func() error { return c.post(ctx, body) },
			retry.Attempts(c.config.MaxAttempts),
			retry.Delay(c.config.RetryDelay),
			retry.MaxDelay(30*time.Second),
			retry.MaxJitter(time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				c.logger.Warn("bark push failed, retrying",
					logger.Int("attempt", int(n)+1),
					logger.Err(err),
				)
			}),
		)
	})
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ServerURL+"/push", bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrBarkFailed, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var pr pushResponse
	_ = json.Unmarshal(raw, &pr)

	if resp.StatusCode == http.StatusOK && (pr.Code == 0 || pr.Code == http.StatusOK) {
		return nil
	}

	err = fmt.Errorf("%w: status %d: %s", shared.ErrBarkFailed, resp.StatusCode, strings.TrimSpace(pr.Message))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Unrecoverable(err)
	}
	return err
}
