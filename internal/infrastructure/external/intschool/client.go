// Package intschool implements the school information API client.
// Every call returns a school.Result: remote business errors, transport
// failures and undecodable bodies are values, never panics or global events.
package intschool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/school"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/circuitbreaker"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://pcd.intschool.cn"
	// DefaultSchoolID is sent in x-schoolid when none is configured.
	DefaultSchoolID = "8"

	headerToken    = "X-Token"
	headerSchoolID = "x-schoolid"

	pathCurrentSchoolYear = "/api/semester/currentSchoolYear"
	pathAttendance        = "/api/attendance/statistic/student/"
	pathCurriculum        = "/api/curriculum/student/"

	maxBodyBytes = 4 << 20
	maxBodyInErr = 512
)

// Config contains configuration for the school API client.
type Config struct {
	BaseURL  string
	SchoolID string

	// XToken authenticates every request. Obtaining it is out of scope.
	XToken string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// MaxAttempts is the number of attempts for retryable failures (>= 1).
	MaxAttempts uint
	RetryDelay  time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns sensible defaults for the given token.
func DefaultConfig(xToken string) Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		SchoolID:    DefaultSchoolID,
		XToken:      xToken,
		Timeout:     15 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

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

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithBreakerOptions tunes the default breaker. Ignored with WithBreaker.
func WithBreakerOptions(opts ...circuitbreaker.Option) Option {
	return func(c *Client) { c.breakerOpts = append(c.breakerOpts, opts...) }
}

// WithBreakerHook is called after the client logs a breaker transition.
func WithBreakerHook(fn func(name string, from, to circuitbreaker.State)) Option {
	return func(c *Client) { c.breakerHook = fn }
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the school API client. It is safe for concurrent use; the token
// is fixed at construction.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
	breaker    *circuitbreaker.CircuitBreaker
	mapper     *Mapper

	breakerOpts []circuitbreaker.Option
	breakerHook func(name string, from, to circuitbreaker.State)
}

var _ school.Client = (*Client)(nil)

// NewClient creates a client. The token is required.
func NewClient(config Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(config.XToken) == "" {
		return nil, shared.NewDomainError("intschool", "NewClient", shared.ErrInvalidArgument, "X-Token is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.SchoolID == "" {
		config.SchoolID = DefaultSchoolID
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 1
	}

	c := &Client{
		config: config,
		mapper: NewMapper(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	c.logger = c.logger.With(logger.Component("intschool_client"))
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: config.Timeout}
	}
	if c.breaker == nil {
		opts := append([]circuitbreaker.Option{circuitbreaker.WithIsFailure(countsAgainstBreaker)}, c.breakerOpts...)
		c.breaker = circuitbreaker.SchoolAPIBreaker(c.onBreakerStateChange, opts...)
	}

	c.logger.Debug("school api client configured",
		logger.String("base_url", config.BaseURL),
		logger.String("school_id", config.SchoolID),
		logger.Secret("x_token", config.XToken),
	)
	return c, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetCurrentSchoolYear fetches the current school year.
func (c *Client) GetCurrentSchoolYear(ctx context.Context) school.Result[school.SchoolYear] {
	return fetch(ctx, c, pathCurrentSchoolYear, nil, c.mapper.SchoolYearFromDTO)
}

// GetAttendance fetches the attendance statistic of a student for window.
func (c *Client) GetAttendance(ctx context.Context, studentID, schoolYearID string, window attendance.TimeWindow) school.Result[attendance.Report] {
	return fetch(ctx, c, pathAttendance+url.PathEscape(schoolYearID), studentWindowQuery(studentID, window),
		func(dto AttendanceDTO) (attendance.Report, error) {
			return c.mapper.ReportFromDTO(dto), nil
		})
}

// GetStudentCurriculum fetches the timetable of a student for window.
func (c *Client) GetStudentCurriculum(ctx context.Context, studentID, schoolYearID string, window attendance.TimeWindow) school.Result[school.Curriculum] {
	return fetch(ctx, c, pathCurriculum+url.PathEscape(schoolYearID), studentWindowQuery(studentID, window),
		func(dto CurriculumDTO) (school.Curriculum, error) {
			return c.mapper.CurriculumFromDTO(dto), nil
		})
}

func studentWindowQuery(studentID string, window attendance.TimeWindow) url.Values {
	q := url.Values{}
	q.Set("studentId", studentID)
	q.Set("start", strconv.FormatInt(timeutil.ToUnixMilli(window.Start), 10))
	q.Set("end", strconv.FormatInt(timeutil.ToUnixMilli(window.End), 10))
	return q
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// fetch performs a GET and decodes the body into D before mapping it to T.
func fetch[D, T any](ctx context.Context, c *Client, path string, query url.Values, mapFn func(D) (T, error)) school.Result[T] {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return failure[T](path, err)
	}

	var dto D
	if err := json.Unmarshal(body, &dto); err != nil {
		return school.Unmappable[T](&school.UnmappableError{Path: path, Body: truncate(body), Err: err})
	}
	value, err := mapFn(dto)
	if err != nil {
		return school.Unmappable[T](&school.UnmappableError{Path: path, Body: truncate(body), Err: err})
	}
	return school.Success(value)
}

func failure[T any](path string, err error) school.Result[T] {
	var (
		remote     *school.RemoteError
		transport  *school.TransportError
		unmappable *school.UnmappableError
	)
	switch {
	case errors.As(err, &remote):
		return school.Remote[T](remote)
	case errors.As(err, &unmappable):
		return school.Unmappable[T](unmappable)
	case errors.As(err, &transport):
		return school.Transport[T](transport)
	default:
		// circuit open or retry bookkeeping
		return school.Transport[T](&school.TransportError{Path: path, Err: err})
	}
}

// get performs the request through the circuit breaker with retries on
// transport failures, 429 and 5xx. The returned error is the last attempt's
// typed error.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var (
		body    []byte
		lastErr error
	)

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		retryErr := retry.Do(
			func() error {
				b, err := c.doOnce(ctx, path, query)
				body, lastErr = b, err
				if err != nil && !isRetryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			},
			retry.Attempts(c.config.MaxAttempts),
			retry.Delay(c.config.RetryDelay),
			retry.MaxDelay(c.config.MaxDelay),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				c.logger.Warn("school api request failed, retrying",
					logger.String("path", path),
					logger.Int("attempt", int(n)+1),
					logger.Err(err),
				)
			}),
		)
		if lastErr != nil {
			return lastErr
		}
		return retryErr
	})

	if lastErr != nil {
		return nil, lastErr
	}
	if err != nil {
		return nil, &school.TransportError{Path: path, Err: err}
	}
	return body, nil
}

// doOnce performs a single HTTP request.
func (c *Client) doOnce(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.config.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return nil, &school.TransportError{Path: path, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set(headerToken, c.config.XToken)
	req.Header.Set(headerSchoolID, c.config.SchoolID)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &school.TransportError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &school.TransportError{Path: path, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("school api request",
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.Latency(time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, remoteError(path, resp.StatusCode, body)
}

// remoteError decodes an error body. A 4xx body that is not the API's error
// shape is unmappable; a 5xx one is still reported as a remote failure so it
// stays retryable (gateways answer with HTML).
func remoteError(path string, status int, body []byte) error {
	var dto ErrorDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		if status >= 500 {
			return &school.RemoteError{StatusCode: status, Message: http.StatusText(status), Path: path}
		}
		return &school.UnmappableError{Path: path, Body: truncate(body), Err: err}
	}

	code := dto.Status
	if code == 0 {
		code = status
	}
	msg := dto.Text()
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &school.RemoteError{StatusCode: code, Timestamp: dto.Time(), Message: msg, Path: path}
}

func isRetryable(err error) bool {
	var transport *school.TransportError
	if errors.As(err, &transport) {
		return !errors.Is(transport.Err, context.Canceled)
	}
	var remote *school.RemoteError
	if errors.As(err, &remote) {
		return remote.StatusCode == http.StatusTooManyRequests || remote.StatusCode >= 500
	}
	return false
}

// countsAgainstBreaker keeps client-side problems (bad token, bad request,
// bad body) from opening the circuit.
func countsAgainstBreaker(err error) bool {
	return isRetryable(err)
}

func (c *Client) onBreakerStateChange(name string, from, to circuitbreaker.State) {
	c.logger.Warn("circuit breaker state changed",
		logger.String("breaker", name),
		logger.String("from", from.String()),
		logger.String("to", to.String()),
	)
	if c.breakerHook != nil {
		c.breakerHook(name, from, to)
	}
}

func truncate(body []byte) string {
	if len(body) > maxBodyInErr {
		return string(body[:maxBodyInErr]) + "..."
	}
	return string(body)
}
