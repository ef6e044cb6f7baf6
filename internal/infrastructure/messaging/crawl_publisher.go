// Package messaging mirrors crawler state onto a pub/sub channel so other
// processes (dashboards, a second sniffer instance) can follow a crawl.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/crawler"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// Publisher sends a payload to a channel. The redis Cache implements it.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// CrawlEnvelope is the wire form of one crawler state.
type CrawlEnvelope struct {
	InstanceID string    `json:"instanceId"`
	Sequence   uint64    `json:"sequence"`
	Status     string    `json:"status"`
	Discovered int       `json:"discovered"`
	Pending    int       `json:"pending"`
	LastError  string    `json:"lastError,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DecodeCrawlEnvelope parses a payload received from the channel.
func DecodeCrawlEnvelope(payload []byte) (CrawlEnvelope, error) {
	var env CrawlEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return CrawlEnvelope{}, fmt.Errorf("decode crawl envelope: %w", err)
	}
	return env, nil
}

// CrawlStatePublisherConfig contains configuration for the publisher.
type CrawlStatePublisherConfig struct {
	Publisher Publisher
	Channel   string

	// InstanceID identifies this process; generated when empty.
	InstanceID string

	// PublishTimeout bounds a single publish.
	PublishTimeout time.Duration

	Logger *logger.Logger
}

// CrawlStatePublisher forwards every crawler state it reads to the channel.
// Publish failures are logged and do not stop the stream.
type CrawlStatePublisher struct {
	publisher  Publisher
	channel    string
	instanceID string
	timeout    time.Duration
	logger     *logger.Logger
	seq        uint64
}

// NewCrawlStatePublisher creates a publisher.
func NewCrawlStatePublisher(config CrawlStatePublisherConfig) (*CrawlStatePublisher, error) {
	if config.Publisher == nil {
		return nil, errors.New("messaging: publisher is required")
	}
	if config.Channel == "" {
		return nil, errors.New("messaging: channel is required")
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}
	return &CrawlStatePublisher{
		publisher:  config.Publisher,
		channel:    config.Channel,
		instanceID: config.InstanceID,
		timeout:    config.PublishTimeout,
		logger:     config.Logger.With(logger.Component("crawl_publisher")),
	}, nil
}

// InstanceID returns the identifier stamped on every envelope.
func (p *CrawlStatePublisher) InstanceID() string {
	return p.instanceID
}

// Run publishes states until a terminal state has been published, the stream
// closes or ctx is cancelled.
func (p *CrawlStatePublisher) Run(ctx context.Context, states <-chan crawler.CrawlState) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			p.publish(ctx, s)
			if s.Status.IsTerminal() {
				return
			}
		}
	}
}

func (p *CrawlStatePublisher) publish(ctx context.Context, s crawler.CrawlState) {
	p.seq++
	env := CrawlEnvelope{
		InstanceID: p.instanceID,
		Sequence:   p.seq,
		Status:     s.Status.String(),
		Discovered: s.DiscoveredCount(),
		Pending:    s.PendingCount,
		Timestamp:  s.Timestamp,
	}
	if s.LastError != nil {
		env.LastError = s.LastError.Error()
	}

	payload, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("failed to encode crawl state", logger.Err(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.publisher.Publish(pubCtx, p.channel, payload); err != nil {
		p.logger.Warn("failed to publish crawl state",
			logger.String("channel", p.channel),
			logger.CrawlStatus(env.Status),
			logger.Err(err),
		)
	}
}
