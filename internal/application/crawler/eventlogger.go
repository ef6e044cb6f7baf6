package crawler

import (
	"context"
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// EventLogger раз в interval пишет в лог последний снимок краулера,
// если с прошлой записи пришёл новый. Терминальное состояние логируется сразу.
type EventLogger struct {
	logger   *logger.Logger
	interval time.Duration
}

// NewEventLogger создаёт логгер событий; interval <= 0 означает одну секунду.
func NewEventLogger(log *logger.Logger, interval time.Duration) *EventLogger {
	if log == nil {
		log = logger.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &EventLogger{
		logger:   log.With(logger.Component("crawler_events")),
		interval: interval,
	}
}

// Run читает поток состояний до терминального состояния, закрытия потока
// или отмены ctx.
func (l *EventLogger) Run(ctx context.Context, states <-chan CrawlState) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	var (
		pending CrawlState
		dirty   bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				l.logger.Info("crawler state stream closed")
				return
			}
			if s.Status.IsTerminal() {
				l.log(s)
				return
			}
			pending, dirty = s, true
		case <-ticker.C:
			if dirty {
				l.log(pending)
				dirty = false
			}
		}
	}
}

func (l *EventLogger) log(s CrawlState) {
	l.logger.Info("crawler status",
		logger.CrawlStatus(s.Status.String()),
		logger.Int("discovered", s.DiscoveredCount()),
		logger.Int("pending", s.PendingCount),
	)
	if s.Status == StatusFailed && s.LastError != nil {
		l.logger.Error("crawler entered failed state", logger.Err(s.LastError))
	}
}
