// Package crawler реализует сниффер студенческих ID: обход в ширину по
// расписаниям одноклассников с ограничением частоты, повторами и паузой.
//
// Обработка строго последовательная: одна горутина берёт студента из очереди,
// запрашивает его расписание и ставит в очередь всех ещё не найденных
// одноклассников. Прогресс публикуется неизменяемыми снимками CrawlState.
package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/school"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/student"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/broadcast"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// CONFIG
// ═══════════════════════════════════════════════════════════════════════════

// Config — параметры обхода.
type Config struct {
	InitialStudentID   string
	InitialStudentName string

	// Window вычисляет окно расписания заново для каждого запроса.
	Window attendance.WindowFunc

	RateLimitPerSecond int
	MaxRetries         int
	RetryDelay         time.Duration

	// AcquireTimeout ограничивает ожидание разрешения лимитера.
	AcquireTimeout time.Duration

	// PausePollInterval — как часто приостановленный цикл проверяет состояние.
	PausePollInterval time.Duration
}

// DefaultConfig возвращает значения по умолчанию: 1 запрос/с, 3 повтора,
// задержка повтора 5с, окно "эта неделя".
func DefaultConfig() Config {
	return Config{
		Window:             attendance.CrawlThisWeek.Window(timeutil.SystemClock),
		RateLimitPerSecond: 1,
		MaxRetries:         3,
		RetryDelay:         5 * time.Second,
		AcquireTimeout:     30 * time.Second,
		PausePollInterval:  200 * time.Millisecond,
	}
}

// Validate проверяет конфигурацию и возвращает все нарушения разом.
func (c Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.InitialStudentID) == "" {
		errs = append(errs, "initial student id is required")
	}
	if strings.TrimSpace(c.InitialStudentName) == "" {
		errs = append(errs, "initial student name is required")
	}
	if c.Window == nil {
		errs = append(errs, "time window is required")
	}
	if c.RateLimitPerSecond < 1 || c.RateLimitPerSecond > 100 {
		errs = append(errs, fmt.Sprintf("rate limit must be between 1 and 100 requests per second, got %d", c.RateLimitPerSecond))
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		errs = append(errs, fmt.Sprintf("max retries must be between 0 and 10, got %d", c.MaxRetries))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, "retry delay cannot be negative")
	}
	if len(errs) > 0 {
		return shared.NewDomainError("crawler", "Validate", shared.ErrValidation, strings.Join(errs, "; "))
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ═══════════════════════════════════════════════════════════════════════════

// Limiter выдаёт разрешения на запросы к API.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewRateLimiter создаёт лимитер на perSecond запросов в секунду без всплесков.
func NewRateLimiter(perSecond int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Recorder получает метрики обхода.
type Recorder interface {
	StateChanged(state CrawlState)
	Retried()
	Dropped()
}

type nopRecorder struct{}

func (nopRecorder) StateChanged(CrawlState) {}
func (nopRecorder) Retried()                {}
func (nopRecorder) Dropped()                {}

// Option настраивает StudentCrawler.
type Option func(*StudentCrawler)

// WithLimiter подменяет лимитер (по умолчанию x/time/rate).
func WithLimiter(l Limiter) Option {
	return func(c *StudentCrawler) { c.limiter = l }
}

// WithLogger задаёт логгер.
func WithLogger(l *logger.Logger) Option {
	return func(c *StudentCrawler) { c.logger = l }
}

// WithClock задаёт часы для отметок времени.
func WithClock(clock timeutil.Clock) Option {
	return func(c *StudentCrawler) { c.clock = clock }
}

// WithRecorder подключает метрики.
func WithRecorder(r Recorder) Option {
	return func(c *StudentCrawler) { c.recorder = r }
}

// ═══════════════════════════════════════════════════════════════════════════
// CRAWLER
// ═══════════════════════════════════════════════════════════════════════════

// StudentCrawler обходит граф одноклассников, начиная с одного студента.
// Запускается один раз; управляющие методы безопасны из любых горутин.
type StudentCrawler struct {
	client   school.Client
	cfg      Config
	limiter  Limiter
	clock    timeutil.Clock
	logger   *logger.Logger
	recorder Recorder
	states   *broadcast.Broadcaster[CrawlState]

	// mu защищает состояние, множество найденных и очередь.
	mu         sync.Mutex
	status     Status
	discovered map[string]student.DiscoveredStudent
	queue      frontier
	lastErr    error
	cancel     context.CancelFunc
	done       chan struct{}
}

// New создаёт краулер в состоянии NotStarted.
func New(client school.Client, cfg Config, opts ...Option) (*StudentCrawler, error) {
	if client == nil {
		return nil, shared.NewDomainError("crawler", "New", shared.ErrInvalidArgument, "school client is required")
	}
	if cfg.PausePollInterval <= 0 {
		cfg.PausePollInterval = 200 * time.Millisecond
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &StudentCrawler{
		client:     client,
		cfg:        cfg,
		clock:      timeutil.SystemClock,
		recorder:   nopRecorder{},
		states:     broadcast.New[CrawlState](0),
		discovered: make(map[string]student.DiscoveredStudent),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(cfg.RateLimitPerSecond)
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	c.logger = c.logger.With(logger.Component("student_crawler"))

	c.mu.Lock()
	c.publishLocked()
	c.mu.Unlock()
	return c, nil
}

// Start запрашивает текущий учебный год, кладёт в очередь начального студента
// и запускает цикл обхода. Допустим только из NotStarted.
// Ошибка получения учебного года переводит краулер в Failed.
// ctx ограничивает только инициализацию; цикл останавливается через Stop.
func (c *StudentCrawler) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusNotStarted {
		c.mu.Unlock()
		return shared.ErrCrawlerAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.setStatusLocked(StatusRunning, nil)
	c.mu.Unlock()

	launched := false
	defer func() {
		if !launched {
			close(done)
		}
	}()

	// Stop во время инициализации прерывает запрос учебного года.
	initCtx, cancelInit := context.WithCancel(ctx)
	defer cancelInit()
	stopAfter := context.AfterFunc(loopCtx, cancelInit)
	defer stopAfter()

	year := c.client.GetCurrentSchoolYear(initCtx)
	if !year.OK() {
		if loopCtx.Err() != nil {
			return nil
		}
		err := shared.WrapError("crawler", "Start", shared.ErrSchoolYearLookup,
			"failed to get current school year", year.Err())
		c.fail(err)
		cancel()
		return err
	}
	schoolYearID := year.Value().ID

	c.mu.Lock()
	if c.status.IsTerminal() {
		c.mu.Unlock()
		return nil
	}
	seed := c.seedLocked(schoolYearID)
	c.mu.Unlock()

	c.logger.Info("crawler started",
		logger.StudentID(seed.StudentID),
		logger.String("student_name", seed.StudentName),
		logger.SchoolYearID(schoolYearID),
	)

	launched = true
	go c.loop(loopCtx, done)
	return nil
}

// Pause приостанавливает обход. Очередь и найденные студенты сохраняются.
func (c *StudentCrawler) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning {
		return shared.NewDomainError("crawler", "Pause", shared.ErrInvalidOperation,
			fmt.Sprintf("cannot pause crawler in state %s", c.status))
	}
	c.setStatusLocked(StatusPaused, nil)
	c.logger.Info("crawler paused", logger.Int("pending", c.queue.len()))
	return nil
}

// Resume продолжает приостановленный обход.
func (c *StudentCrawler) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusPaused {
		return shared.NewDomainError("crawler", "Resume", shared.ErrInvalidOperation,
			fmt.Sprintf("cannot resume crawler in state %s", c.status))
	}
	c.setStatusLocked(StatusRunning, nil)
	c.logger.Info("crawler resumed")
	return nil
}

// Stop завершает обход как Completed и ждёт выхода цикла.
// Вне Running/Paused ничего не делает.
func (c *StudentCrawler) Stop() {
	c.mu.Lock()
	if !c.status.IsActive() {
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(StatusCompleted, nil)
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	c.logger.Info("crawler stopping")
	cancel()
	<-done
}

// Close останавливает обход и закрывает поток состояний.
func (c *StudentCrawler) Close() {
	c.Stop()
	c.states.Close()
}

// States подписывает на поток состояний: сначала приходит текущий снимок,
// затем каждый следующий. Вызовите cancel, чтобы отписаться.
func (c *StudentCrawler) States() (<-chan CrawlState, func()) {
	return c.states.Subscribe()
}

// Current возвращает последний опубликованный снимок.
func (c *StudentCrawler) Current() CrawlState {
	s, _ := c.states.Latest()
	return s
}

// Wait блокируется до терминального состояния или отмены ctx.
func (c *StudentCrawler) Wait(ctx context.Context) (CrawlState, error) {
	states, cancel := c.States()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return c.Current(), ctx.Err()
		case s, ok := <-states:
			if !ok {
				return c.Current(), nil
			}
			if s.Status.IsTerminal() {
				return s, nil
			}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Loop
// ─────────────────────────────────────────────────────────────────────────────

func (c *StudentCrawler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			c.fail(fmt.Errorf("crawl loop panicked: %v", r))
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if c.currentStatus() == StatusPaused {
			if !sleep(ctx, c.cfg.PausePollInterval) {
				return
			}
			continue
		}

		item, ok := c.dequeue()
		if !ok {
			c.complete()
			return
		}
		c.process(ctx, item)
	}
}

func (c *StudentCrawler) process(ctx context.Context, item WorkItem) {
	log := c.logger.With(logger.StudentID(item.Student.StudentID), logger.Int("retry", item.RetryCount))

	acquireCtx := ctx
	if c.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, c.cfg.AcquireTimeout)
		defer cancel()
	}
	if err := c.limiter.Wait(acquireCtx); err != nil {
		c.requeue(item)
		if ctx.Err() == nil {
			log.Warn("failed to acquire rate limit permit, requeued", logger.Err(err))
		}
		return
	}

	log.Debug("fetching curriculum")
	result := c.client.GetStudentCurriculum(ctx, item.Student.StudentID, item.Student.SchoolYearID, c.cfg.Window())
	if !result.OK() {
		if ctx.Err() != nil {
			c.requeue(item)
			return
		}
		c.retry(ctx, log, item, result.Err())
		return
	}

	c.absorb(log, result.Value(), item.Student.SchoolYearID)
}

func (c *StudentCrawler) seedLocked(schoolYearID string) student.DiscoveredStudent {
	seed := student.NewDiscoveredStudent(
		strings.TrimSpace(c.cfg.InitialStudentID), c.cfg.InitialStudentName, schoolYearID, c.clock())
	c.discovered[seed.StudentID] = seed
	c.queue.push(WorkItem{Student: seed})
	c.publishLocked()
	return seed
}

// absorb добавляет ещё не найденных одноклассников; первая запись побеждает.
func (c *StudentCrawler) absorb(log *logger.Logger, curriculum school.Curriculum, schoolYearID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, mate := range curriculum.Classmates() {
		id := strings.TrimSpace(mate.StudentID)
		if id == "" {
			continue
		}
		if _, seen := c.discovered[id]; seen {
			continue
		}
		found := student.NewDiscoveredStudent(id, mate.Name, schoolYearID, c.clock())
		c.discovered[id] = found
		c.queue.push(WorkItem{Student: found})
		added++
	}

	if added > 0 {
		log.Info("discovered new students",
			logger.Int("new", added),
			logger.Int("discovered", len(c.discovered)),
			logger.Int("pending", c.queue.len()),
		)
		c.publishLocked()
	}
}

func (c *StudentCrawler) retry(ctx context.Context, log *logger.Logger, item WorkItem, cause error) {
	if item.RetryCount >= c.cfg.MaxRetries {
		c.recorder.Dropped()
		log.Error("max retries reached, giving up on student",
			logger.Int("max_retries", c.cfg.MaxRetries),
			logger.Err(cause),
		)
		return
	}

	log.Warn("failed to fetch curriculum, will retry",
		logger.Int("attempt", item.RetryCount+1),
		logger.Int("max_retries", c.cfg.MaxRetries),
		logger.Err(cause),
	)
	item.RetryCount++
	c.requeue(item)
	c.recorder.Retried()

	if c.cfg.RetryDelay > 0 {
		sleep(ctx, c.cfg.RetryDelay)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// State helpers
// ─────────────────────────────────────────────────────────────────────────────

func (c *StudentCrawler) currentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *StudentCrawler) dequeue() (WorkItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.pop()
}

func (c *StudentCrawler) requeue(item WorkItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue.push(item)
}

func (c *StudentCrawler) complete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.IsTerminal() {
		return
	}
	c.setStatusLocked(StatusCompleted, nil)
	c.logger.Info("frontier exhausted, crawl completed", logger.Int("discovered", len(c.discovered)))
}

func (c *StudentCrawler) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.IsTerminal() {
		return
	}
	c.setStatusLocked(StatusFailed, err)
	c.logger.Error("crawler failed", logger.Err(err))
}

func (c *StudentCrawler) setStatusLocked(status Status, err error) {
	c.status = status
	if err != nil {
		c.lastErr = err
	}
	c.publishLocked()
}

func (c *StudentCrawler) publishLocked() {
	state := newState(c.status, c.discovered, c.queue.len(), c.lastErr, c.clock())
	_ = c.states.Publish(state)
	c.recorder.StateChanged(state)
}

// sleep ждёт d или отмены ctx; false означает отмену.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
