// Package poller содержит движок опроса посещаемости: профили, подписки,
// периодический опрос API и сравнение снимков.
//
// Каждый тик поллер параллельно запрашивает отчёт по каждому профилю,
// сравнивает его с предыдущим (attendance.Diff) и прогоняет изменения через
// подписки профиля. Первый снимок только кешируется.
package poller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/school"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// DefaultInterval — интервал опроса по умолчанию.
const DefaultInterval = 30 * time.Second

// Recorder получает метрики поллера. Реализация по умолчанию ничего не делает.
type Recorder interface {
	ObserveTick(d time.Duration)
	FetchFailed(kind string)
	ChangesDetected(n int)
	ActionsFired(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTick(time.Duration) {}
func (nopRecorder) FetchFailed(string)        {}
func (nopRecorder) ChangesDetected(int)       {}
func (nopRecorder) ActionsFired(int)          {}

// ═══════════════════════════════════════════════════════════════════════════
// BUILDER
// ═══════════════════════════════════════════════════════════════════════════

// Builder собирает AttendancePoller: профили, затем Build, затем Start.
type Builder struct {
	client       school.Client
	interval     time.Duration
	fetchTimeout time.Duration
	cache        SnapshotCache
	recorder     Recorder
	logger       *logger.Logger
	profiles     []*Profile
	keys         map[string]string // cache key -> first profile id
}

// NewBuilder создаёт билдер с интервалом по умолчанию и кешем в памяти.
func NewBuilder(client school.Client) *Builder {
	return &Builder{
		client:       client,
		interval:     DefaultInterval,
		fetchTimeout: 20 * time.Second,
		keys:         make(map[string]string),
	}
}

// WithInterval задаёт интервал опроса (должен быть > 0, проверяется в Build).
func (b *Builder) WithInterval(d time.Duration) *Builder {
	b.interval = d
	return b
}

// WithFetchTimeout ограничивает время одного запроса профиля.
func (b *Builder) WithFetchTimeout(d time.Duration) *Builder {
	b.fetchTimeout = d
	return b
}

// WithCache подменяет кеш снимков (например, на Redis).
func (b *Builder) WithCache(c SnapshotCache) *Builder {
	b.cache = c
	return b
}

// WithRecorder подключает метрики.
func (b *Builder) WithRecorder(r Recorder) *Builder {
	b.recorder = r
	return b
}

// WithLogger задаёт логгер.
func (b *Builder) WithLogger(l *logger.Logger) *Builder {
	b.logger = l
	return b
}

// AddProfile добавляет профиль. Профиль с уже занятым ключом кеша принимается,
// но его снимки будут перезаписывать снимки предыдущего профиля.
func (b *Builder) AddProfile(p *Profile) error {
	if p == nil {
		return shared.ErrNilProfile
	}
	if owner, dup := b.keys[p.Key()]; dup {
		b.log().Warn("profile shares snapshot cache key with another profile; their snapshots will overwrite each other",
			logger.String("key", p.Key()),
			logger.ProfileID(p.ID.String()),
			logger.String("other_profile_id", owner),
		)
	} else {
		b.keys[p.Key()] = p.ID.String()
	}
	b.profiles = append(b.profiles, p)
	return nil
}

// Build проверяет конфигурацию и создаёт поллер.
func (b *Builder) Build() (*AttendancePoller, error) {
	if b.client == nil {
		return nil, shared.NewDomainError("poller", "Build", shared.ErrInvalidArgument, "school client is required")
	}
	if b.interval <= 0 {
		return nil, shared.ErrInvalidInterval
	}
	if len(b.profiles) == 0 {
		return nil, shared.ErrNoProfiles
	}

	cache := b.cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	recorder := b.recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	profiles := make([]*Profile, len(b.profiles))
	copy(profiles, b.profiles)

	return &AttendancePoller{
		client:       b.client,
		interval:     b.interval,
		fetchTimeout: b.fetchTimeout,
		cache:        cache,
		recorder:     recorder,
		logger:       b.log().With(logger.Component("attendance_poller")),
		profiles:     profiles,
	}, nil
}

func (b *Builder) log() *logger.Logger {
	if b.logger == nil {
		b.logger = logger.NewNop()
	}
	return b.logger
}

// ═══════════════════════════════════════════════════════════════════════════
// POLLER
// ═══════════════════════════════════════════════════════════════════════════

// AttendancePoller периодически опрашивает посещаемость по всем профилям.
type AttendancePoller struct {
	client       school.Client
	interval     time.Duration
	fetchTimeout time.Duration
	cache        SnapshotCache
	recorder     Recorder
	logger       *logger.Logger

	// mu защищает структуру поллера; кеш снимков синхронизируется отдельно.
	mu       sync.Mutex
	profiles []*Profile
	running  bool
	disposed bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Start запускает опрос; первый тик выполняется сразу.
// Повторный вызов ничего не делает; после Dispose возвращает ErrPollerDisposed.
func (p *AttendancePoller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return shared.ErrPollerDisposed
	}
	if p.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx, p.done)

	p.logger.Info("attendance poller started",
		logger.Duration("interval", p.interval),
		logger.Int("profiles", len(p.profiles)),
	)
	return nil
}

// Stop останавливает таймер и ждёт завершения текущего тика. Идемпотентен.
// Не вызывайте Stop из действия подписки: тик ждёт своих действий.
func (p *AttendancePoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("attendance poller stopped")
}

// Dispose останавливает поллер навсегда. Идемпотентен.
func (p *AttendancePoller) Dispose() {
	p.Stop()

	p.mu.Lock()
	p.disposed = true
	p.mu.Unlock()
}

// IsRunning сообщает, запущен ли поллер.
func (p *AttendancePoller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Profiles возвращает профили поллера.
func (p *AttendancePoller) Profiles() []*Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Profile, len(p.profiles))
	copy(out, p.profiles)
	return out
}

// Interval возвращает интервал опроса.
func (p *AttendancePoller) Interval() time.Duration { return p.interval }

func (p *AttendancePoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick выполняет один цикл опроса по всем профилям и ждёт его завершения.
// Ошибка одного профиля не отменяет остальные.
func (p *AttendancePoller) Tick(ctx context.Context) {
	started := time.Now()
	profiles := p.Profiles()

	// Текущий тик доводится до конца даже после Stop.
	tickCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, profile := range profiles {
		g.Go(func() error {
			p.refresh(tickCtx, profile)
			return nil
		})
	}
	_ = g.Wait()

	p.recorder.ObserveTick(time.Since(started))
}

func (p *AttendancePoller) refresh(ctx context.Context, profile *Profile) {
	log := p.logger.With(
		logger.ProfileID(profile.ID.String()),
		logger.StudentID(profile.StudentID),
		logger.SchoolYearID(profile.SchoolYearID),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("profile refresh panicked", logger.Any("panic", r))
		}
	}()

	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}

	window := profile.Window()
	result := p.client.GetAttendance(ctx, profile.StudentID, profile.SchoolYearID, window)
	if !result.OK() {
		p.recorder.FetchFailed(result.Kind().String())
		log.Warn("failed to fetch attendance",
			logger.String("kind", result.Kind().String()),
			logger.Err(result.Err()),
		)
		return
	}
	current := result.Value()

	key := profile.Key()
	previous, seen, err := p.cache.Get(ctx, key)
	if err != nil {
		log.Warn("snapshot cache read failed, treating as first observation", logger.Err(err))
		seen = false
	}

	var changes []attendance.Change
	if seen {
		changes = attendance.Diff(previous, current)
	}

	if err := p.cache.Put(ctx, key, current); err != nil {
		log.Warn("snapshot cache write failed", logger.Err(err))
	}

	if !seen {
		log.Debug("first observation cached", logger.Int("days", len(current.Days)))
		return
	}
	if len(changes) == 0 {
		return
	}

	p.recorder.ChangesDetected(len(changes))
	log.Info("attendance changes detected", logger.Int("changes", len(changes)))

	fired := 0
	for _, c := range changes {
		fired += profile.Dispatch(ctx, log, c.Previous, c.Current)
	}
	p.recorder.ActionsFired(fired)
}
