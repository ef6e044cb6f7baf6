package poller

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION
// ═══════════════════════════════════════════════════════════════════════════

// Action — побочный эффект подписки (обычно отправка уведомления).
type Action func(ctx context.Context, prev, cur attendance.CourseSession)

// Subscription — пара фильтр/действие. Подписка без фильтра срабатывает всегда.
type Subscription struct {
	Name   string
	Filter Filter
	Action Action
}

// ═══════════════════════════════════════════════════════════════════════════
// PROFILE
// ═══════════════════════════════════════════════════════════════════════════

// ProfileParams — параметры создания профиля.
type ProfileParams struct {
	Description  string
	StudentID    string
	SchoolYearID string
	Window       attendance.WindowFunc
}

// Profile — наблюдаемая цель: студент + учебный год + окно времени.
// Профиль принадлежит одному поллеру и не удаляется во время работы.
type Profile struct {
	ID           uuid.UUID
	Description  string
	StudentID    string
	SchoolYearID string
	Window       attendance.WindowFunc

	mu            sync.RWMutex
	subscriptions []Subscription
}

// NewProfile создаёт профиль с новым UUID.
func NewProfile(params ProfileParams) (*Profile, error) {
	var errs []string
	if strings.TrimSpace(params.StudentID) == "" {
		errs = append(errs, "student id is required")
	}
	if strings.TrimSpace(params.SchoolYearID) == "" {
		errs = append(errs, "school year id is required")
	}
	if params.Window == nil {
		errs = append(errs, "time window is required")
	}
	if len(errs) > 0 {
		return nil, shared.NewDomainError("poller", "NewProfile", shared.ErrInvalidArgument, strings.Join(errs, "; "))
	}

	return &Profile{
		ID:           uuid.New(),
		Description:  params.Description,
		StudentID:    params.StudentID,
		SchoolYearID: params.SchoolYearID,
		Window:       params.Window,
	}, nil
}

// Key — ключ кеша снимков. Два профиля с одинаковым ключом в одном поллере
// перезаписывают снимки друг друга.
func (p *Profile) Key() string {
	return CacheKey(p.StudentID, p.SchoolYearID)
}

// CacheKey форматирует ключ "{studentId}_{schoolYearId}".
func CacheKey(studentID, schoolYearID string) string {
	return fmt.Sprintf("%s_%s", studentID, schoolYearID)
}

// OnChanged регистрирует подписку. Подписки вызываются в порядке регистрации.
func (p *Profile) OnChanged(sub Subscription) *Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = append(p.subscriptions, sub)
	return p
}

// Subscriptions возвращает копию списка подписок.
func (p *Profile) Subscriptions() []Subscription {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Subscription, len(p.subscriptions))
	copy(out, p.subscriptions)
	return out
}

// Dispatch прогоняет изменение через все подписки профиля.
// Паника фильтра означает "не срабатывать"; паника действия логируется,
// и следующая подписка всё равно выполняется. Возвращает число сработавших действий.
func (p *Profile) Dispatch(ctx context.Context, log *logger.Logger, prev, cur attendance.CourseSession) int {
	fired := 0
	for i, sub := range p.Subscriptions() {
		name := sub.Name
		if name == "" {
			name = fmt.Sprintf("subscription-%d", i)
		}
		subLog := log.With(logger.String("subscription", name), logger.Course(cur.CourseName))

		if !evaluateFilter(subLog, sub.Filter, prev, cur) {
			continue
		}
		if sub.Action == nil {
			continue
		}
		if runAction(ctx, subLog, sub.Action, prev, cur) {
			fired++
		}
	}
	return fired
}

func evaluateFilter(log *logger.Logger, f Filter, prev, cur attendance.CourseSession) (fire bool) {
	if f == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("subscription filter failed, treating as no match", logger.Any("panic", r))
			fire = false
		}
	}()
	return f(prev, cur)
}

func runAction(ctx context.Context, log *logger.Logger, a Action, prev, cur attendance.CourseSession) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("subscription action failed", logger.Any("panic", r))
			ok = false
		}
	}()
	a(ctx, prev, cur)
	return true
}
