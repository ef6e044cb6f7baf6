// Package eventhandler содержит реакции на изменения посещаемости.
// Обработчики подключаются к профилям поллера как подписки и превращают
// изменение статуса в уведомление или запись в журнале.
package eventhandler

import (
	"context"
	"fmt"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/poller"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/notification"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ATTENDANCE CHANGED HANDLER
// ═══════════════════════════════════════════════════════════════════════════

// Имена подписок, под которыми обработчик регистрируется в профиле.
const (
	SubscriptionLog      = "log"
	SubscriptionStandard = "bark-standard"
	SubscriptionCritical = "bark-critical"
)

// AttendanceChangedConfig содержит конфигурацию обработчика.
type AttendanceChangedConfig struct {
	// Group — группа уведомлений в Bark.
	Group string

	// Sound — звук уведомления.
	Sound string

	// Icon и URL прикрепляются к каждому уведомлению, если заданы.
	Icon string
	URL  string

	// CriticalThreshold — статус, начиная с которого уведомление критическое.
	CriticalThreshold attendance.Status

	// CriticalEnabled — отправлять ли критические уведомления.
	CriticalEnabled bool
}

// DefaultAttendanceChangedConfig возвращает конфигурацию по умолчанию.
func DefaultAttendanceChangedConfig() AttendanceChangedConfig {
	return AttendanceChangedConfig{
		Group:             "Attendance",
		Sound:             "shake",
		URL:               "pcd.intschool.com",
		CriticalThreshold: attendance.Late,
		CriticalEnabled:   true,
	}
}

// OnAttendanceChangedHandler подписывает профили на изменения посещаемости.
type OnAttendanceChangedHandler struct {
	logger *logger.Logger
	config AttendanceChangedConfig
}

// NewOnAttendanceChangedHandler создаёт обработчик.
func NewOnAttendanceChangedHandler(log *logger.Logger, config AttendanceChangedConfig) *OnAttendanceChangedHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &OnAttendanceChangedHandler{
		logger: log.With(logger.Component("attendance_handler")),
		config: config,
	}
}

// Attach регистрирует подписки профиля:
//   - журнал: любое изменение;
//   - стандартное уведомление: статус стал серьёзнее;
//   - критическое уведомление: статус не ниже порога.
//
// notifier может быть nil, тогда подключается только журнал.
func (h *OnAttendanceChangedHandler) Attach(profile *poller.Profile, notifier notification.Notifier) {
	log := h.logger.With(
		logger.ProfileID(profile.ID.String()),
		logger.String("description", profile.Description),
	)

	profile.OnChanged(poller.Subscription{
		Name:   SubscriptionLog,
		Filter: poller.Always(),
		Action: func(_ context.Context, prev, cur attendance.CourseSession) {
			log.Info("attendance change detected",
				logger.Course(cur.CourseName),
				logger.String("from", prev.Status.String()),
				logger.String("to", cur.Status.String()),
			)
		},
	})

	if notifier == nil {
		return
	}

	profile.OnChanged(poller.Subscription{
		Name:   SubscriptionStandard,
		Filter: poller.ImportanceIncreased(),
		Action: func(ctx context.Context, prev, cur attendance.CourseSession) {
			notifier.Send(ctx, h.build(prev, cur, notification.LevelActive))
		},
	})

	if !h.config.CriticalEnabled {
		return
	}
	profile.OnChanged(poller.Subscription{
		Name:   SubscriptionCritical,
		Filter: poller.HigherThanInclusive(h.config.CriticalThreshold),
		Action: func(ctx context.Context, prev, cur attendance.CourseSession) {
			log.Warn("critical attendance status",
				logger.Course(cur.CourseName),
				logger.String("status", cur.Status.String()),
				logger.String("room", cur.Room),
			)
			notifier.Send(ctx, h.build(prev, cur, notification.LevelCritical))
		},
	})
}

// build формирует уведомление. Критическое дополняется аудиторией.
func (h *OnAttendanceChangedHandler) build(prev, cur attendance.CourseSession, level notification.Level) notification.Notification {
	body := FormatChange(prev, cur)
	if level == notification.LevelCritical && cur.Room != "" {
		body += fmt.Sprintf(" You should be at %s.", cur.Room)
	}
	return notification.Notification{
		Title: cur.CourseName,
		Body:  body,
		Level: level,
		Group: h.config.Group,
		Sound: h.config.Sound,
		Icon:  h.config.Icon,
		URL:   h.config.URL,
	}
}

// FormatChange возвращает текст вида: Attendance updated from "X" to "Y".
func FormatChange(prev, cur attendance.CourseSession) string {
	return fmt.Sprintf("Attendance updated from %q to %q.", prev.Status.String(), cur.Status.String())
}
