package poller

import (
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
)

// Filter решает, нужно ли срабатывать подписке на пару (предыдущее, текущее).
type Filter func(prev, cur attendance.CourseSession) bool

// Always срабатывает на любое изменение.
func Always() Filter {
	return func(_, _ attendance.CourseSession) bool { return true }
}

// ImportanceIncreased срабатывает, когда приоритет статуса вырос.
func ImportanceIncreased() Filter {
	return func(prev, cur attendance.CourseSession) bool {
		return cur.Status.MoreSevereThan(prev.Status)
	}
}

// ImportanceDecreased срабатывает, когда приоритет статуса упал.
func ImportanceDecreased() Filter {
	return func(prev, cur attendance.CourseSession) bool {
		return prev.Status.MoreSevereThan(cur.Status)
	}
}

// StatusChangedTo срабатывает, когда текущий статус равен target.
func StatusChangedTo(target attendance.Status) Filter {
	return func(_, cur attendance.CourseSession) bool {
		return cur.Status == target
	}
}

// HigherThanInclusive срабатывает, когда priority(cur) >= priority(threshold).
func HigherThanInclusive(threshold attendance.Status) Filter {
	return func(_, cur attendance.CourseSession) bool {
		return cur.Status.AtLeast(threshold)
	}
}

// CourseIs ограничивает подписку одним курсом.
func CourseIs(name string) Filter {
	return func(_, cur attendance.CourseSession) bool {
		return cur.CourseName == name
	}
}

// All срабатывает, если сработали все фильтры (nil-фильтры пропускаются).
func All(filters ...Filter) Filter {
	return func(prev, cur attendance.CourseSession) bool {
		for _, f := range filters {
			if f != nil && !f(prev, cur) {
				return false
			}
		}
		return true
	}
}

// Any срабатывает, если сработал хотя бы один фильтр.
func Any(filters ...Filter) Filter {
	return func(prev, cur attendance.CourseSession) bool {
		for _, f := range filters {
			if f != nil && f(prev, cur) {
				return true
			}
		}
		return false
	}
}

// Not инвертирует фильтр.
func Not(f Filter) Filter {
	return func(prev, cur attendance.CourseSession) bool {
		return !f(prev, cur)
	}
}
