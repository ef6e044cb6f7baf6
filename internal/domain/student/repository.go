package student

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// FuzzySearchLimit — максимум строк, который возвращает нечёткий поиск.
const FuzzySearchLimit = 100

// Store определяет операции хранилища студентов.
type Store interface {
	// GetByID возвращает студента по ID.
	// Возвращает ErrStudentNotFound, если студент не найден.
	GetByID(ctx context.Context, id int64) (*Student, error)

	// Add добавляет студента.
	// Возвращает ErrStudentAlreadyExists, если ID уже занят.
	Add(ctx context.Context, s *Student) error

	// Update обновляет имя студента.
	// Возвращает ErrStudentNotFound, если студент не найден.
	Update(ctx context.Context, s *Student) error

	// Delete удаляет студента.
	// Возвращает ErrStudentNotFound, если студент не найден.
	Delete(ctx context.Context, id int64) error

	// FuzzySearchByName ищет студентов по похожести имени.
	// threshold должен лежать в [0, 1]; результаты отсортированы по убыванию похожести.
	FuzzySearchByName(ctx context.Context, name string, threshold float64) ([]FuzzySearchResult, error)
}
