package student

import (
	"strconv"
	"strings"
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
)

// Student — запись о студенте в хранилище.
type Student struct {
	StudentID   int64  `json:"studentId"`
	StudentName string `json:"studentName"`
}

// Validate проверяет инварианты записи.
func (s *Student) Validate() error {
	if s.StudentID <= 0 {
		return shared.ErrInvalidStudentID
	}
	if strings.TrimSpace(s.StudentName) == "" {
		return shared.NewDomainError("student", "Validate", shared.ErrEmptyValue, "student name cannot be empty")
	}
	return nil
}

// DiscoveredStudent — студент, впервые увиденный сниффером.
// Создаётся один раз на уникальный StudentID и далее не изменяется.
type DiscoveredStudent struct {
	StudentID    string    `json:"studentId"`
	StudentName  string    `json:"studentName"`
	SchoolYearID string    `json:"schoolYearId"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// NewDiscoveredStudent создаёт запись с отметкой времени обнаружения.
func NewDiscoveredStudent(id, name, schoolYearID string, at time.Time) DiscoveredStudent {
	return DiscoveredStudent{
		StudentID:    id,
		StudentName:  name,
		SchoolYearID: schoolYearID,
		DiscoveredAt: at,
	}
}

// ToStudent преобразует найденного студента в запись хранилища.
func (d DiscoveredStudent) ToStudent() (*Student, error) {
	id, err := ParseID(d.StudentID)
	if err != nil {
		return nil, err
	}
	return &Student{StudentID: id, StudentName: d.StudentName}, nil
}

// ParseID разбирает строковый ID студента.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, shared.WrapError("student", "ParseID", shared.ErrInvalidID, "student ID must be numeric", err)
	}
	if id <= 0 {
		return 0, shared.ErrInvalidStudentID
	}
	return id, nil
}

// FuzzySearchResult — результат нечёткого поиска.
type FuzzySearchResult struct {
	Student    Student `json:"student"`
	Similarity float64 `json:"similarity"`
}
