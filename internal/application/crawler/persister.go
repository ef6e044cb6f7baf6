package crawler

import (
	"context"
	"errors"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/student"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// PersistSummary — итог сохранения результатов обхода.
type PersistSummary struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Total возвращает число обработанных студентов.
func (s PersistSummary) Total() int {
	return s.Added + s.Skipped + s.Failed
}

// ResultPersister сохраняет найденных студентов в хранилище после
// успешного завершения обхода.
type ResultPersister struct {
	store  student.Store
	logger *logger.Logger
}

// NewResultPersister создаёт персистер.
func NewResultPersister(store student.Store, log *logger.Logger) *ResultPersister {
	if log == nil {
		log = logger.NewNop()
	}
	return &ResultPersister{
		store:  store,
		logger: log.With(logger.Component("result_persister")),
	}
}

// Run ждёт первого состояния Completed и сохраняет его результаты.
// Failed или закрытие потока без Completed возвращают ошибку; ничего не сохраняется.
func (p *ResultPersister) Run(ctx context.Context, states <-chan CrawlState) (PersistSummary, error) {
	p.logger.Info("waiting for crawl completion")

	for {
		select {
		case <-ctx.Done():
			return PersistSummary{}, ctx.Err()
		case s, ok := <-states:
			if !ok {
				return PersistSummary{}, shared.NewDomainError("crawler", "Persist", shared.ErrIllegalState,
					"state stream closed before the crawl completed")
			}
			switch s.Status {
			case StatusCompleted:
				return p.Persist(ctx, s), nil
			case StatusFailed:
				return PersistSummary{}, shared.WrapError("crawler", "Persist", shared.ErrIllegalState,
					"crawl failed, results not persisted", s.LastError)
			}
		}
	}
}

// Persist добавляет каждого найденного студента, которого ещё нет в хранилище,
// в порядке возрастания ID. Ошибка по одному студенту не прерывает пакет.
func (p *ResultPersister) Persist(ctx context.Context, state CrawlState) PersistSummary {
	var summary PersistSummary
	students := state.Students()
	p.logger.Info("persisting crawl results", logger.Int("students", len(students)))

	for _, found := range students {
		log := p.logger.With(logger.StudentID(found.StudentID))

		record, err := found.ToStudent()
		if err != nil {
			summary.Failed++
			log.Warn("skipping student with invalid id", logger.Err(err))
			continue
		}

		switch added, err := p.addIfMissing(ctx, record); {
		case err != nil:
			summary.Failed++
			log.Error("failed to persist student", logger.Err(err))
		case added:
			summary.Added++
			log.Debug("student added", logger.String("student_name", record.StudentName))
		default:
			summary.Skipped++
		}
	}

	p.logger.Info("finished persisting crawl results",
		logger.Int("added", summary.Added),
		logger.Int("skipped", summary.Skipped),
		logger.Int("failed", summary.Failed),
	)
	return summary
}

func (p *ResultPersister) addIfMissing(ctx context.Context, s *student.Student) (bool, error) {
	_, err := p.store.GetByID(ctx, s.StudentID)
	switch {
	case err == nil:
		return false, nil
	case !shared.IsNotFound(err):
		return false, err
	}

	if err := p.store.Add(ctx, s); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
