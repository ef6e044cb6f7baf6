package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/bootstrap"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/student"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/persistence/postgres"
)

// defaultThreshold — порог сходства pg_trgm по умолчанию.
const defaultThreshold = 0.3

func newSearchCommand() *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "search <name>",
		Short: "Fuzzy-search discovered students by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := bootstrap.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			db, err := bootstrap.OpenPostgres(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()

			query := strings.Join(args, " ")
			repo := postgres.NewStudentRepository(db, postgres.WithRepositoryLogger(log))
			results, err := repo.FuzzySearchByName(ctx, query, threshold)
			if err != nil {
				return err
			}
			renderResults(cmd.OutOrStdout(), query, results)
			return nil
		},
	}
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", defaultThreshold, "similarity threshold between 0 and 1")
	return cmd
}

func renderResults(w io.Writer, query string, results []student.FuzzySearchResult) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No students found for %q\n", query)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Student ID", "Name", "Similarity"})
	for i, r := range results {
		t.AppendRow(table.Row{i + 1, r.Student.StudentID, r.Student.StudentName, fmt.Sprintf("%.2f", r.Similarity)})
	}
	t.AppendFooter(table.Row{"Total", len(results), fmt.Sprintf("Query: %s", query), ""})
	t.Render()
}
