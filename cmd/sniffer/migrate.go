package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/bootstrap"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/persistence/postgres"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

func newMigrateCommand() *cobra.Command {
	var status, rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, inspect or roll back the students schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status && rollback {
				return fmt.Errorf("--status and --rollback are mutually exclusive")
			}
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

			migrator := postgres.NewMigrator(db, log)
			switch {
			case status:
				migrations, err := migrator.Status(ctx)
				if err != nil {
					return err
				}
				renderMigrations(cmd.OutOrStdout(), migrations)
			case rollback:
				if err := migrator.Rollback(ctx); err != nil {
					return err
				}
			default:
				applied, err := migrator.Migrate(ctx)
				if err != nil {
					return err
				}
				log.Info("migrations complete", logger.Int("applied", applied))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "show applied migrations")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "revert the last applied migration")
	return cmd
}

func renderMigrations(w io.Writer, migrations []postgres.Migration) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Version", "Name", "Applied", "Applied at"})
	for _, m := range migrations {
		appliedAt := "-"
		if m.IsApplied {
			appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		t.AppendRow(table.Row{m.Version, m.Name, m.IsApplied, appliedAt})
	}
	t.Render()
}
