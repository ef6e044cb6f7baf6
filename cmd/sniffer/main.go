// Package main - точка входа Sniffer.
//
// Sniffer обходит расписания студентов в ширину, начиная с одного известного
// студента, и собирает всех одноклассников, которых удаётся найти. Результаты
// сохраняются в PostgreSQL и доступны для нечёткого поиска по имени.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RyanStanLin/IntSchool.Sharp/config"
)

var (
	configPath string
	debug      bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "sniffer",
		Short:         "Breadth-first student discovery over IntSchool timetables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to intcopilot.yaml")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "force debug logging")

	root.AddCommand(newRunCommand(), newMigrateCommand(), newSearchCommand())
	return root
}

// loadConfig загружает общую конфигурацию. Проверки, специфичные для
// обхода, выполняет только run.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.App.Debug = true
		cfg.Observability.LogLevel = "debug"
	}
	return cfg, nil
}
