// Package main - точка входа Barker.
//
// Barker периодически опрашивает посещаемость отслеживаемых студентов и
// отправляет push-уведомления Bark, когда статус урока меняется.
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
		Use:           "barker",
		Short:         "Attendance change notifier for IntSchool students",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to intcopilot.yaml")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "force debug logging")

	root.AddCommand(newRunCommand(), newProfilesCommand())
	return root
}

// loadConfig загружает и проверяет конфигурацию barker.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.App.Debug = true
		cfg.Observability.LogLevel = "debug"
	}
	if err := cfg.ValidateBarker(); err != nil {
		return nil, err
	}
	return cfg, nil
}
