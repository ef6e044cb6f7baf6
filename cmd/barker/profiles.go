package main

import (
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/RyanStanLin/IntSchool.Sharp/config"
)

func newProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the configured profiles without polling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			renderProfiles(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func renderProfiles(w io.Writer, cfg *config.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Description", "Student", "School year", "Window", "Devices"})
	for i, p := range cfg.Barker.Profiles {
		window := p.Window
		if window == "" {
			window = cfg.Barker.Window
		}
		t.AppendRow(table.Row{i + 1, p.Description, p.StudentID, p.SchoolYearID, window, strconv.Itoa(len(p.BarkKeys))})
	}
	t.AppendFooter(table.Row{"", "", "", "", "interval", cfg.Barker.Interval.String()})
	t.Render()
}
