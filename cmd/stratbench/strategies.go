package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"stratbench/internal/stats"
	"stratbench/internal/strategy/builtins"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	plainStyle = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("245"))).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return titleStyle
			}
			return plainStyle
		})
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the built-in strategies and their default parameters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		t := newTable("Strategy", "Defaults", "Description")
		for _, spec := range builtins.NewRegistry().Specs() {
			t.Row(spec.Name, spec.Defaults.String(), spec.Description)
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return err
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List the metric names accepted by --metric and --maximize",
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range stats.Names() {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(strategiesCmd, metricsCmd)
}
