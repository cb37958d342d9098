package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/convoyinc/conservator/pkg/registry"
)

var (
	commandStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	globStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(2)
)

// summary lists what triggers each registered command.
func summary(regs []registry.Registration) string {
	var sb strings.Builder
	for _, r := range regs {
		sb.WriteString(commandStyle.Render(strings.Join(r.Command, " ")))
		sb.WriteString("\n")
		for _, w := range r.Watches {
			line := w.Source
			if w.Transform != nil {
				line += " (transformed)"
			}
			sb.WriteString(globStyle.Render(line))
			sb.WriteString("\n")
		}
	}
	if len(regs) > 0 {
		fmt.Fprintf(&sb, "%d command(s) registered\n", len(regs))
	}
	return sb.String()
}
