package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	componentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	messageStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	keyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	valueStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	separatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	indent         = lipgloss.NewStyle().MarginLeft(2)

	badgeBase   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	levelBadges = map[string]lipgloss.Style{
		"DEBUG": badgeBase.Foreground(lipgloss.Color("255")).Background(lipgloss.Color("240")),
		"INFO":  badgeBase.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("31")),
		"WARN":  badgeBase.Foreground(lipgloss.Color("234")).Background(lipgloss.Color("214")),
		"ERROR": badgeBase.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160")),
	}
)

func shouldPrettyPrint() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	term := strings.TrimSpace(os.Getenv("TERM"))
	return term != "" && term != "dumb"
}

func levelBadge(level slog.Level) string {
	name := levelName(level)
	return levelBadges[name].Render(name)
}

// FormatEventANSI renders an event for a color terminal. The component, when
// bound, prefixes the message; payload blocks go on their own indented lines.
func FormatEventANSI(event Event) string {
	parts := []string{
		timestampStyle.Render(event.Time.Format("15:04:05.000")),
		" ",
		levelBadge(event.Level),
		" ",
	}
	if component, ok := event.Fields["component"]; ok {
		parts = append(parts, componentStyle.Render(formatFieldValue("component", component)), " ")
	}
	parts = append(parts, messageStyle.Render(event.Message))
	header := lipgloss.JoinHorizontal(lipgloss.Center, parts...)

	var inline, blocks []string
	for _, key := range orderedFieldKeys(event.Fields) {
		if key == "component" {
			continue
		}
		value := event.Fields[key]
		if block, ok := payloadBlock(key, value); ok {
			blocks = append(blocks, keyStyle.Render(key)+separatorStyle.Render(":")+"\n"+indent.Render(valueStyle.Render(block)))
			continue
		}
		inline = append(inline, keyStyle.Render(key)+separatorStyle.Render("=")+valueStyle.Render(formatFieldValue(key, value)))
	}
	if len(inline) == 0 && len(blocks) == 0 {
		return header + "\n"
	}

	lines := make([]string, 0, 1+len(blocks))
	if len(inline) > 0 {
		lines = append(lines, strings.Join(inline, " "))
	}
	lines = append(lines, blocks...)
	return header + "\n" + indent.Render(strings.Join(lines, "\n")) + "\n"
}
