package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/notexe/vocalizeit/internal/reminder"
)

// ListMarkdown builds a markdown list of reminders under a heading.
func (f *Formatter) ListMarkdown(title string, reminders []reminder.Reminder) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", title)

	if len(reminders) == 0 {
		sb.WriteString("_Nothing here._\n")
		return sb.String()
	}

	for _, r := range reminders {
		var tags []string
		if r.IsCritical {
			tags = append(tags, "critical")
		}
		if rec := FormatRecurrence(r.Recurrence); rec != "" {
			tags = append(tags, rec)
		}
		if r.Status != reminder.StatusUpcoming {
			tags = append(tags, string(r.Status))
		}

		fmt.Fprintf(&sb, "- **%s** %s", f.FormatTime(r.TargetTimestamp), escapeMarkdown(r.Task))
		if len(tags) > 0 {
			fmt.Fprintf(&sb, " _(%s)_", strings.Join(tags, ", "))
		}
		fmt.Fprintf(&sb, " `%s`\n", r.ID)
	}
	return sb.String()
}

// glamourStyle maps the app theme to a glamour style name.
func glamourStyle(theme reminder.Theme) string {
	switch theme {
	case reminder.ThemeLight:
		return "light"
	case reminder.ThemeDark, reminder.ThemeAmoled:
		return "dark"
	default:
		return ""
	}
}

// RenderMarkdown renders markdown for the terminal in the given theme.
// Rendering errors fall back to the raw markdown.
func RenderMarkdown(content string, theme reminder.Theme) string {
	style := glamour.WithAutoStyle()
	if name := glamourStyle(theme); name != "" {
		style = glamour.WithStandardStyle(name)
	}

	renderer, err := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return content
	}

	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimSpace(rendered)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// RenderList renders a titled reminder list for the terminal.
func (f *Formatter) RenderList(title string, reminders []reminder.Reminder, theme reminder.Theme) string {
	return RenderMarkdown(f.ListMarkdown(title, reminders), theme)
}
