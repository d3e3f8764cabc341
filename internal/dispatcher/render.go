package dispatcher

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/djlord-it/keepsake/internal/domain"
	"github.com/djlord-it/keepsake/internal/reminder"
)

// Messages holds one text/template source per reminder shape.
type Messages struct {
	Start string `yaml:"start"`
	Hours string `yaml:"hours"`
	Days  string `yaml:"days"`
}

var DefaultMessages = Messages{
	Start: `🎉 {{.Icon}} {{.Title}} is happening now!
{{if .SpecialMessage}}
{{.SpecialMessage}}
{{else if .Description}}
{{.Description}}
{{end}}`,
	Hours: `⏰ {{.Icon}} {{.Title}} starts in {{.Hours}} {{plural .Hours "hour" "hours"}}
📅 {{.When}}
{{if .Description}}
{{.Description}}
{{end}}`,
	Days: `🔔 {{.Icon}} {{.Title}} is {{countdown .CalendarDays}}
📅 {{.When}}
{{if .Description}}
{{.Description}}
{{end}}`,
}

// LoadMessages reads template overrides from a YAML file. Shapes missing from
// the file keep their defaults.
func LoadMessages(path string) (Messages, error) {
	msgs := DefaultMessages
	if path == "" {
		return msgs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Messages{}, fmt.Errorf("read messages: %w", err)
	}

	var override Messages
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Messages{}, fmt.Errorf("parse messages: %w", err)
	}
	if override.Start != "" {
		msgs.Start = override.Start
	}
	if override.Hours != "" {
		msgs.Hours = override.Hours
	}
	if override.Days != "" {
		msgs.Days = override.Days
	}
	return msgs, nil
}

// messageData is what templates see.
type messageData struct {
	Title          string
	Icon           string
	Description    string
	SpecialMessage string
	When           string
	Days           int
	Hours          int
	// CalendarDays counts midnights between now and the occurrence.
	CalendarDays int
}

// calendarDays is the difference between the calendar dates of occurrence and
// now, both read in the occurrence's location.
func calendarDays(occurrence, now time.Time) int {
	y, m, d := occurrence.Date()
	a := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	y, m, d = now.In(occurrence.Location()).Date()
	b := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}

const whenLayout = "Monday, 2 January 2006 at 15:04"

var funcs = template.FuncMap{
	"plural": func(n int, one, many string) string {
		if n == 1 {
			return one
		}
		return many
	},
	// countdown expects calendar days, not the reminder threshold: an event
	// 30 minutes away matches the 1-day threshold but is still today.
	"countdown": func(days int) string {
		switch {
		case days < -1:
			return fmt.Sprintf("%d days ago", -days)
		case days == -1:
			return "yesterday"
		case days == 0:
			return "today"
		case days == 1:
			return "tomorrow"
		default:
			return fmt.Sprintf("in %d days", days)
		}
	},
}

// Renderer turns a selected reminder into message text.
type Renderer struct {
	templates map[domain.ReminderType]*template.Template
}

func NewRenderer(msgs Messages) (*Renderer, error) {
	sources := map[domain.ReminderType]string{
		domain.ReminderTypeStart: msgs.Start,
		domain.ReminderTypeHours: msgs.Hours,
		domain.ReminderTypeDays:  msgs.Days,
	}

	r := &Renderer{templates: make(map[domain.ReminderType]*template.Template, len(sources))}
	for typ, src := range sources {
		tmpl, err := template.New(string(typ)).Funcs(funcs).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", typ, err)
		}
		r.templates[typ] = tmpl
	}
	return r, nil
}

func (r *Renderer) Render(ev domain.Event, rem reminder.Reminder, occurrence, now time.Time) (string, error) {
	tmpl, ok := r.templates[rem.Type]
	if !ok {
		return "", fmt.Errorf("no template for reminder type %q", rem.Type)
	}

	data := messageData{
		Title:          ev.Title,
		Icon:           ev.Icon,
		Description:    ev.Description,
		SpecialMessage: ev.SpecialMessage,
		When:           occurrence.Format(whenLayout),
		Days:           rem.Days,
		Hours:          rem.Hours,
		CalendarDays:   calendarDays(occurrence, now),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", rem.Type, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
