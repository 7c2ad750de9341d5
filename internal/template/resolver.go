package template

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
)

// ErrDefaultTemplateMissing means the configuration has no "default" template.
// It is a configuration error and stops alarm processing.
var ErrDefaultTemplateMissing = errors.New(`template "default" not found`)

// Resolver applies templates to alarms.
type Resolver struct {
	// templates maps a template name to its entries.
	templates map[string]config.Template
}

// NewResolver creates a resolver over the configured templates.
func NewResolver(templates map[string]config.Template) *Resolver {
	return &Resolver{
		templates: templates,
	}
}

// Resolve applies the default template and then every template named on the
// alarm, in order. A tagged "default" is applied again at its position.
// Unknown names are logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, a *alarm.Alarm) error {
	def, ok := r.templates[config.DefaultTemplateName]
	if !ok {
		return ErrDefaultTemplateMissing
	}

	apply(ctx, a, config.DefaultTemplateName, def)

	for _, name := range a.TemplateNames {
		tmpl, ok := r.templates[name]
		if !ok {
			logger.WarnKV(ctx, "Template not found", "template", name, "alarm_id", a.ID)

			continue
		}

		apply(ctx, a, name, tmpl)
	}

	return nil
}

func apply(ctx context.Context, a *alarm.Alarm, name string, tmpl config.Template) {
	for _, entry := range tmpl.Entries {
		logger.DebugKV(ctx, "Applying template", "template", name, "target", entry.Target)
		a.ApplyTemplate(entry.Target, entry.Spec)
	}
}

// TagKeywords tags the templates whose keyword occurs in the alarm title or
// text. Keywords are matched case-insensitively and applied in sorted order
// so the result does not depend on map iteration.
func TagKeywords(a *alarm.Alarm, keywords map[string]string) {
	if len(keywords) == 0 {
		return
	}

	haystack := strings.ToLower(a.Title + "\n" + a.Text)

	sorted := make([]string, 0, len(keywords))
	for keyword := range keywords {
		sorted = append(sorted, keyword)
	}

	sort.Strings(sorted)

	for _, keyword := range sorted {
		if keyword == "" {
			continue
		}

		if strings.Contains(haystack, strings.ToLower(keyword)) {
			a.AddTemplateName(keywords[keyword])
		}
	}
}
