package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// TemplateEntry is one target of a template, kept in file order.
type TemplateEntry struct {
	// Target is a notifier name or, for webhook lists, any label.
	Target string
	// Spec is the receiver specification or the webhook list.
	Spec alarm.TargetTemplate
}

// Template is a named bundle of per-target entries.
//
// In YAML every key maps either to a receiver mapping
// (groups/vehicles/members, each optional) or to a list of webhook URLs:
//
//	default:
//	  divera: {groups: [all]}
//	  sirens: [http://siren.local/on]
type Template struct {
	Entries []TemplateEntry
}

var errTemplateNotMapping = errors.New("template must be a mapping of targets")

// UnmarshalYAML decodes a template keeping the order of its targets.
func (t *Template) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errTemplateNotMapping
	}

	entries := make([]TemplateEntry, 0, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		target := node.Content[i].Value
		value := node.Content[i+1]

		var spec alarm.TargetTemplate

		switch value.Kind {
		case yaml.SequenceNode:
			var urls []string
			if err := value.Decode(&urls); err != nil {
				return fmt.Errorf("template target %q: %w", target, err)
			}

			spec.Webhooks = urls
		case yaml.MappingNode:
			receiver := new(alarm.ReceiverTemplate)
			if err := value.Decode(receiver); err != nil {
				return fmt.Errorf("template target %q: %w", target, err)
			}

			spec.Receiver = receiver
		default:
			return fmt.Errorf("template target %q: line %d: expected mapping or list", target, value.Line)
		}

		entries = append(entries, TemplateEntry{Target: target, Spec: spec})
	}

	t.Entries = entries

	return nil
}

// Targets returns the receiver target names of the template, in order.
func (t Template) Targets() []string {
	var names []string

	for _, entry := range t.Entries {
		if !entry.Spec.IsWebhook() {
			names = append(names, entry.Target)
		}
	}

	return names
}
