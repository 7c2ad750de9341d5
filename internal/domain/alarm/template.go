package alarm

// ReceiverTemplate is the receiver part of a template entry.
// A nil field is absent and leaves the alarm's current value untouched.
type ReceiverTemplate struct {
	Groups   *[]string `yaml:"groups"`
	Vehicles *[]string `yaml:"vehicles"`
	Members  *[]string `yaml:"members"`
}

// TargetTemplate is one entry of a named template: either a receiver
// specification for a notifier target or a list of webhook URLs.
type TargetTemplate struct {
	// Receiver is set for notifier targets.
	Receiver *ReceiverTemplate
	// Webhooks is used when Receiver is nil.
	Webhooks []string
}

// IsWebhook reports whether the entry carries webhook URLs.
func (t TargetTemplate) IsWebhook() bool {
	return t.Receiver == nil
}

// Strings is a helper for building optional template fields.
func Strings(values ...string) *[]string {
	out := make([]string, len(values))
	copy(out, values)

	return &out
}
