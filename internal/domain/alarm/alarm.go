package alarm

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Coordinates is an optional geographic position of the incident.
// Lat and Lon are either both set or treated as missing.
type Coordinates struct {
	// Lat is the latitude in decimal degrees.
	Lat *float64 `json:"lat,omitempty"`
	// Lon is the longitude in decimal degrees.
	Lon *float64 `json:"lon,omitempty"`
}

// Valid reports whether both latitude and longitude are present.
func (c Coordinates) Valid() bool {
	return c.Lat != nil && c.Lon != nil
}

// MapURL returns an OpenStreetMap link for the position or an empty string
// when only one of the two values is known.
func (c Coordinates) MapURL() string {
	if !c.Valid() {
		return ""
	}

	return fmt.Sprintf("https://www.openstreetmap.org/?mlat=%f&mlon=%f#map=17/%f/%f", *c.Lat, *c.Lon, *c.Lat, *c.Lon)
}

// Address is the structured location of an incident.
type Address struct {
	Street      string      `json:"street,omitempty"`
	City        string      `json:"city,omitempty"`
	Object      string      `json:"object,omitempty"`
	ObjectID    string      `json:"object_id,omitempty"`
	Info        string      `json:"info,omitempty"`
	UTM         string      `json:"utm,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
}

// Receiver lists the opaque names a notifier resolves into recipients.
type Receiver struct {
	Groups   []string `json:"groups"`
	Vehicles []string `json:"vehicles"`
	Members  []string `json:"members"`
}

// Clone returns a deep copy of the receiver.
func (r *Receiver) Clone() *Receiver {
	if r == nil {
		return nil
	}

	return &Receiver{
		Groups:   cloneStrings(r.Groups),
		Vehicles: cloneStrings(r.Vehicles),
		Members:  cloneStrings(r.Members),
	}
}

// MailData keeps the mail metadata an alarm was built from.
type MailData struct {
	ID      string    `json:"id,omitempty"`
	Sender  string    `json:"sender,omitempty"`
	Subject string    `json:"subject,omitempty"`
	Content string    `json:"content,omitempty"`
	Date    time.Time `json:"date"`
}

// SerialData keeps the raw fields of a serial frame.
type SerialData struct {
	Date    string `json:"date,omitempty"`
	RIC     string `json:"ric,omitempty"`
	Content string `json:"content,omitempty"`
}

// Alarm is the canonical incident record.
type Alarm struct {
	// ID identifies the alarm inside this process.
	ID string `json:"id"`
	// Origin is the name of the source that produced the alarm.
	Origin string `json:"origin"`
	// Title is the incident keyword or headline.
	Title string `json:"title"`
	// Text is the free-text body shown to receivers.
	Text string `json:"text"`
	// Time is when the alarm was received; arbitration compares it.
	Time    time.Time `json:"time"`
	Address Address   `json:"address"`
	Units   []string  `json:"units,omitempty"`
	// Receivers maps a notifier target name to the resolved receivers.
	Receivers map[string]*Receiver `json:"receivers"`
	// Webhooks accumulates the webhook URLs of every applied template.
	Webhooks []string `json:"webhooks,omitempty"`
	// TemplateNames are the templates tagged by the parser, applied after "default".
	TemplateNames []string   `json:"template_names,omitempty"`
	Mail          MailData   `json:"mail"`
	Serial        SerialData `json:"serial"`
}

// New returns an empty alarm for the given origin stamped with the current time.
func New(origin string) *Alarm {
	return &Alarm{
		ID:        uuid.NewString(),
		Origin:    origin,
		Time:      time.Now(),
		Receivers: make(map[string]*Receiver),
	}
}

// AppendText appends text to the alarm body.
func (a *Alarm) AppendText(text string) {
	a.Text += text
}

// AddUnit appends a dispatched unit.
func (a *Alarm) AddUnit(unit string) {
	a.Units = append(a.Units, unit)
}

// AddTemplateName tags a template to be applied after the default one.
// Repeated names are kept and applied again.
func (a *Alarm) AddTemplateName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	a.TemplateNames = append(a.TemplateNames, name)
}

// ApplyTemplate merges one template entry for target into the alarm.
//
// Receiver fields are replaced only when the template defines them, so the
// last applied template with a defined field wins. Webhook URLs are appended
// and never replace earlier ones.
func (a *Alarm) ApplyTemplate(target string, tmpl TargetTemplate) {
	if tmpl.Receiver == nil {
		a.Webhooks = append(a.Webhooks, tmpl.Webhooks...)

		return
	}

	if a.Receivers == nil {
		a.Receivers = make(map[string]*Receiver)
	}

	receiver, ok := a.Receivers[target]
	if !ok {
		receiver = &Receiver{
			Groups:   []string{},
			Vehicles: []string{},
			Members:  []string{},
		}
		a.Receivers[target] = receiver
	}

	if tmpl.Receiver.Groups != nil {
		receiver.Groups = cloneStrings(*tmpl.Receiver.Groups)
	}

	if tmpl.Receiver.Vehicles != nil {
		receiver.Vehicles = cloneStrings(*tmpl.Receiver.Vehicles)
	}

	if tmpl.Receiver.Members != nil {
		receiver.Members = cloneStrings(*tmpl.Receiver.Members)
	}
}

// Clone returns a deep copy of the alarm.
func (a *Alarm) Clone() *Alarm {
	if a == nil {
		return nil
	}

	cloned := *a
	cloned.Units = cloneStrings(a.Units)
	cloned.Webhooks = cloneStrings(a.Webhooks)
	cloned.TemplateNames = cloneStrings(a.TemplateNames)
	cloned.Address.Coordinates = Coordinates{
		Lat: cloneFloat(a.Address.Coordinates.Lat),
		Lon: cloneFloat(a.Address.Coordinates.Lon),
	}

	cloned.Receivers = make(map[string]*Receiver, len(a.Receivers))
	for target, receiver := range a.Receivers {
		cloned.Receivers[target] = receiver.Clone()
	}

	return &cloned
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}

	out := make([]string, len(in))
	copy(out, in)

	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}

	v := *f

	return &v
}
