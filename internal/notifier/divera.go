package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
)

// DefaultDiveraURL is the Divera 24/7 API base URL.
const DefaultDiveraURL = "https://app.divera247.com"

// Divera creates and updates alarms through the Divera 24/7 v2 API.
type Divera struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client

	// mu guards foreignID.
	mu sync.Mutex
	// foreignID is the id of the last triggered incident; updates refer to it.
	foreignID string
}

// diveraAlarm is the request body of the alarms endpoint.
type diveraAlarm struct {
	ForeignID string   `json:"foreign_id"`
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	Address   string   `json:"address,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	Groups    []string `json:"group,omitempty"`
	Vehicles  []string `json:"vehicle,omitempty"`
	Members   []string `json:"user_cluster_relation,omitempty"`
}

// NewDivera creates a Divera notifier. An empty baseURL uses DefaultDiveraURL.
func NewDivera(name, apiKey, baseURL string, client *http.Client) *Divera {
	if baseURL == "" {
		baseURL = DefaultDiveraURL
	}

	return &Divera{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Trigger creates a new Divera alarm.
func (d *Divera) Trigger(ctx context.Context, a *alarm.Alarm) error {
	d.mu.Lock()
	d.foreignID = a.ID
	d.mu.Unlock()

	logger.InfoKV(ctx, "Divera trigger", "target", d.name, "foreign_id", a.ID)

	return d.send(ctx, http.MethodPost, "/api/v2/alarms", d.payload(a, a.ID))
}

// Update amends the alarm created by the last Trigger.
func (d *Divera) Update(ctx context.Context, a *alarm.Alarm) error {
	d.mu.Lock()
	foreignID := d.foreignID
	d.mu.Unlock()

	if foreignID == "" {
		foreignID = a.ID
	}

	logger.InfoKV(ctx, "Divera update", "target", d.name, "foreign_id", foreignID)

	return d.send(ctx, http.MethodPut, "/api/v2/alarms/"+url.PathEscape(foreignID), d.payload(a, foreignID))
}

func (d *Divera) payload(a *alarm.Alarm, foreignID string) diveraAlarm {
	body := diveraAlarm{
		ForeignID: foreignID,
		Title:     a.Title,
		Text:      FormatText(a),
		Address:   formatAddress(a.Address),
	}

	if a.Address.Coordinates.Valid() {
		body.Lat = a.Address.Coordinates.Lat
		body.Lng = a.Address.Coordinates.Lon
	}

	if receiver, ok := a.Receivers[d.name]; ok {
		body.Groups = receiver.Groups
		body.Vehicles = receiver.Vehicles
		body.Members = receiver.Members
	}

	return body
}

func (d *Divera) send(ctx context.Context, method, path string, body diveraAlarm) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode divera alarm: %w", err)
	}

	endpoint := d.baseURL + path + "?accesskey=" + url.QueryEscape(d.apiKey)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build divera request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("divera request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	return checkStatus("divera", resp)
}

// checkStatus turns a non-2xx response into an error carrying a body excerpt.
func checkStatus(service string, resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	return fmt.Errorf("%w: %s returned %s: %s", ErrUnexpectedStatus, service, resp.Status, strings.TrimSpace(string(excerpt)))
}
