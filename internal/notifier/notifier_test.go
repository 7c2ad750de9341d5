package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// recordedRequest is one request seen by the fake platform.
type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// fakePlatform records requests and answers with a fixed status.
type fakePlatform struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

func (f *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Body:   body,
	})
	status := f.status
	f.mu.Unlock()

	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (f *fakePlatform) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]recordedRequest(nil), f.requests...)
}

func testAlarm(target string, members ...string) *alarm.Alarm {
	lat, lon := 48.137, 11.575

	a := alarm.New("leitstelle")
	a.Title = "FEUER"
	a.Text = "Brand Wohnhaus"
	a.Address = alarm.Address{
		Street:      "Musterstr 1",
		City:        "Musterstadt",
		Coordinates: alarm.Coordinates{Lat: &lat, Lon: &lon},
	}
	a.ApplyTemplate(target, alarm.TargetTemplate{Receiver: &alarm.ReceiverTemplate{
		Groups:  alarm.Strings("all"),
		Members: alarm.Strings(members...),
	}})

	return a
}

// TestRegistry registers, lists and closes notifiers.
func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("b", NewMock("b"))
	r.Register("a", NewMock("a"))

	n, ok := r.Get("a")
	require.True(t, ok)
	require.NotNil(t, n)

	_, ok = r.Get("missing")
	require.False(t, ok)

	require.Equal(t, []string{"a", "b"}, r.Names())
	require.NoError(t, r.Close())
}

// TestBuild constructs every configured type without touching the network.
func TestBuild(t *testing.T) {
	t.Parallel()

	registry, err := Build([]config.Notifier{
		{Name: "divera", Type: config.NotifierDivera, APIKey: "k"},
		{Name: "telegram", Type: config.NotifierTelegram, APIKey: "t"},
		{Name: "bus", Type: config.NotifierMQTT, URL: "tcp://127.0.0.1:1", Topic: "alarms"},
		{Name: "nats", Type: config.NotifierNATS, URL: "nats://127.0.0.1:1", Topic: "alarms"},
		{Name: "redis", Type: config.NotifierRedis, URL: "127.0.0.1:1", Topic: "alarms"},
		{Name: "alamos", Type: config.NotifierAlamos},
	}, WithTimeout(time.Second))
	require.NoError(t, err)
	require.Equal(t, []string{"alamos", "bus", "divera", "nats", "redis", "telegram"}, registry.Names())

	n, _ := registry.Get("bus")
	require.IsType(t, &MQTT{}, n)
	require.NoError(t, registry.Close())

	_, err = Build([]config.Notifier{{Name: "x", Type: "pigeon"}})
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = Build([]config.Notifier{{Name: "r", Type: config.NotifierRedis, URL: "redis://:bad:port/x", Topic: "t"}})
	require.Error(t, err)
}

// TestTelegram_SendsPerMember checks one sendMessage call per member.
func TestTelegram_SendsPerMember(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{status: http.StatusOK}
	server := httptest.NewServer(platform)
	t.Cleanup(server.Close)

	tg := NewTelegram("telegram", "TOKEN", server.URL, server.Client())
	require.NoError(t, tg.Trigger(context.Background(), testAlarm("telegram", "1001", "1002")))

	requests := platform.recorded()
	require.Len(t, requests, 2)
	require.Equal(t, "/botTOKEN/sendMessage", requests[0].Path)
	require.Equal(t, "1001", requests[0].Query.Get("chat_id"))
	require.Equal(t, "1002", requests[1].Query.Get("chat_id"))
	require.Contains(t, requests[0].Query.Get("text"), "FEUER")
	require.Contains(t, requests[0].Query.Get("text"), "openstreetmap")

	require.NoError(t, tg.Update(context.Background(), testAlarm("telegram", "1001")))
	require.Contains(t, platform.recorded()[2].Query.Get("text"), "UPDATE")
}

// TestTelegram_Errors covers missing receivers and non-success responses.
func TestTelegram_Errors(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{status: http.StatusForbidden}
	server := httptest.NewServer(platform)
	t.Cleanup(server.Close)

	tg := NewTelegram("telegram", "TOKEN", server.URL, server.Client())

	err := tg.Trigger(context.Background(), testAlarm("divera"))
	require.ErrorIs(t, err, ErrNoReceivers)

	err = tg.Trigger(context.Background(), testAlarm("telegram", "1001", "1002"))
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	require.Len(t, platform.recorded(), 2)
	require.NotContains(t, err.Error(), "TOKEN")
}

// TestDivera_TriggerThenUpdate creates an alarm and updates it by foreign id.
func TestDivera_TriggerThenUpdate(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{status: http.StatusOK}
	server := httptest.NewServer(platform)
	t.Cleanup(server.Close)

	d := NewDivera("divera", "KEY", server.URL+"/", server.Client())

	first := testAlarm("divera", "alice")
	require.NoError(t, d.Trigger(context.Background(), first))

	update := testAlarm("divera", "bob")
	require.NoError(t, d.Update(context.Background(), update))

	requests := platform.recorded()
	require.Len(t, requests, 2)

	require.Equal(t, http.MethodPost, requests[0].Method)
	require.Equal(t, "/api/v2/alarms", requests[0].Path)
	require.Equal(t, "KEY", requests[0].Query.Get("accesskey"))

	var created diveraAlarm
	require.NoError(t, json.Unmarshal(requests[0].Body, &created))
	require.Equal(t, first.ID, created.ForeignID)
	require.Equal(t, []string{"all"}, created.Groups)
	require.Equal(t, []string{"alice"}, created.Members)
	require.Equal(t, "Musterstr 1, Musterstadt", created.Address)
	require.NotNil(t, created.Lat)

	require.Equal(t, http.MethodPut, requests[1].Method)
	require.Equal(t, "/api/v2/alarms/"+first.ID, requests[1].Path)
}

// TestDivera_StatusError surfaces non-success responses.
func TestDivera_StatusError(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{status: http.StatusInternalServerError}
	server := httptest.NewServer(platform)
	t.Cleanup(server.Close)

	d := NewDivera("divera", "KEY", server.URL, server.Client())
	require.ErrorIs(t, d.Trigger(context.Background(), testAlarm("divera")), ErrUnexpectedStatus)
}

// TestFormatText renders title, text, address, map link and units.
func TestFormatText(t *testing.T) {
	t.Parallel()

	a := testAlarm("telegram")
	a.AddUnit("HLF 20")
	a.AddUnit("DLK 23")

	text := FormatText(a)
	require.Contains(t, text, "FEUER\nBrand Wohnhaus\nMusterstr 1, Musterstadt\nhttps://www.openstreetmap.org/")
	require.Contains(t, text, "HLF 20, DLK 23")

	require.Empty(t, FormatText(alarm.New("x")))
}

// TestEncodeEvent wraps the alarm with its event kind and target.
func TestEncodeEvent(t *testing.T) {
	t.Parallel()

	data, err := encodeEvent(EventUpdate, "bus", testAlarm("bus"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "update", decoded["event"])
	require.Equal(t, "bus", decoded["target"])
	require.Equal(t, "FEUER", decoded["alarm"].(map[string]any)["title"])
}

// TestMock never fails.
func TestMock(t *testing.T) {
	t.Parallel()

	m := NewMock("alamos")
	require.NoError(t, m.Trigger(context.Background(), alarm.New("x")))
	require.NoError(t, m.Update(context.Background(), alarm.New("x")))
}
