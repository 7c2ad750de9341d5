package notifier

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-relay/internal/config"
)

// brokerMessage is one message received by a fake broker.
type brokerMessage struct {
	topic   string
	payload []byte
}

// fakeBroker accepts connections and hands each one to serve.
type fakeBroker struct {
	listener  net.Listener
	published chan brokerMessage
}

func newFakeBroker(t *testing.T, serve func(b *fakeBroker, conn net.Conn)) *fakeBroker {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &fakeBroker{
		listener:  listener,
		published: make(chan brokerMessage, 8),
	}

	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func() {
				defer conn.Close()

				serve(b, conn)
			}()
		}
	}()

	return b
}

func (b *fakeBroker) addr() string {
	return b.listener.Addr().String()
}

func (b *fakeBroker) next(t *testing.T) brokerMessage {
	t.Helper()

	select {
	case msg := <-b.published:
		return msg
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no message published")

		return brokerMessage{}
	}
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	return addr
}

func requireEvent(t *testing.T, payload []byte, kind string) {
	t.Helper()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, kind, decoded["event"])
	require.Equal(t, "FEUER", decoded["alarm"].(map[string]any)["title"])
}

// serveMQTT speaks enough MQTT 3.1.1 to accept a client and record publishes.
func serveMQTT(b *fakeBroker, conn net.Conn) {
	r := bufio.NewReader(conn)

	for {
		header, err := r.ReadByte()
		if err != nil {
			return
		}

		length, err := readRemainingLength(r)
		if err != nil {
			return
		}

		body := make([]byte, length)
		if _, err = io.ReadFull(r, body); err != nil {
			return
		}

		switch header >> 4 {
		case 1: // CONNECT
			_, _ = conn.Write([]byte{0x20, 0x02, 0x00, 0x00})
		case 3: // PUBLISH
			topicLen := int(binary.BigEndian.Uint16(body))
			topic := string(body[2 : 2+topicLen])
			rest := body[2+topicLen:]

			if qos := (header >> 1) & 0x03; qos > 0 {
				_, _ = conn.Write([]byte{0x40, 0x02, rest[0], rest[1]})
				rest = rest[2:]
			}

			b.published <- brokerMessage{topic: topic, payload: rest}
		case 12: // PINGREQ
			_, _ = conn.Write([]byte{0xD0, 0x00})
		case 14: // DISCONNECT
			return
		}
	}
}

func readRemainingLength(r *bufio.Reader) (int, error) {
	var length, shift int

	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}

		length |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return length, nil
		}

		shift += 7
	}
}

// serveNATS speaks enough of the NATS text protocol for publish and flush.
func serveNATS(b *fakeBroker, conn net.Conn) {
	info := `INFO {"server_id":"fake","version":"2.10.0","proto":1,"max_payload":1048576}` + "\r\n"
	if _, err := conn.Write([]byte(info)); err != nil {
		return
	}

	r := bufio.NewReader(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}

		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "PING"):
			_, _ = conn.Write([]byte("PONG\r\n"))
		case strings.HasPrefix(line, "PUB "):
			fields := strings.Fields(line)

			size, err := strconv.Atoi(fields[len(fields)-1])
			if err != nil {
				return
			}

			payload := make([]byte, size+2)
			if _, err = io.ReadFull(r, payload); err != nil {
				return
			}

			b.published <- brokerMessage{topic: fields[1], payload: payload[:size]}
		}
	}
}

// serveRedis answers RESP commands; HELLO is refused so the client stays on RESP2.
func serveRedis(b *fakeBroker, conn net.Conn) {
	r := bufio.NewReader(conn)

	for {
		args, err := readCommand(r)
		if err != nil || len(args) == 0 {
			return
		}

		switch strings.ToUpper(args[0]) {
		case "HELLO":
			_, _ = conn.Write([]byte("-ERR unknown command 'HELLO'\r\n"))
		case "PING":
			_, _ = conn.Write([]byte("+PONG\r\n"))
		case "PUBLISH":
			b.published <- brokerMessage{topic: args[1], payload: []byte(args[2])}

			_, _ = conn.Write([]byte(":1\r\n"))
		default:
			_, _ = conn.Write([]byte("+OK\r\n"))
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}

	count, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "*")))
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, count)

	for i := 0; i < count; i++ {
		if line, err = r.ReadString('\n'); err != nil {
			return nil, err
		}

		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "$")))
		if err != nil {
			return nil, err
		}

		arg := make([]byte, size+2)
		if _, err = io.ReadFull(r, arg); err != nil {
			return nil, err
		}

		args = append(args, string(arg[:size]))
	}

	return args, nil
}

// TestMQTT_Publish delivers trigger and update events with QoS 1.
func TestMQTT_Publish(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker(t, serveMQTT)
	m := NewMQTT(config.Notifier{
		Name:  "bus",
		URL:   "tcp://" + broker.addr(),
		Topic: "alarms/relay",
		QoS:   1,
	}, 2*time.Second)

	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Trigger(context.Background(), testAlarm("bus")))

	msg := broker.next(t)
	require.Equal(t, "alarms/relay", msg.topic)
	requireEvent(t, msg.payload, EventTrigger)

	require.NoError(t, m.Update(context.Background(), testAlarm("bus")))
	requireEvent(t, broker.next(t).payload, EventUpdate)
}

// TestMQTT_ConnectFailure reports an unreachable broker.
func TestMQTT_ConnectFailure(t *testing.T) {
	t.Parallel()

	m := NewMQTT(config.Notifier{Name: "bus", URL: "tcp://" + closedAddr(t), Topic: "alarms"}, 2*time.Second)

	err := m.Trigger(context.Background(), testAlarm("bus"))
	require.ErrorContains(t, err, "mqtt connect")
	require.NoError(t, m.Close())
}

// doneToken is an already completed paho token.
type doneToken struct {
	err error
}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }

func (doneToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)

	return done
}

func (t doneToken) Error() error { return t.err }

// fakeMQTTClient tracks connection state the way paho reports it.
type fakeMQTTClient struct {
	mqtt.Client

	mu          sync.Mutex
	open        bool
	connected   bool
	connectErr  error
	connects    int
	publishes   int
	disconnects int
}

func (c *fakeMQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func (c *fakeMQTTClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.open
}

//nolint:ireturn // mqtt.Token is the library's interface.
func (c *fakeMQTTClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connects++

	if c.connectErr == nil {
		c.open, c.connected = true, true
	}

	return doneToken{err: c.connectErr}
}

//nolint:ireturn // mqtt.Token is the library's interface.
func (c *fakeMQTTClient) Publish(string, byte, bool, any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.publishes++

	return doneToken{}
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disconnects++
	c.open, c.connected = false, false
}

func (c *fakeMQTTClient) set(open, connected bool, connectErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open, c.connected, c.connectErr = open, connected, connectErr
}

func (c *fakeMQTTClient) counts() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connects, c.publishes, c.disconnects
}

func newFakeMQTT(qos byte) (*MQTT, *fakeMQTTClient, *int) {
	client := new(fakeMQTTClient)
	created := new(int)

	m := NewMQTT(config.Notifier{Name: "bus", URL: "tcp://broker:1883", Topic: "alarms", QoS: qos}, time.Second)
	m.newClient = func(*mqtt.ClientOptions) mqtt.Client {
		*created++

		return client
	}

	return m, client, created
}

// TestMQTT_ReusesClientAcrossReconnects never builds a second client for the same ID.
func TestMQTT_ReusesClientAcrossReconnects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, client, created := newFakeMQTT(1)

	require.NoError(t, m.Trigger(ctx, testAlarm("bus")))

	// Connection dropped, paho reconnects in the background.
	client.set(false, true, nil)
	require.NoError(t, m.Update(ctx, testAlarm("bus")))

	connects, publishes, _ := client.counts()
	require.Equal(t, 1, connects)
	require.Equal(t, 2, publishes)

	// Connection gone for good: the same client connects again.
	client.set(false, false, nil)
	require.NoError(t, m.Trigger(ctx, testAlarm("bus")))

	require.NoError(t, m.Close())

	connects, publishes, disconnects := client.counts()
	require.Equal(t, 2, connects)
	require.Equal(t, 3, publishes)
	require.Equal(t, 1, disconnects)
	require.Equal(t, 1, *created)
}

// TestMQTT_QoS0WhileReconnecting fails instead of dropping the event.
func TestMQTT_QoS0WhileReconnecting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, client, _ := newFakeMQTT(0)

	require.NoError(t, m.Trigger(ctx, testAlarm("bus")))

	client.set(false, true, nil)
	require.ErrorIs(t, m.Update(ctx, testAlarm("bus")), errMQTTReconnecting)

	_, publishes, _ := client.counts()
	require.Equal(t, 1, publishes)
}

// TestMQTT_RetriesConnectOnSameClient recovers after a failed first connect.
func TestMQTT_RetriesConnectOnSameClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, client, created := newFakeMQTT(1)

	client.set(false, false, errors.New("connection refused"))
	require.ErrorContains(t, m.Trigger(ctx, testAlarm("bus")), "mqtt connect")

	client.set(false, false, nil)
	require.NoError(t, m.Trigger(ctx, testAlarm("bus")))

	connects, publishes, _ := client.counts()
	require.Equal(t, 2, connects)
	require.Equal(t, 1, publishes)
	require.Equal(t, 1, *created)
}

// TestNATS_Publish publishes and flushes events on the subject.
func TestNATS_Publish(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker(t, serveNATS)
	n := NewNATS(config.Notifier{Name: "bus", URL: "nats://" + broker.addr(), Topic: "alarms.relay"}, 2*time.Second)

	t.Cleanup(func() { _ = n.Close() })

	require.NoError(t, n.Trigger(context.Background(), testAlarm("bus")))

	msg := broker.next(t)
	require.Equal(t, "alarms.relay", msg.topic)
	requireEvent(t, msg.payload, EventTrigger)

	require.NoError(t, n.Update(context.Background(), testAlarm("bus")))
	requireEvent(t, broker.next(t).payload, EventUpdate)
}

// TestNATS_ConnectFailure reports an unreachable server.
func TestNATS_ConnectFailure(t *testing.T) {
	t.Parallel()

	n := NewNATS(config.Notifier{Name: "bus", URL: "nats://" + closedAddr(t), Topic: "alarms"}, time.Second)

	require.ErrorContains(t, n.Trigger(context.Background(), testAlarm("bus")), "nats connect")
	require.NoError(t, n.Close())
}

// TestRedis_Publish publishes events on the channel.
func TestRedis_Publish(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker(t, serveRedis)

	r, err := NewRedis(config.Notifier{Name: "bus", URL: broker.addr(), Topic: "alarms"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.Trigger(context.Background(), testAlarm("bus")))

	msg := broker.next(t)
	require.Equal(t, "alarms", msg.topic)
	requireEvent(t, msg.payload, EventTrigger)
}

// TestRedis_ConnectFailure reports an unreachable server.
func TestRedis_ConnectFailure(t *testing.T) {
	t.Parallel()

	r, err := NewRedis(config.Notifier{Name: "bus", URL: "redis://" + closedAddr(t), Topic: "alarms"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.ErrorContains(t, r.Trigger(ctx, testAlarm("bus")), "redis publish")
	require.NoError(t, r.Close())
}
