package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/service/relay"
	"github.com/oshokin/alarm-relay/internal/source/serial"
)

const relayConfig = `
general:
  timeout: 10m
  grpc_addr: %s
  status_addr: %s
notifiers:
  - name: log
    type: mock
sources:
  serial:
    - name: dme
      port: /dev/ttyTEST
      keywords: [FEUER]
templates:
  default:
    log:
      members: ["1001"]
`

// scriptedPort delivers frames pushed by the test and fails once told to.
type scriptedPort struct {
	frames chan string
	fail   chan error
}

func (p *scriptedPort) Read(buf []byte) (int, error) {
	select {
	case frame := <-p.frames:
		return copy(buf, frame), nil
	case err := <-p.fail:
		return 0, err
	case <-time.After(time.Millisecond):
		return 0, nil
	}
}

func (p *scriptedPort) Close() error { return nil }

// freeAddress reserves a loopback port for a test server.
func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// startRelay runs the daemon with a scripted serial receiver.
// Returns a stop function that cancels it and waits for it to return.
func startRelay(t *testing.T, grpcAddr, statusAddr string, port *scriptedPort) (stop func()) {
	t.Helper()

	cfgPath := filepath.Join(t.TempDir(), "alarm-relay.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(relayConfig, grpcAddr, statusAddr)), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- relay.Run(ctx, &relay.Options{
			ConfigPath: cfgPath,
			SerialOpener: func(*config.SerialSource) (serial.Port, error) {
				return port, nil
			},
		})
	}()

	return func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("relay did not stop")
		}
	}
}

func checkHealth(ctx context.Context, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}

	return resp.GetStatus()
}

func lastAlarm(ctx context.Context, statusAddr string) (*alarm.Alarm, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+statusAddr+"/v1/alarms/last", nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var last alarm.Alarm
	if err = json.NewDecoder(resp.Body).Decode(&last); err != nil {
		return nil, resp.StatusCode, err
	}

	return &last, resp.StatusCode, nil
}

// TestRelay_HealthAndStatus starts the real daemon and observes it through
// the gRPC health service and the status API.
func TestRelay_HealthAndStatus(t *testing.T) {
	t.Parallel()

	var (
		grpcAddr   = freeAddress(t)
		statusAddr = freeAddress(t)
		port       = &scriptedPort{frames: make(chan string, 1), fail: make(chan error, 1)}
	)

	stop := startRelay(t, grpcAddr, statusAddr, port)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	defer func() {
		_ = conn.Close()
	}()

	health := healthpb.NewHealthClient(conn)

	require.Eventually(t, func() bool {
		return checkHealth(ctx, health, "serial/dme") == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_, code, err := lastAlarm(ctx, statusAddr)

		return err == nil && code == http.StatusNotFound
	}, 5*time.Second, 20*time.Millisecond)

	port.frames <- "2024-01-01\r\nRIC1\r\nFEUER Musterstr 1\r\n"

	require.Eventually(t, func() bool {
		last, code, err := lastAlarm(ctx, statusAddr)

		return err == nil && code == http.StatusOK && last.Title == "FEUER"
	}, 5*time.Second, 20*time.Millisecond)

	// A broken receiver ends only its own source.
	port.fail <- net.ErrClosed

	require.Eventually(t, func() bool {
		return checkHealth(ctx, health, "serial/dme") == healthpb.HealthCheckResponse_NOT_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, healthpb.HealthCheckResponse_SERVING, checkHealth(ctx, health, ""))
}
