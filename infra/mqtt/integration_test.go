package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/sohbench/core/model"
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
`

func startMosquitto(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	require.NoError(t, os.WriteFile(path, []byte(mosquittoConf), 0o644))
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })

	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "1883")
	require.NoError(t, err)
	return fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

// TestIntegration runs the bridge against a real Mosquitto broker.
func TestIntegration(t *testing.T) {
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	broker := startMosquitto(t)

	var server, peer *PahoClient
	var err error
	for i := 0; i < 5; i++ {
		server, err = NewPahoClient(Config{Broker: broker})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)
	defer server.Disconnect()
	peer, err = NewPahoClient(Config{Broker: broker})
	require.NoError(t, err)
	defer peer.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewBridge(server, &fakeEstimator{}, "").Start(ctx))

	var mu sync.Mutex
	var got []model.SoHEstimate
	require.NoError(t, peer.Subscribe("soh/+/estimate", func(_ string, payload []byte) {
		var est model.SoHEstimate
		if json.Unmarshal(payload, &est) == nil {
			mu.Lock()
			got = append(got, est)
			mu.Unlock()
		}
	}))

	require.NoError(t, peer.Publish("soh/cell-7/observation", observation(t, "cell-7", 12)))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].UnitID == "cell-7" && got[0].Cycle == 12
	}, 5*time.Second, 50*time.Millisecond)
}
