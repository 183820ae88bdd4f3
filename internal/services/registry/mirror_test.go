package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/services/jobqueue"
)

type captureServer struct {
	mu       sync.Mutex
	bodies   []Summary
	auth     []string
	failures int
	server   *httptest.Server
}

// newCaptureServer records mirrored summaries; the first failCount
// requests are answered with a 500.
func newCaptureServer(t *testing.T, failCount int) *captureServer {
	t.Helper()
	cs := &captureServer{failures: failCount}
	cs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		cs.mu.Lock()
		defer cs.mu.Unlock()
		if cs.failures > 0 {
			cs.failures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var summary Summary
		if err := json.Unmarshal(body, &summary); err == nil {
			cs.bodies = append(cs.bodies, summary)
			cs.auth = append(cs.auth, r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(cs.server.Close)
	return cs
}

func (cs *captureServer) received() []Summary {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]Summary, len(cs.bodies))
	copy(out, cs.bodies)
	return out
}

func newTestQueue(t *testing.T) *jobqueue.Queue {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return jobqueue.New(client, jobqueue.Config{Namespace: "test", MaxAttempts: 3, Backoff: 20 * time.Millisecond})
}

func TestMirrorDeliversDecisionSummaries(t *testing.T) {
	cs := newCaptureServer(t, 0)
	mirror := New(Config{Endpoint: cs.server.URL, APIKey: "registry-key"}, nil, zap.NewNop())
	require.NoError(t, mirror.Start())
	defer mirror.Stop()

	ctx := context.Background()
	mirror.Publish(ctx, engine.Event{
		Type:      engine.EventDiscussionDecided,
		SectorID:  "sector-1",
		Payload:   map[string]string{"id": "d-1"},
		Timestamp: time.Now().UTC(),
	})
	mirror.Publish(ctx, engine.Event{
		Type:      engine.EventItemExecuted,
		SectorID:  "sector-1",
		Payload:   map[string]string{"symbol": "TECH"},
		Timestamp: time.Now().UTC(),
	})

	assert.Eventually(t, func() bool {
		return len(cs.received()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	events := map[string]bool{}
	for _, summary := range cs.received() {
		events[summary.Event] = true
		assert.Equal(t, "sector-1", summary.SectorID)
		assert.False(t, summary.Timestamp.IsZero())
	}
	assert.True(t, events[string(engine.EventDiscussionDecided)])
	assert.True(t, events[string(engine.EventItemExecuted)])

	cs.mu.Lock()
	for _, auth := range cs.auth {
		assert.Equal(t, "Bearer registry-key", auth)
	}
	cs.mu.Unlock()

	stats := mirror.Stats()
	assert.Equal(t, int64(2), stats.Queued)
	assert.Equal(t, int64(2), stats.Delivered)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestMirrorIgnoresNonDecisionEvents(t *testing.T) {
	cs := newCaptureServer(t, 0)
	mirror := New(Config{Endpoint: cs.server.URL}, nil, zap.NewNop())
	require.NoError(t, mirror.Start())
	defer mirror.Stop()

	ctx := context.Background()
	mirror.Publish(ctx, engine.Event{Type: engine.EventSectorUpdated, SectorID: "sector-1"})
	mirror.Publish(ctx, engine.Event{Type: engine.EventAgentUpdated, SectorID: "sector-1"})
	mirror.Publish(ctx, engine.Event{Type: engine.EventTickCompleted, SectorID: "sector-1"})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, cs.received())
	assert.Equal(t, int64(0), mirror.Stats().Queued)
}

func TestMirrorDurableQueueRetriesFailedDelivery(t *testing.T) {
	cs := newCaptureServer(t, 1)
	queue := newTestQueue(t)

	mirror := New(Config{Endpoint: cs.server.URL, Interval: 15 * time.Millisecond}, queue, zap.NewNop())
	require.NoError(t, mirror.Start())
	defer mirror.Stop()

	mirror.Publish(context.Background(), engine.Event{
		Type:      engine.EventDiscussionDecided,
		SectorID:  "sector-1",
		Payload:   map[string]string{"id": "d-1"},
		Timestamp: time.Now().UTC(),
	})

	assert.Eventually(t, func() bool {
		return len(cs.received()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	summary := cs.received()[0]
	assert.Equal(t, string(engine.EventDiscussionDecided), summary.Event)

	stats := mirror.Stats()
	assert.Equal(t, int64(1), stats.Queued)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.GreaterOrEqual(t, stats.Failed, int64(1))
}

func TestMirrorStartStopLifecycle(t *testing.T) {
	cs := newCaptureServer(t, 0)
	mirror := New(Config{Endpoint: cs.server.URL}, nil, zap.NewNop())

	require.NoError(t, mirror.Start())
	assert.Error(t, mirror.Start())

	mirror.Stop()
	// Idempotent.
	mirror.Stop()
}
