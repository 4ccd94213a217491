// Package testutil provides httptest-backed mocks of the YouTube Live
// Streaming API endpoints used by the lifecycle client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Route keys for the youtube/v3 endpoints the client touches. Insert and
// list share a path, so routes are keyed by method + path.
const (
	RouteStreamInsert    = "POST /youtube/v3/liveStreams"
	RouteStreamList      = "GET /youtube/v3/liveStreams"
	RouteBroadcastInsert = "POST /youtube/v3/liveBroadcasts"
	RouteBroadcastList   = "GET /youtube/v3/liveBroadcasts"
	RouteBind            = "POST /youtube/v3/liveBroadcasts/bind"
	RouteTransition      = "POST /youtube/v3/liveBroadcasts/transition"
)

// MockYouTubeServer mocks the youtube/v3 endpoints the lifecycle client
// uses. Handlers are keyed by "METHOD /path"; unmatched routes return 404.
// Calls records per-route hit counts for assertions.
type MockYouTubeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	calls map[string]int
}

// NewMockYouTubeServer creates a mock API server, closed automatically at
// test cleanup.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		Handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		m.mu.Lock()
		m.calls[key]++
		m.mu.Unlock()
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Calls returns how many requests hit the given route.
func (m *MockYouTubeServer) Calls(route string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[route]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockStreamInsert serves liveStreams.insert with the given id and ingest
// address/key pair.
func (m *MockYouTubeServer) MockStreamInsert(streamID, ingestionAddress, streamName string) {
	m.Handlers[RouteStreamInsert] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id": streamID,
			"cdn": map[string]any{
				"ingestionInfo": map[string]string{
					"ingestionAddress": ingestionAddress,
					"streamName":       streamName,
				},
			},
		})
	}
}

// MockBroadcastInsert serves liveBroadcasts.insert with the given id.
func (m *MockYouTubeServer) MockBroadcastInsert(broadcastID string) {
	m.Handlers[RouteBroadcastInsert] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": broadcastID})
	}
}

// MockBind serves liveBroadcasts.bind.
func (m *MockYouTubeServer) MockBind(broadcastID string) {
	m.Handlers[RouteBind] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": broadcastID})
	}
}

// MockTransition serves liveBroadcasts.transition.
func (m *MockYouTubeServer) MockTransition(broadcastID string) {
	m.Handlers[RouteTransition] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": broadcastID})
	}
}

// MockBroadcastStatus serves liveBroadcasts.list with a single item in the
// given lifeCycleStatus.
func (m *MockYouTubeServer) MockBroadcastStatus(broadcastID, lifeCycleStatus string) {
	m.Handlers[RouteBroadcastList] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"items": []map[string]any{
				{"id": broadcastID, "status": map[string]string{"lifeCycleStatus": lifeCycleStatus}},
			},
		})
	}
}

// MockBroadcastNotFound serves liveBroadcasts.list with no items, as the
// remote does for broadcasts it no longer knows about.
func (m *MockYouTubeServer) MockBroadcastNotFound() {
	m.Handlers[RouteBroadcastList] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"items": []any{}})
	}
}

// MockStreamStatus serves liveStreams.list with a single item in the given
// streamStatus.
func (m *MockYouTubeServer) MockStreamStatus(streamID, streamStatus string) {
	m.Handlers[RouteStreamList] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"items": []map[string]any{
				{"id": streamID, "status": map[string]string{"streamStatus": streamStatus}},
			},
		})
	}
}

// MockError makes a route fail with the given HTTP status and googleapi
// error reason for n requests (n < 0 means always), then delegates to next
// (nil = 404 after the failures run out).
func (m *MockYouTubeServer) MockError(route string, status int, reason string, n int, next http.HandlerFunc) {
	remaining := n
	m.Handlers[route] = func(w http.ResponseWriter, r *http.Request) {
		if remaining != 0 {
			remaining--
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
				"error": map[string]any{
					"code":    status,
					"message": reason,
					"errors":  []map[string]string{{"reason": reason, "message": reason}},
				},
			})
			return
		}
		if next != nil {
			next(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}
}
