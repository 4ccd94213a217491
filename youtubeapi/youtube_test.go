package youtubeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/onnwee/camlive/testutil"
)

func newTestService(t *testing.T, srv *testutil.MockYouTubeServer) *Service {
	t.Helper()
	retry := RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		MaxQuotaWait: time.Hour,
	}
	s, err := New(context.Background(), nil, retry,
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.PollInterval = time.Millisecond
	s.PollTimeout = 200 * time.Millisecond
	return s
}

func TestCreateSession(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockStreamInsert("stream-1", "rtmp://a.rtmp.youtube.com/live2", "abcd-efgh")
	srv.MockBroadcastInsert("bcast-1")
	srv.MockBind("bcast-1")

	s := newTestService(t, srv)
	sess, err := s.CreateSession(context.Background(), "Cam 2024-03-01 08:00", "desc", "public")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.BroadcastID != "bcast-1" || sess.StreamID != "stream-1" {
		t.Errorf("ids = %s/%s", sess.BroadcastID, sess.StreamID)
	}
	if want := "rtmp://a.rtmp.youtube.com/live2/abcd-efgh"; sess.IngestURL != want {
		t.Errorf("ingest = %q, want %q", sess.IngestURL, want)
	}
	if sess.Status != StatusBound {
		t.Errorf("status = %s, want bound", sess.Status)
	}
	if srv.Calls(testutil.RouteBind) != 1 {
		t.Errorf("bind calls = %d, want 1", srv.Calls(testutil.RouteBind))
	}
}

// The broadcast must carry an explicit monitor stream and no auto
// start/stop: the orchestrator owns the Testing and Live transitions.
func TestCreateSessionBroadcastSettings(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockStreamInsert("stream-1", "rtmp://ingest", "key")
	srv.MockBind("bcast-1")

	var body struct {
		ContentDetails struct {
			EnableAutoStart bool `json:"enableAutoStart"`
			EnableAutoStop  bool `json:"enableAutoStop"`
			MonitorStream   *struct {
				EnableMonitorStream *bool `json:"enableMonitorStream"`
			} `json:"monitorStream"`
		} `json:"contentDetails"`
		Status struct {
			SelfDeclaredMadeForKids *bool `json:"selfDeclaredMadeForKids"`
		} `json:"status"`
	}
	srv.Handlers[testutil.RouteBroadcastInsert] = func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode broadcast insert body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"bcast-1"}`))
	}

	s := newTestService(t, srv)
	if _, err := s.CreateSession(context.Background(), "t", "d", "public"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	ms := body.ContentDetails.MonitorStream
	if ms == nil || ms.EnableMonitorStream == nil || !*ms.EnableMonitorStream {
		t.Error("enableMonitorStream not sent as true")
	}
	if body.ContentDetails.EnableAutoStart {
		t.Error("enableAutoStart set; transitions are driven explicitly")
	}
	if body.Status.SelfDeclaredMadeForKids == nil || *body.Status.SelfDeclaredMadeForKids {
		t.Error("selfDeclaredMadeForKids not sent as false")
	}
}

func TestCreateSessionRetriesTransient(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockStreamInsert("stream-1", "rtmp://ingest", "key")
	ok := srv.Handlers[testutil.RouteStreamInsert]
	srv.MockError(testutil.RouteStreamInsert, http.StatusServiceUnavailable, "backendError", 2, ok)
	srv.MockBroadcastInsert("bcast-1")
	srv.MockBind("bcast-1")

	s := newTestService(t, srv)
	if _, err := s.CreateSession(context.Background(), "t", "d", "public"); err != nil {
		t.Fatalf("CreateSession after transient errors: %v", err)
	}
	if got := srv.Calls(testutil.RouteStreamInsert); got != 3 {
		t.Errorf("stream insert calls = %d, want 3 (2 failures + success)", got)
	}
}

func TestCreateSessionRejectedNotRetried(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockError(testutil.RouteStreamInsert, http.StatusBadRequest, "invalidValue", -1, nil)

	s := newTestService(t, srv)
	_, err := s.CreateSession(context.Background(), "t", "d", "public")
	if err == nil {
		t.Fatal("expected error")
	}
	if Classify(err) != ErrorRejected {
		t.Errorf("class = %s, want rejected", Classify(err))
	}
	if got := srv.Calls(testutil.RouteStreamInsert); got != 1 {
		t.Errorf("stream insert calls = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestCreateSessionQuotaNotRetried(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockError(testutil.RouteStreamInsert, http.StatusForbidden, "quotaExceeded", -1, nil)

	s := newTestService(t, srv)
	_, err := s.CreateSession(context.Background(), "t", "d", "public")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsQuotaExhausted(err) {
		t.Errorf("expected quota classification, got %s", Classify(err))
	}
	if got := srv.Calls(testutil.RouteStreamInsert); got != 1 {
		t.Errorf("stream insert calls = %d, want 1 (quota escalates, no busy retry)", got)
	}
}

func TestTransitionRejectsBackward(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	s := newTestService(t, srv)
	sess := &BroadcastSession{BroadcastID: "b", Status: StatusLive}
	if err := s.Transition(context.Background(), sess, StatusTesting); err == nil {
		t.Fatal("backward transition accepted")
	}
	if srv.Calls(testutil.RouteTransition) != 0 {
		t.Error("backward transition reached the remote API")
	}
}

func TestTransitionPollsUntilConfirmed(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockTransition("b-1")
	polls := 0
	srv.Handlers[testutil.RouteBroadcastList] = func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "liveStarting"
		if polls >= 3 {
			status = "live"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"b-1","status":{"lifeCycleStatus":"` + status + `"}}]}`))
	}

	s := newTestService(t, srv)
	sess := &BroadcastSession{BroadcastID: "b-1", Status: StatusTesting}
	if err := s.Transition(context.Background(), sess, StatusLive); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if sess.Status != StatusLive {
		t.Errorf("status = %s, want live", sess.Status)
	}
	if polls < 1 {
		t.Error("remote status never polled")
	}
}

func TestTransitionTimesOutWithoutConfirmation(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockTransition("b-1")
	srv.MockBroadcastStatus("b-1", "ready")

	s := newTestService(t, srv)
	s.PollTimeout = 10 * time.Millisecond
	sess := &BroadcastSession{BroadcastID: "b-1", Status: StatusBound}
	if err := s.Transition(context.Background(), sess, StatusTesting); err == nil {
		t.Fatal("expected poll timeout error")
	}
}

func TestStreamActive(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockStreamStatus("s-1", "active")
	s := newTestService(t, srv)
	active, err := s.StreamActive(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("StreamActive: %v", err)
	}
	if !active {
		t.Error("active = false, want true")
	}

	srv.MockStreamStatus("s-1", "noData")
	active, err = s.StreamActive(context.Background(), "s-1")
	if err != nil || active {
		t.Errorf("noData: active=%v err=%v", active, err)
	}
}

func TestBroadcastStatusOfUnknownRemote(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockBroadcastStatus("b-1", "someNewRemoteState")
	s := newTestService(t, srv)
	got, err := s.BroadcastStatusOf(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("BroadcastStatusOf: %v", err)
	}
	if got != StatusUnknown {
		t.Errorf("unrecognized remote status mapped to %s, want unknown", got)
	}

	srv.MockBroadcastNotFound()
	got, err = s.BroadcastStatusOf(context.Background(), "b-gone")
	if err != nil || got != StatusUnknown {
		t.Errorf("missing broadcast: got %s err=%v, want unknown", got, err)
	}
}

func TestEndSessionSwallowsFailure(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockError(testutil.RouteTransition, http.StatusForbidden, "redundantTransition", -1, nil)
	s := newTestService(t, srv)
	sess := &BroadcastSession{BroadcastID: "b-1", Status: StatusLive}
	s.EndSession(context.Background(), sess)
	if sess.Status != StatusComplete {
		t.Errorf("status = %s, want complete even on remote failure", sess.Status)
	}
}

func TestParseLifecycleStatus(t *testing.T) {
	cases := map[string]BroadcastStatus{
		"created":      StatusCreated,
		"ready":        StatusBound,
		"testStarting": StatusTesting,
		"testing":      StatusTesting,
		"liveStarting": StatusLive,
		"live":         StatusLive,
		"complete":     StatusComplete,
		"revoked":      StatusFailed,
		"weirdFuture":  StatusUnknown,
		"":             StatusUnknown,
	}
	for remote, want := range cases {
		if got := ParseLifecycleStatus(remote); got != want {
			t.Errorf("ParseLifecycleStatus(%q) = %s, want %s", remote, got, want)
		}
	}
}
