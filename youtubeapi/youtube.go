package youtubeapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// Service is the broadcast lifecycle client. All remote calls go through the
// shared RetryPolicy and carry explicit timeouts via the caller's context.
type Service struct {
	yt    *yt.Service
	retry RetryPolicy

	// Transition polling: activation is asynchronous on the remote side, so
	// a transition request is followed by status polls until confirmation.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// New builds the lifecycle client. Extra options let tests point the client
// at an httptest server (WithEndpoint + WithoutAuthentication).
func New(ctx context.Context, ts oauth2.TokenSource, retry RetryPolicy, opts ...option.ClientOption) (*Service, error) {
	all := make([]option.ClientOption, 0, len(opts)+1)
	if ts != nil {
		all = append(all, option.WithTokenSource(ts))
	}
	all = append(all, opts...)
	svc, err := yt.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Service{
		yt:           svc,
		retry:        retry,
		PollInterval: 5 * time.Second,
		PollTimeout:  2 * time.Minute,
	}, nil
}

// CreateSession provisions a complete broadcast+ingest pair: insert a live
// stream (RTMP ingest), insert a broadcast, bind them. Each step runs under
// the retry policy; the returned session is already bound (remote "ready").
// The caller assigns the local sequence id and rotation deadline.
func (s *Service) CreateSession(ctx context.Context, title, description, privacy string) (*BroadcastSession, error) {
	if privacy == "" {
		privacy = "public"
	}

	stream := &yt.LiveStream{
		Snippet: &yt.LiveStreamSnippet{
			Title:       title,
			Description: "Ingest for " + title,
		},
		Cdn: &yt.CdnSettings{
			FrameRate:     "variable",
			IngestionType: "rtmp",
			Resolution:    "variable",
		},
	}
	var streamRes *yt.LiveStream
	err := s.retry.Do(ctx, "livestreams.insert", func() error {
		var err error
		streamRes, err = s.yt.LiveStreams.Insert([]string{"snippet", "cdn", "status"}, stream).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	if streamRes.Cdn == nil || streamRes.Cdn.IngestionInfo == nil {
		return nil, fmt.Errorf("livestreams.insert: response missing ingestion info")
	}
	ingest := streamRes.Cdn.IngestionInfo.IngestionAddress + "/" + streamRes.Cdn.IngestionInfo.StreamName

	broadcast := &yt.LiveBroadcast{
		Snippet: &yt.LiveBroadcastSnippet{
			Title:              title,
			Description:        description,
			ScheduledStartTime: time.Now().UTC().Format(time.RFC3339),
		},
		Status: &yt.LiveBroadcastStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
		ContentDetails: &yt.LiveBroadcastContentDetails{
			// The orchestrator drives Testing and Live explicitly, which
			// requires the monitor stream phase; auto start/stop would race
			// those transitions.
			EnableAutoStart: false,
			EnableAutoStop:  false,
			MonitorStream:   &yt.MonitorStreamInfo{EnableMonitorStream: googleapi.Bool(true)},
		},
	}
	var broadcastRes *yt.LiveBroadcast
	err = s.retry.Do(ctx, "livebroadcasts.insert", func() error {
		var err error
		broadcastRes, err = s.yt.LiveBroadcasts.Insert([]string{"snippet", "status", "contentDetails"}, broadcast).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.retry.Do(ctx, "livebroadcasts.bind", func() error {
		_, err := s.yt.LiveBroadcasts.Bind(broadcastRes.Id, []string{"id", "contentDetails"}).StreamId(streamRes.Id).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("session created",
		slog.String("broadcast_id", broadcastRes.Id),
		slog.String("stream_id", streamRes.Id),
		slog.String("title", title))

	return &BroadcastSession{
		BroadcastID: broadcastRes.Id,
		StreamID:    streamRes.Id,
		IngestURL:   ingest,
		Title:       title,
		Status:      StatusBound,
	}, nil
}

// BroadcastStatusOf queries the remote lifecycle status of a broadcast.
// A broadcast the remote side no longer knows about maps to StatusUnknown.
func (s *Service) BroadcastStatusOf(ctx context.Context, broadcastID string) (BroadcastStatus, error) {
	var res *yt.LiveBroadcastListResponse
	err := s.retry.Do(ctx, "livebroadcasts.list", func() error {
		var err error
		res, err = s.yt.LiveBroadcasts.List([]string{"status"}).Id(broadcastID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return StatusUnknown, err
	}
	if len(res.Items) == 0 || res.Items[0].Status == nil {
		return StatusUnknown, nil
	}
	return ParseLifecycleStatus(res.Items[0].Status.LifeCycleStatus), nil
}

// StreamActive reports whether the ingest endpoint is receiving data.
func (s *Service) StreamActive(ctx context.Context, streamID string) (bool, error) {
	var res *yt.LiveStreamListResponse
	err := s.retry.Do(ctx, "livestreams.list", func() error {
		var err error
		res, err = s.yt.LiveStreams.List([]string{"status"}).Id(streamID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return false, err
	}
	if len(res.Items) == 0 || res.Items[0].Status == nil {
		return false, nil
	}
	return res.Items[0].Status.StreamStatus == "active", nil
}

// Transition drives the broadcast forward to target and polls the remote
// status until it confirms or the poll budget elapses. Backward transitions
// are rejected locally; Complete (and Failed) are reachable from any state.
func (s *Service) Transition(ctx context.Context, session *BroadcastSession, target BroadcastStatus) error {
	var remote string
	switch target {
	case StatusTesting:
		remote = "testing"
	case StatusLive:
		remote = "live"
	case StatusComplete:
		remote = "complete"
	default:
		return fmt.Errorf("transition to %s is not requestable", target)
	}
	if target != StatusComplete && statusRank(target) <= statusRank(session.Status) {
		return fmt.Errorf("backward transition %s -> %s rejected", session.Status, target)
	}

	err := s.retry.Do(ctx, "livebroadcasts.transition", func() error {
		_, err := s.yt.LiveBroadcasts.Transition(remote, session.BroadcastID, []string{"id", "status"}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.PollTimeout)
	for {
		got, err := s.BroadcastStatusOf(ctx, session.BroadcastID)
		if err == nil && statusRank(got) >= statusRank(target) {
			session.Status = got
			return nil
		}
		if err != nil {
			slog.Warn("transition status poll failed", slog.String("broadcast_id", session.BroadcastID), slog.Any("err", err))
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("broadcast %s did not reach %s within %s", session.BroadcastID, target, s.PollTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.PollInterval):
		}
	}
}

// EndSession transitions the broadcast to complete, best effort. Ending an
// already-finished broadcast is not safety-critical, so failures are logged
// and swallowed. The session is marked Complete locally regardless.
func (s *Service) EndSession(ctx context.Context, session *BroadcastSession) {
	if session == nil || session.BroadcastID == "" {
		return
	}
	err := s.retry.Do(ctx, "livebroadcasts.transition", func() error {
		_, err := s.yt.LiveBroadcasts.Transition("complete", session.BroadcastID, []string{"id", "status"}).Context(ctx).Do()
		return err
	})
	if err != nil {
		slog.Warn("failed to complete broadcast", slog.String("broadcast_id", session.BroadcastID), slog.Any("err", err))
	}
	session.Status = StatusComplete
}
