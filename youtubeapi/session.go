// Package youtubeapi wraps the YouTube Live Streaming API (liveBroadcasts +
// liveStreams) for the single purpose of running a rotating 24/7 restream.
// It owns the broadcast/stream pair lifecycle: create, bind, transition,
// status polling, and best-effort completion, with one centralized retry
// policy shared by every call.
package youtubeapi

import (
	"time"
)

// BroadcastStatus is the closed set of broadcast lifecycle states the
// controller reasons about. Remote status strings are mapped into this enum
// at the client boundary; anything unrecognized becomes StatusUnknown.
type BroadcastStatus int

const (
	StatusUnknown BroadcastStatus = iota
	StatusCreated
	StatusBound
	StatusTesting
	StatusLive
	StatusComplete
	StatusFailed
)

func (s BroadcastStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusBound:
		return "bound"
	case StatusTesting:
		return "testing"
	case StatusLive:
		return "live"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// statusRank orders statuses for the forward-only transition check.
// Complete and Failed are terminal and reachable from anywhere.
func statusRank(s BroadcastStatus) int {
	switch s {
	case StatusCreated:
		return 1
	case StatusBound:
		return 2
	case StatusTesting:
		return 3
	case StatusLive:
		return 4
	case StatusComplete, StatusFailed:
		return 5
	default:
		return 0
	}
}

// ParseLifecycleStatus maps a remote lifeCycleStatus string to the enum.
// YouTube reports: created, ready, testStarting, testing, liveStarting,
// live, complete, revoked. The *Starting values are treated as the state
// being entered since the remote side is already transitioning.
func ParseLifecycleStatus(remote string) BroadcastStatus {
	switch remote {
	case "created":
		return StatusCreated
	case "ready":
		return StatusBound
	case "testStarting", "testing":
		return StatusTesting
	case "liveStarting", "live":
		return StatusLive
	case "complete":
		return StatusComplete
	case "revoked":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// BroadcastSession is one platform-side live event bound to one ingest
// endpoint. IngestURL carries the stream key and must never be logged.
type BroadcastSession struct {
	ID          int64           `json:"id"`
	BroadcastID string          `json:"broadcast_id"`
	StreamID    string          `json:"stream_id"`
	IngestURL   string          `json:"ingest_url"`
	Title       string          `json:"title"`
	Status      BroadcastStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	Deadline    time.Time       `json:"rotation_deadline"`
}
