package models

import "time"

// FeedState is the adapter's connection state machine position.
type FeedState int

const (
	StateIdle FeedState = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateDisconnected
	StateError
)

func (s FeedState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamMetrics accompanies every view emitted on the streaming path.
type StreamMetrics struct {
	OrderCount       int           `json:"order_count"`
	BidLevels        int           `json:"bid_levels"`
	AskLevels        int           `json:"ask_levels"`
	RebuildDuration  time.Duration `json:"rebuild_duration"`
	DiffsApplied     int64         `json:"diffs_applied"`
	MessagesReceived int64         `json:"messages_received"`
	RebuildInterval  time.Duration `json:"rebuild_interval"`
}

// LoadMetrics accompanies the result of an offline one-shot load.
type LoadMetrics struct {
	FileSize          int64         `json:"file_size"`
	ParseDuration     time.Duration `json:"parse_duration"`
	TransformDuration time.Duration `json:"transform_duration"`
	BidLevels         int           `json:"bid_levels"`
	AskLevels         int           `json:"ask_levels"`
	OrderCount        int           `json:"order_count"`
}

// EngineMessageKind discriminates outbound engine messages.
type EngineMessageKind int

const (
	MsgStatus EngineMessageKind = iota
	MsgSnapshotReady
	MsgViewUpdated
	MsgLoadResult
	MsgLoadFailed
)

func (k EngineMessageKind) String() string {
	switch k {
	case MsgStatus:
		return "status"
	case MsgSnapshotReady:
		return "snapshot_ready"
	case MsgViewUpdated:
		return "view_updated"
	case MsgLoadResult:
		return "load_result"
	case MsgLoadFailed:
		return "load_failed"
	default:
		return "unknown"
	}
}

// EngineMessage is the single outbound envelope from the engine to the
// caller. View payloads are handed over by ownership transfer: the engine
// never touches a view again after emitting it.
type EngineMessage struct {
	Kind      EngineMessageKind
	State     FeedState
	Detail    string
	View      *BookView
	Stream    *StreamMetrics
	Load      *LoadMetrics
	SessionID string
	Timestamp time.Time
}
