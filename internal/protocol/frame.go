package protocol

// Frames are what a participant exchanges with the relay. Protocol messages
// ride inside publish/message frames; presence has its own ops.

type FrameOp string

const (
	// client -> relay
	OpPublish FrameOp = "publish"
	OpTrack   FrameOp = "track"
	OpUntrack FrameOp = "untrack"
	OpPing    FrameOp = "ping"

	// relay -> client
	OpMessage       FrameOp = "message"
	OpPresenceState FrameOp = "presence_state"
	OpPresenceJoin  FrameOp = "presence_join"
	OpPresenceLeave FrameOp = "presence_leave"
)

// BroadcastTopic addresses every subscriber of a channel.
const BroadcastTopic = ""

// RecipientTopic addresses a single participant.
func RecipientTopic(userID string) string {
	return "user:" + userID
}

// PresenceMeta is what a participant advertises about itself while tracked.
type PresenceMeta struct {
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsReady   bool   `json:"is_ready"`
	Score     int    `json:"score"`
	OnlineAt  int64  `json:"online_at"`
}

type Frame struct {
	Op      FrameOp                 `json:"op"`
	Topic   string                  `json:"topic,omitempty"`
	Message *Message                `json:"message,omitempty"`
	Key     string                  `json:"key,omitempty"`
	Meta    *PresenceMeta           `json:"meta,omitempty"`
	State   map[string]PresenceMeta `json:"state,omitempty"`
}

// ChannelName is the relay channel a room's participants share.
func ChannelName(roomID string) string {
	return "challenge:" + roomID
}
