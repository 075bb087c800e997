// Package bus carries messages and events between channel adapters and
// the task Inbox / Orchestrator. It is the UnifiedMessage adapter
// boundary named in spec.md §6: concrete platform adapters live
// outside the core (out of scope per spec.md §1); this package only
// defines the shape they must produce and the pub/sub they use to
// deliver it.
package bus

import "context"

// MessageType enumerates the inbound message kinds spec.md §6 names.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageVoice    MessageType = "voice"
	MessagePhoto    MessageType = "photo"
	MessageDocument MessageType = "document"
	MessageCallback MessageType = "callback"
)

// UnifiedMessage is the required shape any chat-platform adapter must
// produce before a message reaches the Inbox, per spec.md §6's
// UnifiedContext/UnifiedMessage adapter boundary.
type UnifiedMessage struct {
	ID           string            `json:"id"`
	Platform     string            `json:"platform"`
	UserID       string            `json:"user_id"`
	UserFullName string            `json:"user_full_name"`
	ChatID       string            `json:"chat_id"`
	Type         MessageType       `json:"type"`
	Text         string            `json:"text"`
	CallbackData string            `json:"callback_data,omitempty"`
	Media        []string          `json:"media,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// UIButton is one button in a reply keyboard.
type UIButton struct {
	Label    string `json:"label"`
	CustomID string `json:"custom_id,omitempty"`
	URL      string `json:"url,omitempty"`
}

// UI is the adapter-agnostic reply-keyboard primitive spec.md §6 names.
type UI struct {
	Buttons []UIButton `json:"buttons,omitempty"`
}

// Replier is the adapter-boundary method set spec.md §6 requires of
// UnifiedContext: reply/edit/reply_photo/answer_callback.
type Replier interface {
	Reply(ctx context.Context, text string, ui *UI) error
	EditMessage(ctx context.Context, messageID, text string, ui *UI) error
	ReplyPhoto(ctx context.Context, path, caption string) error
	AnswerCallback(ctx context.Context) error
}

// OutboundMessage is a reply the core hands to a channel adapter for
// delivery when not replying synchronously through a Replier — e.g.
// heartbeat- or worker-initiated notifications.
type OutboundMessage struct {
	Platform string            `json:"platform"`
	ChatID   string            `json:"chat_id"`
	Text     string            `json:"text"`
	UI       *UI               `json:"ui,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Event is a server-side notification broadcast to subscribers (CLI
// watchers, progress relays) — the core's analog of the teacher's
// WebSocket event fan-out, minus the WebSocket transport itself.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription so callers
// (Orchestrator, Worker Runtime, Heartbeat, Scheduler) stay decoupled
// from the concrete Bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound routing between channel
// adapters and the Orchestrator.
type MessageRouter interface {
	PublishInbound(msg UnifiedMessage)
	ConsumeInbound(ctx context.Context) (UnifiedMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}

// Event name constants for progress relay and lifecycle notification.
const (
	EventTaskSubmitted  = "task.submitted"
	EventTaskStatus     = "task.status"
	EventWorkerProgress = "worker.progress"
	EventHeartbeatGrade = "heartbeat.grade"
)
