package agent

import (
	"sync"

	"github.com/nextlevelbuilder/xbot/internal/providers"
)

// defaultHistoryLimit bounds how many past turn messages are replayed
// into a new LLM call — spec.md §4.3 step 2 calls for "retrieve
// bounded history" without naming an exact number; the teacher's own
// session store paginates similarly but backs onto a database this
// module does not carry, so the bound here is a plain in-memory ring
// per session key, trimmed to the same rough order of magnitude the
// teacher's historyLimit defaults to.
const defaultHistoryLimit = 40

// History keeps a bounded in-memory transcript of provider messages
// per session key, for replay into subsequent turns of the same
// Orchestrator run. It does not persist across process restarts —
// the durable record of a conversation is the chat/ transcript
// (internal/transcripts) and the Task Inbox's envelope events, not
// this buffer.
type History struct {
	mu       sync.Mutex
	limit    int
	sessions map[string][]providers.Message
}

// NewHistory builds a History bounded to limit messages per session
// (defaultHistoryLimit if limit <= 0).
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &History{limit: limit, sessions: make(map[string][]providers.Message)}
}

// Get returns a copy of the messages recorded for sessionKey.
func (h *History) Get(sessionKey string) []providers.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.sessions[sessionKey]
	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Append adds msgs to sessionKey's history, trimming from the front
// once the bound is exceeded.
func (h *History) Append(sessionKey string, msgs ...providers.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	combined := append(h.sessions[sessionKey], msgs...)
	if len(combined) > h.limit {
		combined = combined[len(combined)-h.limit:]
	}
	h.sessions[sessionKey] = combined
}

// Reset clears a session's buffered history, so the next turn under
// sessionKey starts with none. Nothing in this module calls it.
func (h *History) Reset(sessionKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionKey)
}
