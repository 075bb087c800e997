package agent

// MediaResult is a file a tool observation pointed at via a "MEDIA:"
// line, extracted so the adapter can relay the file itself instead of
// the model re-typing its path into the reply text.
type MediaResult struct {
	Path        string
	ContentType string
	AsVoice     bool
}

// toolObservation is the part of a tools.Result the circuit breaker
// fingerprints: the full Result also carries Files/Summary, which
// don't change the "is this the same call repeated" judgment, so only
// the fields that determine LLM-visible meaning are hashed.
type toolObservation struct {
	Ok        bool        `json:"ok"`
	Data      interface{} `json:"data,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// TurnRequest is one invocation of the Orchestrator: a task to run to
// completion (or MAX_TURNS/circuit-breaker exhaustion) under a given
// role, SOUL, and tool profile.
type TurnRequest struct {
	SessionKey  string
	UserID      string
	Profile     string // "manager" or "worker", mirrors tools.Profile
	Workspace   string
	SystemPrompt string
	UserMessage string
	ImagePaths  []string

	TraceID string
	TaskID  string
}

// TurnResult is the Orchestrator's final structured outcome for one
// TurnRequest.
type TurnResult struct {
	Ok          bool
	FinalText   string
	Media       []MediaResult
	TurnsUsed   int
	RetryCount  int
	CircuitTripped bool
	Error       string
}

func toObservation(ok bool, data interface{}, errorCode, message string) toolObservation {
	return toolObservation{Ok: ok, Data: data, ErrorCode: errorCode, Message: message}
}

// mimeFromExt maps a handful of common media extensions to MIME types
// for the adapter layer; unmatched extensions fall back to a generic
// octet-stream rather than failing the turn.
func mimeFromExt(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".mp4":
		return "video/mp4"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
