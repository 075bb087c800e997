// Package agent implements the Agent Orchestrator (spec.md §4.3): the
// single turn loop that serves both the Manager and every dispatched
// Worker ("one loop, two roles" — only the composed system prompt and
// the tool-access profile differ between the two callers).
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/xbot/internal/providers"
	"github.com/nextlevelbuilder/xbot/internal/tools"
	"github.com/nextlevelbuilder/xbot/internal/tracing"
	"github.com/nextlevelbuilder/xbot/internal/transcripts"
	"github.com/nextlevelbuilder/xbot/internal/worker"
)

// defaultMaxTurns is spec.md §4.3 step 5 / §6's MAX_TURNS default.
const defaultMaxTurns = 12

// defaultGlobalSemaphore mirrors config.LimitsConfig.GlobalSemaphore's
// own default — the ceiling on concurrently in-flight RunTurn calls
// across the whole process (spec.md §5's "global task semaphore").
const defaultGlobalSemaphore = 32

// Orchestrator runs the Think -> Act -> Observe loop spec.md §4.3
// describes, against whatever Provider/Registry/PolicyEngine it was
// wired with at the composition root.
type Orchestrator struct {
	Registry    *tools.Registry
	Policy      *tools.PolicyEngine
	Provider    providers.Provider
	History     *History
	Transcripts *transcripts.Writer

	MaxTurns int

	globalSem *semaphore.Weighted
}

// NewOrchestrator builds an Orchestrator. maxTurns <= 0 uses
// defaultMaxTurns; globalSemaphore <= 0 uses defaultGlobalSemaphore.
func NewOrchestrator(registry *tools.Registry, policy *tools.PolicyEngine, provider providers.Provider, history *History, tw *transcripts.Writer, maxTurns int, globalSemaphore int) *Orchestrator {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	if globalSemaphore <= 0 {
		globalSemaphore = defaultGlobalSemaphore
	}
	return &Orchestrator{
		Registry:    registry,
		Policy:      policy,
		Provider:    provider,
		History:     history,
		Transcripts: tw,
		MaxTurns:    maxTurns,
		globalSem:   semaphore.NewWeighted(int64(globalSemaphore)),
	}
}

// RunTurn drives one TurnRequest to a terminal reply, MAX_TURNS
// exhaustion, or a circuit-breaker trip (spec.md §4.3 step 5 / §8).
// It blocks on the process-wide global semaphore first, bounding how
// many turns (Manager or Worker) may run concurrently.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := o.globalSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("agent: acquire global semaphore: %w", err)
	}
	defer o.globalSem.Release(1)

	profile := tools.Profile(req.Profile)
	workspace := req.Workspace
	if profile == tools.ProfileManager && req.UserID != "" {
		workspace = filepath.Join(workspace, "users", SanitizePathSegment(req.UserID))
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			slog.Warn("agent.workspace_mkdir_failed", "workspace", workspace, "error", err)
			workspace = req.Workspace
		}
	}
	ctx = tools.WithWorkspace(ctx, workspace)
	ctx = tools.WithProfile(ctx, profile)
	ctx = tools.WithTaskID(ctx, req.TaskID)

	turnStart := time.Now()
	turnSpanID := tracing.GenID()
	ctx = tracing.WithParentSpanID(ctx, turnSpanID)

	messages := []providers.Message{{Role: "system", Content: req.SystemPrompt}}
	messages = append(messages, o.History.Get(req.SessionKey)...)

	userMsg := providers.Message{Role: "user", Content: req.UserMessage}
	if len(req.ImagePaths) > 0 {
		userMsg.Images = loadImages(req.ImagePaths)
	}
	messages = append(messages, userMsg)

	if o.Transcripts != nil && req.SessionKey != "" {
		_ = o.Transcripts.Append(req.SessionKey, "user", req.UserMessage, time.Now())
	}

	toolDefs := o.Policy.FilterTools(o.Registry, profile)

	guard := newLoopGuard()
	var finalText string
	var media []MediaResult
	turnsUsed := 0
	retryCount := 0
	circuitTripped := false
	var loopErr error

	for turnsUsed < o.MaxTurns {
		turnsUsed++

		resp, err := o.callLLM(ctx, messages, toolDefs)
		if err != nil {
			loopErr = err
			break
		}

		if len(resp.ToolCalls) == 0 {
			finalText = SanitizeAssistantContent(resp.Content)
			break
		}

		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		toolMsgs, observedMedia, tripped := o.executeToolCalls(ctx, profile, resp.ToolCalls, guard)
		messages = append(messages, toolMsgs...)
		media = append(media, observedMedia...)

		if tripped {
			circuitTripped = true
			finalText = "I stopped after repeating the same tool call three times in a row without new progress. Please rephrase the request or narrow its scope."
			break
		}
	}

	if loopErr != nil {
		retryCount++
		tracing.EmitTurnSpan(ctx, turnSpanID, req.TaskID, turnStart, "", loopErr)
		return &TurnResult{Ok: false, TurnsUsed: turnsUsed, RetryCount: retryCount, Error: loopErr.Error()}, loopErr
	}

	if finalText == "" && turnsUsed >= o.MaxTurns {
		finalText = "I reached the turn limit for this task without finishing. Here is what I found so far; please ask again with a narrower goal if this is incomplete."
	}

	if o.Transcripts != nil && req.SessionKey != "" && finalText != "" {
		_ = o.Transcripts.Append(req.SessionKey, "assistant", finalText, time.Now())
	}
	if req.SessionKey != "" {
		o.History.Append(req.SessionKey, userMsg, providers.Message{Role: "assistant", Content: finalText})
	}

	tracing.EmitTurnSpan(ctx, turnSpanID, req.TaskID, turnStart, finalText, nil)

	result := &TurnResult{
		Ok:             true,
		FinalText:      finalText,
		Media:          media,
		TurnsUsed:      turnsUsed,
		RetryCount:     retryCount,
		CircuitTripped: circuitTripped,
	}
	return result, nil
}

// callLLM wraps the Provider call with the one-retry-with-backoff
// policy spec.md §8 assigns to internal (non-tool) failures: "LLM call
// failure, registry missing tool are retried once with back-off, then
// surface as task failure."
func (o *Orchestrator) callLLM(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition) (*providers.ChatResponse, error) {
	req := providers.ChatRequest{Messages: messages, Tools: toolDefs}
	resp, err := o.Provider.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	slog.Warn("agent.llm_call_failed_retrying", "error", err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}
	resp, err = o.Provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent: llm call failed after retry: %w", err)
	}
	return resp, nil
}

// indexedToolResult pairs a parallel tool call's result with its
// original index, so messages can be reassembled in request order
// even though goroutines may finish out of order.
type indexedToolResult struct {
	index  int
	msg    providers.Message
	name   string
	args   map[string]interface{}
	result *tools.Result
	media  *MediaResult
}

// executeToolCalls runs one tool call sequentially, or several
// concurrently (spec.md §4.3's "independent tool calls within one
// turn may run in parallel"). Once every call has finished, results
// are folded into the circuit-breaker guard and tool messages are
// assembled, both in the original call order, for deterministic
// transcript/history replay.
func (o *Orchestrator) executeToolCalls(ctx context.Context, profile tools.Profile, calls []providers.ToolCall, guard *loopGuard) ([]providers.Message, []MediaResult, bool) {
	results := make([]indexedToolResult, len(calls))

	if len(calls) == 1 {
		results[0] = o.runOneTool(ctx, profile, 0, calls[0])
	} else {
		g, gCtx := errgroup.WithContext(ctx)
		for i, tc := range calls {
			i, tc := i, tc
			g.Go(func() error {
				results[i] = o.runOneTool(gCtx, profile, i, tc)
				return nil
			})
		}
		_ = g.Wait()
	}

	var msgs []providers.Message
	var media []MediaResult
	tripped := false
	for _, r := range results {
		msgs = append(msgs, r.msg)
		if r.media != nil {
			media = append(media, *r.media)
		}
		obs := toObservation(r.result.Ok, r.result.Data, r.result.ErrorCode, r.result.Message)
		if guard.Observe(r.name, r.args, &obs) {
			tripped = true
		}
	}
	return msgs, media, tripped
}

func (o *Orchestrator) runOneTool(ctx context.Context, profile tools.Profile, index int, tc providers.ToolCall) indexedToolResult {
	start := time.Now()
	result := o.Registry.Execute(ctx, o.Policy, profile, tc.Name, tc.Arguments)

	forLLM := renderForLLM(result)
	tracing.EmitToolCallSpan(ctx, start, tc.Name, renderArgs(tc.Arguments), result.Ok, forLLM, result.Message)

	var mr *MediaResult
	if m := parseMediaResult(forLLM); m != nil {
		mr = m
	}

	return indexedToolResult{
		index:  index,
		name:   tc.Name,
		args:   tc.Arguments,
		result: result,
		media:  mr,
		msg: providers.Message{
			Role:       "tool",
			Content:    forLLM,
			ToolCallID: tc.ID,
		},
	}
}

// renderForLLM turns a tools.Result into the string the "tool" role
// message carries, since tools.Result has no pre-rendered text field
// of its own (spec.md's {ok, data?, summary?, error_code?, message?}
// contract is a structured value, not prose).
func renderForLLM(r *tools.Result) string {
	if !r.Ok {
		return fmt.Sprintf(`{"ok":false,"error_code":%q,"message":%q}`, r.ErrorCode, r.Message)
	}
	if r.Summary != "" && r.Data == nil {
		return r.Summary
	}
	if r.Data != nil {
		if s, ok := r.Data.(string); ok {
			return s
		}
		b, err := json.Marshal(r.Data)
		if err == nil {
			return string(b)
		}
	}
	if r.Summary != "" {
		return r.Summary
	}
	return `{"ok":true}`
}

func renderArgs(args map[string]interface{}) string {
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}

// parseMediaResult extracts a MediaResult from a tool observation
// string carrying a "MEDIA:" prefix, optionally preceded by the
// [[audio_as_voice]] tag that marks a TTS voice note rather than a
// plain attachment.
func parseMediaResult(toolOutput string) *MediaResult {
	s := toolOutput
	asVoice := false
	if strings.Contains(s, "[[audio_as_voice]]") {
		asVoice = true
		s = strings.TrimSpace(strings.ReplaceAll(s, "[[audio_as_voice]]", ""))
	}

	idx := strings.Index(s, "MEDIA:")
	if idx < 0 {
		return nil
	}
	path := strings.TrimSpace(s[idx+len("MEDIA:"):])
	if path == "" {
		return nil
	}
	if nl := strings.IndexByte(path, '\n'); nl >= 0 {
		path = strings.TrimSpace(path[:nl])
	}

	return &MediaResult{Path: path, ContentType: mimeFromExt(strings.ToLower(filepath.Ext(path))), AsVoice: asVoice}
}

// SanitizePathSegment allow-lists a user ID down to characters safe
// for a single path segment, used for per-user workspace isolation
// both here and by composition-root wiring that needs the same join.
func SanitizePathSegment(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return b.String()
}

// Run implements worker.CoreAgentRunner: a dispatched core-agent
// backend Worker runs its own bounded Orchestrator loop against its
// Worker SOUL and the worker-restricted tool profile, and reports one
// structured CoreAgentResult back to Dispatch.
func (o *Orchestrator) Run(ctx context.Context, req worker.CoreAgentRequest) (worker.CoreAgentResult, error) {
	traceID := tracing.TraceIDFromContext(ctx)
	if traceID == uuid.Nil {
		traceID = tracing.GenID()
		ctx = tracing.WithTraceID(ctx, traceID)
	}

	systemPrompt, ok := req.Metadata["system_prompt"].(string)
	if !ok || systemPrompt == "" {
		systemPrompt = "You are a dispatched Worker. Execute the instruction with the tools you were given and report one structured result."
	}

	turnReq := TurnRequest{
		SessionKey:   "worker:" + req.WorkerID,
		UserID:       req.WorkerID,
		Profile:      string(tools.ProfileWorker),
		Workspace:    req.Workspace,
		SystemPrompt: systemPrompt,
		UserMessage:  req.Instruction,
	}

	result, err := o.RunTurn(ctx, turnReq)
	if err != nil {
		return worker.CoreAgentResult{Ok: false, Error: err.Error()}, err
	}
	if !result.Ok {
		return worker.CoreAgentResult{Ok: false, Error: result.Error}, nil
	}
	return worker.CoreAgentResult{Ok: true, Summary: result.FinalText}, nil
}
