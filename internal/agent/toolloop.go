package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// loopGuard tracks the last few (name, args, result) tool-call triples
// of a single orchestrator run and detects spec.md §8's circuit
// breaker: "three identical consecutive tool calls" (name+args+result
// byte-identical) forces a hard stop within one further turn. No
// concrete toolLoopState file was available to copy — loop.go's
// runLoop only shows the call shape (record a call, record its
// result, ask whether to stop) — so this is built directly against
// the spec invariant rather than transliterated from teacher source.
type loopGuard struct {
	streak     int
	lastDigest string
}

// newLoopGuard starts a fresh guard for one orchestrator run.
func newLoopGuard() *loopGuard {
	return &loopGuard{}
}

// Observe folds in one finished tool call and reports whether the
// circuit breaker has now tripped (three consecutive identical
// triples observed).
func (g *loopGuard) Observe(name string, args map[string]interface{}, result *toolObservation) bool {
	digest := digestCall(name, args, result)
	if digest == g.lastDigest {
		g.streak++
	} else {
		g.lastDigest = digest
		g.streak = 1
	}
	return g.streak >= 3
}

// digestCall hashes name+args+result into a stable fingerprint. args
// keys are sorted before marshaling so map iteration order never
// causes two logically-identical calls to hash differently.
func digestCall(name string, args map[string]interface{}, result *toolObservation) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, args[k])
	}

	payload, _ := json.Marshal(struct {
		Name   string        `json:"name"`
		Args   []interface{} `json:"args"`
		Result *toolObservation `json:"result"`
	}{Name: name, Args: ordered, Result: result})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
