// Package state implements the canonical file protocol: every durable
// business artifact is a markdown file bracketed by
// "<!-- XBOT_STATE_BEGIN -->" / "<!-- XBOT_STATE_END -->" markers
// containing exactly one fenced YAML payload. The reader tolerates
// legacy formats; the writer is always strict and atomic.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceKind identifies which format a read_state call recovered a
// payload from.
type SourceKind string

const (
	SourceCanonical        SourceKind = "canonical"
	SourceLegacyFrontmatter SourceKind = "legacy_frontmatter"
	SourceLegacyBareYAML   SourceKind = "legacy_bare_yaml"
	SourceLegacyWholeYAML  SourceKind = "legacy_whole_yaml"
)

const (
	beginMarker = "<!-- XBOT_STATE_BEGIN -->"
	endMarker   = "<!-- XBOT_STATE_END -->"
)

// ParseError is returned by read_state when no supported variant
// could recover a payload.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("state: parse error reading %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IOError wraps an underlying filesystem failure.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("state: io error on %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Store is the single file I/O boundary for business state, rooted at
// DATA_DIR.
type Store struct {
	dataDir string

	// mu serializes next_id counter mutation; state file writes are
	// serialized per-path by atomic rename, not by a process-wide lock
	// (single-process assumption per spec.md §5).
	mu sync.Mutex
}

// New creates a Store rooted at dataDir. dataDir must be an absolute
// path (spec.md §6, DATA_DIR env var).
func New(dataDir string) (*Store, error) {
	if !filepath.IsAbs(dataDir) {
		return nil, fmt.Errorf("state: DATA_DIR must be absolute, got %q", dataDir)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, &IOError{Path: dataDir, Err: err}
	}
	return &Store{dataDir: dataDir}, nil
}

// DataDir returns the root directory this store is rooted at.
func (s *Store) DataDir() string { return s.dataDir }

// Payload is the order-preserving YAML document a state file carries.
// yaml.Node preserves key insertion order across read/write round
// trips, which spec.md §8's "state roundtrip" property requires.
type Payload struct {
	node *yaml.Node
}

// NewPayload builds an empty payload with version:1 as its first key.
func NewPayload() *Payload {
	p := &Payload{node: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
	p.Set("version", 1)
	return p
}

func (p *Payload) ensureMapping() *yaml.Node {
	if p.node == nil {
		p.node = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	return p.node
}

// Set inserts or updates a key, preserving its original position if it
// already exists, appending at the end otherwise.
func (p *Payload) Set(key string, value interface{}) {
	m := p.ensureMapping()
	var valNode yaml.Node
	_ = valNode.Encode(value)
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = &valNode
			return
		}
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	m.Content = append(m.Content, keyNode, &valNode)
}

// Get decodes the value stored at key into out. Returns false if the
// key is absent.
func (p *Payload) Get(key string, out interface{}) bool {
	m := p.ensureMapping()
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			_ = m.Content[i+1].Decode(out)
			return true
		}
	}
	return false
}

// Keys returns payload keys in insertion order.
func (p *Payload) Keys() []string {
	m := p.ensureMapping()
	keys := make([]string, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		keys = append(keys, m.Content[i].Value)
	}
	return keys
}

// Equal reports whether two payloads serialize to the same YAML bytes
// (used by the state-roundtrip property test).
func (p *Payload) Equal(other *Payload) bool {
	a, errA := yaml.Marshal(p.ensureMapping())
	b, errB := yaml.Marshal(other.ensureMapping())
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

var fencedYAMLRe = regexp.MustCompile("(?s)```ya?ml\\s*\\n(.*?)\\n```")

// ReadState reads and parses path, trying the canonical format first
// and falling back through legacy variants. It fails with ParseError
// only when no variant recovers a payload.
func (s *Store) ReadState(path string) (*Payload, SourceKind, error) {
	full := s.resolve(path)
	raw, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", &ParseError{Path: full, Err: err}
		}
		return nil, "", &IOError{Path: full, Err: err}
	}

	if payload, ok := parseCanonical(raw); ok {
		return payload, SourceCanonical, nil
	}
	if payload, ok := parseFrontmatter(raw); ok {
		return payload, SourceLegacyFrontmatter, nil
	}
	if payload, ok := parseBareFencedYAML(raw); ok {
		return payload, SourceLegacyBareYAML, nil
	}
	if payload, ok := parseWholeYAML(raw); ok {
		return payload, SourceLegacyWholeYAML, nil
	}
	return nil, "", &ParseError{Path: full, Err: errors.New("no recognizable state format")}
}

func decodeYAMLBytes(b []byte) (*Payload, bool) {
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return nil, false
	}
	if len(node.Content) == 0 {
		return nil, false
	}
	doc := node.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, false
	}
	return &Payload{node: doc}, true
}

func parseCanonical(raw []byte) (*Payload, bool) {
	text := string(raw)
	bi := strings.Index(text, beginMarker)
	ei := strings.Index(text, endMarker)
	if bi < 0 || ei < 0 || ei < bi {
		return nil, false
	}
	between := text[bi+len(beginMarker) : ei]
	m := fencedYAMLRe.FindStringSubmatch(between)
	if m == nil {
		return nil, false
	}
	return decodeYAMLBytes([]byte(m[1]))
}

func parseFrontmatter(raw []byte) (*Payload, bool) {
	text := strings.TrimLeft(string(raw), "﻿")
	if !strings.HasPrefix(text, "---") {
		return nil, false
	}
	nl := strings.Index(text, "\n")
	if nl < 0 {
		return nil, false
	}
	rest := text[nl+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, false
	}
	return decodeYAMLBytes([]byte(rest[:end]))
}

func parseBareFencedYAML(raw []byte) (*Payload, bool) {
	m := fencedYAMLRe.FindSubmatch(raw)
	if m == nil {
		return nil, false
	}
	return decodeYAMLBytes(m[1])
}

func parseWholeYAML(raw []byte) (*Payload, bool) {
	return decodeYAMLBytes(raw)
}

// WriteState atomically (temp-then-rename) writes path with payload
// serialized in canonical form. If an existing file at path cannot be
// parsed by any variant, a timestamped backup is written first.
func (s *Store) WriteState(path string, payload *Payload) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &IOError{Path: full, Err: err}
	}

	if existing, err := os.ReadFile(full); err == nil {
		if _, _, perr := s.ReadState(path); perr != nil {
			var pe *ParseError
			if errors.As(perr, &pe) {
				backupPath := full + ".bak-" + time.Now().Format("20060102-150405")
				if werr := os.WriteFile(backupPath, existing, 0o644); werr != nil {
					return &IOError{Path: backupPath, Err: werr}
				}
			}
		}
	}

	if !payload.hasVersion() {
		payload.Set("version", 1)
	}

	yamlBytes, err := yaml.Marshal(payload.ensureMapping())
	if err != nil {
		return fmt.Errorf("state: marshal payload for %s: %w", full, err)
	}

	var buf bytes.Buffer
	buf.WriteString(beginMarker + "\n")
	buf.WriteString("```yaml\n")
	buf.Write(yamlBytes)
	if !bytes.HasSuffix(yamlBytes, []byte("\n")) {
		buf.WriteString("\n")
	}
	buf.WriteString("```\n")
	buf.WriteString(endMarker + "\n")

	tmp, err := os.CreateTemp(filepath.Dir(full), ".state-*.tmp")
	if err != nil {
		return &IOError{Path: full, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return &IOError{Path: full, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &IOError{Path: full, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Path: full, Err: err}
	}
	if err := os.Rename(tmpPath, full); err != nil {
		return &IOError{Path: full, Err: err}
	}
	cleanup = false
	return nil
}

func (p *Payload) hasVersion() bool {
	var v int
	return p.Get("version", &v)
}

// NextID returns the next monotonic value for namespace, persisted
// canonically under data/system/repositories/id_counters.md.
func (s *Store) NextID(namespace string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const counterPath = "system/repositories/id_counters.md"
	payload, _, err := s.ReadState(counterPath)
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			return 0, err
		}
		payload = NewPayload()
	}

	var counters map[string]int
	if !payload.Get("counters", &counters) || counters == nil {
		counters = map[string]int{}
	}
	counters[namespace]++
	next := counters[namespace]
	payload.Set("counters", counters)

	if err := s.WriteState(counterPath, payload); err != nil {
		return 0, err
	}
	return next, nil
}

// UserPath derives DATA_DIR/users/<uid>/<segments...>. Parent
// directories are created on first write, not on path derivation.
func (s *Store) UserPath(userID string, segments ...string) string {
	parts := append([]string{s.dataDir, "users", userID}, segments...)
	return filepath.Join(parts...)
}

// SystemPath derives DATA_DIR/system/<segments...>.
func (s *Store) SystemPath(segments ...string) string {
	parts := append([]string{s.dataDir, "system"}, segments...)
	return filepath.Join(parts...)
}

// ListUserIDs enumerates the directory names under DATA_DIR/users/,
// the Scheduler and Heartbeat Worker's shared source of "which users
// have state on disk" — deriving it from the filesystem rather than
// from allowed_users.md, since that file is an access-control list
// (who may submit tasks), a different concern from "which users have
// a per-user state directory to scan".
func (s *Store) ListUserIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "users"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("state: list users: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (s *Store) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.dataDir, path)
}

