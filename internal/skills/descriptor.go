// Package skills implements the Extension Executor: deterministic,
// isolated invocation of SKILL.md-declared plug-ins (spec.md §4.5).
//
// No internal/skills package was retrieved from the teacher's pack —
// internal/agent/loop.go and resolver.go only reference a
// *skills.Loader field, never its implementation. This package is
// designed directly from spec.md §3/§4.5/§6.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind distinguishes the two directories skills are discovered from.
// Only Learned skills are mutable at runtime; Builtin skills are
// immutable (spec.md §3).
type Kind string

const (
	KindBuiltin Kind = "builtin"
	KindLearned Kind = "learned"
)

// NetworkAccess is the permissions.network enum.
type NetworkAccess string

const (
	NetworkNone    NetworkAccess = "none"
	NetworkLimited NetworkAccess = "limited"
)

// FilesystemAccess is the permissions.filesystem enum.
type FilesystemAccess string

const (
	FilesystemNone      FilesystemAccess = "none"
	FilesystemWorkspace FilesystemAccess = "workspace"
)

// Permissions is a descriptor's declared capability surface.
type Permissions struct {
	Filesystem FilesystemAccess `yaml:"filesystem"`
	Shell      bool             `yaml:"shell"`
	Network    NetworkAccess    `yaml:"network"`
}

// Descriptor is a SkillDescriptor (spec.md §3), discovered from
// skills/{builtin,learned}/<name>/SKILL.md frontmatter.
type Descriptor struct {
	Name        string                 `yaml:"name"`
	APIVersion  string                 `yaml:"api_version"`
	Description string                 `yaml:"description"`
	Triggers    []string               `yaml:"triggers"`
	InputSchema map[string]interface{} `yaml:"input_schema"`
	Permissions Permissions            `yaml:"permissions"`
	Entrypoint  string                 `yaml:"entrypoint"`
	Version     string                 `yaml:"version,omitempty"`

	Kind Kind   `yaml:"-"`
	Dir  string `yaml:"-"` // skills/<kind>/<name>/
}

const supportedAPIVersion = "v3"

// ParseDescriptor reads and validates a SKILL.md file's frontmatter.
func ParseDescriptor(path string, kind Kind) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("skills: read %s: %w", path, err)
	}
	fm, ok := extractFrontmatter(string(raw))
	if !ok {
		return nil, fmt.Errorf("skills: %s has no --- frontmatter block", path)
	}

	var d Descriptor
	if err := yaml.Unmarshal([]byte(fm), &d); err != nil {
		return nil, fmt.Errorf("skills: parse frontmatter in %s: %w", path, err)
	}
	d.Kind = kind
	d.Dir = filepath.Dir(path)

	if d.Name == "" {
		return nil, fmt.Errorf("skills: %s missing required field 'name'", path)
	}
	if d.APIVersion != supportedAPIVersion {
		return nil, fmt.Errorf("skills: %s declares unsupported api_version %q (want %s)", path, d.APIVersion, supportedAPIVersion)
	}
	if d.Entrypoint == "" {
		return nil, fmt.Errorf("skills: %s missing required field 'entrypoint'", path)
	}
	if strings.Contains(d.Entrypoint, "..") || filepath.IsAbs(d.Entrypoint) {
		return nil, fmt.Errorf("skills: %s entrypoint %q must be a relative in-tree path", path, d.Entrypoint)
	}
	return &d, nil
}

// EntrypointPath resolves the descriptor's entrypoint relative to its
// own directory.
func (d *Descriptor) EntrypointPath() string {
	return filepath.Join(d.Dir, d.Entrypoint)
}

func extractFrontmatter(text string) (string, bool) {
	text = strings.TrimPrefix(text, "﻿")
	if !strings.HasPrefix(text, "---") {
		return "", false
	}
	rest := text[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", false
	}
	return strings.TrimPrefix(rest[:end], "\n"), true
}
