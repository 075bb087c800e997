package tools

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"unicode/utf8"

	"context"
)

// resolvePath resolves path against workspace and rejects any result
// that escapes the workspace boundary — including through symlinks,
// broken-symlink targets, or hardlinks. Adapted from the teacher's
// read_file path-confinement helpers; the primitive set here (read,
// write, edit) all funnel through it.
func resolvePath(path, workspace string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if os.IsNotExist(err) {
			if linfo, lerr := os.Lstat(absResolved); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
				target, readErr := os.Readlink(absResolved)
				if readErr != nil {
					return "", fmt.Errorf("path_denied: cannot resolve symlink")
				}
				if !filepath.IsAbs(target) {
					target = filepath.Join(filepath.Dir(absResolved), target)
				}
				real, err = resolveThroughExistingAncestors(filepath.Clean(target))
				if err != nil {
					return "", fmt.Errorf("path_denied: cannot resolve broken symlink target")
				}
			} else {
				parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absResolved))
				if parentErr != nil {
					return "", fmt.Errorf("path_denied: cannot resolve path")
				}
				real = filepath.Join(parentReal, filepath.Base(absResolved))
			}
		} else {
			return "", fmt.Errorf("path_denied: cannot resolve path")
		}
	}

	if !isPathInside(real, wsReal) {
		return "", fmt.Errorf("path_denied: path outside workspace")
	}
	if hasMutableSymlinkParent(real) {
		return "", fmt.Errorf("path_denied: path contains mutable symlink component")
	}
	if err := checkHardlink(real); err != nil {
		return "", err
	}
	return real, nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}
	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			return fmt.Errorf("path_denied: hardlinked file not allowed")
		}
	}
	return nil
}

// ReadFileTool implements the spec's read(path, start_line?, max_lines?, encoding?) primitive.
type ReadFileTool struct {
	workspaceFallback string
}

func NewReadFileTool(workspace string) *ReadFileTool { return &ReadFileTool{workspaceFallback: workspace} }

func (t *ReadFileTool) Name() string        { return "read" }
func (t *ReadFileTool) Description() string { return "Read a file within the caller's workspace" }
func (t *ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":       map[string]interface{}{"type": "string"},
			"start_line": map[string]interface{}{"type": "integer", "minimum": 1},
			"max_lines":  map[string]interface{}{"type": "integer", "minimum": 1},
			"encoding":   map[string]interface{}{"type": "string", "enum": []string{"utf-8"}},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrResult("invalid_input", "path is required")
	}
	workspace := WorkspaceFromContext(ctx)
	if workspace == "" {
		workspace = t.workspaceFallback
	}
	resolved, err := resolvePath(path, workspace)
	if err != nil {
		return ErrResult("path_denied", err.Error())
	}

	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrResult("not_found", "file does not exist: "+path)
		}
		return ErrResult("exec_failure", err.Error())
	}
	defer f.Close()

	startLine := 1
	if v, ok := args["start_line"].(float64); ok && v > 0 {
		startLine = int(v)
	}
	maxLines := 0
	if v, ok := args["max_lines"].(float64); ok && v > 0 {
		maxLines = int(v)
	}

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	emitted := 0
	for scanner.Scan() {
		line++
		if line < startLine {
			continue
		}
		if maxLines > 0 && emitted >= maxLines {
			break
		}
		b.Write(scanner.Bytes())
		b.WriteByte('\n')
		emitted++
	}
	if err := scanner.Err(); err != nil {
		return ErrResult("exec_failure", err.Error())
	}

	content := b.String()
	if !utf8.ValidString(content) {
		return ErrResult("decode_error", "file is not valid utf-8")
	}
	return OkResult(content)
}

// WriteFileTool implements write(path, content, mode, create_parents).
type WriteFileTool struct {
	workspaceFallback string
}

func NewWriteFileTool(workspace string) *WriteFileTool { return &WriteFileTool{workspaceFallback: workspace} }

func (t *WriteFileTool) Name() string        { return "write" }
func (t *WriteFileTool) Description() string { return "Write a file within the caller's workspace" }
func (t *WriteFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":           map[string]interface{}{"type": "string"},
			"content":        map[string]interface{}{"type": "string"},
			"mode":           map[string]interface{}{"type": "string", "enum": []string{"create", "overwrite"}, "default": "overwrite"},
			"create_parents": map[string]interface{}{"type": "boolean", "default": false},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return ErrResult("invalid_input", "path is required")
	}
	mode, _ := args["mode"].(string)
	if mode == "" {
		mode = "overwrite"
	}
	createParents, _ := args["create_parents"].(bool)

	workspace := WorkspaceFromContext(ctx)
	if workspace == "" {
		workspace = t.workspaceFallback
	}

	var target string
	if filepath.IsAbs(path) {
		target = filepath.Clean(path)
	} else {
		target = filepath.Clean(filepath.Join(workspace, path))
	}
	absWorkspace, _ := filepath.Abs(workspace)
	absTarget, _ := filepath.Abs(target)
	if !isPathInside(absTarget, absWorkspace) {
		return ErrResult("path_denied", "path outside workspace")
	}

	if _, err := os.Stat(absTarget); err == nil {
		if mode == "create" {
			return ErrResult("exists", "file already exists: "+path)
		}
		if resolved, rerr := resolvePath(path, workspace); rerr == nil {
			absTarget = resolved
		} else {
			return ErrResult("path_denied", rerr.Error())
		}
	}

	if createParents {
		if err := os.MkdirAll(filepath.Dir(absTarget), 0o755); err != nil {
			return ErrResult("exec_failure", err.Error())
		}
	}

	tmp := absTarget + ".tmp-write"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return ErrResult("exec_failure", err.Error())
	}
	if err := os.Rename(tmp, absTarget); err != nil {
		os.Remove(tmp)
		return ErrResult("exec_failure", err.Error())
	}
	return OkSummary(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// EditTool implements edit(path, edits[], dry_run).
type EditTool struct {
	workspaceFallback string
}

func NewEditTool(workspace string) *EditTool { return &EditTool{workspaceFallback: workspace} }

func (t *EditTool) Name() string        { return "edit" }
func (t *EditTool) Description() string { return "Apply ordered find/replace edits to a file" }
func (t *EditTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
			"edits": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"match":   map[string]interface{}{"type": "string"},
						"replace": map[string]interface{}{"type": "string"},
						"count":   map[string]interface{}{"type": "integer", "minimum": 1},
					},
					"required": []string{"match", "replace"},
				},
			},
			"dry_run": map[string]interface{}{"type": "boolean", "default": false},
		},
		"required": []string{"path", "edits"},
	}
}

type fileEdit struct {
	Match   string
	Replace string
	Count   int
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrResult("invalid_input", "path is required")
	}
	rawEdits, ok := args["edits"].([]interface{})
	if !ok || len(rawEdits) == 0 {
		return ErrResult("invalid_input", "edits must be a non-empty array")
	}
	dryRun, _ := args["dry_run"].(bool)

	edits := make([]fileEdit, 0, len(rawEdits))
	for _, raw := range rawEdits {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return ErrResult("invalid_input", "each edit must be an object")
		}
		match, _ := m["match"].(string)
		replace, _ := m["replace"].(string)
		if match == "" {
			return ErrResult("invalid_input", "edit.match is required")
		}
		count := 0
		if v, ok := m["count"].(float64); ok {
			count = int(v)
		}
		edits = append(edits, fileEdit{Match: match, Replace: replace, Count: count})
	}

	workspace := WorkspaceFromContext(ctx)
	if workspace == "" {
		workspace = t.workspaceFallback
	}
	resolved, err := resolvePath(path, workspace)
	if err != nil {
		return ErrResult("path_denied", err.Error())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrResult("not_found", "file does not exist: "+path)
		}
		return ErrResult("exec_failure", err.Error())
	}
	content := string(data)

	for i, e := range edits {
		occurrences := strings.Count(content, e.Match)
		if occurrences == 0 {
			return ErrResult("invalid_input", fmt.Sprintf("edit %d: no match for %q", i, e.Match))
		}
		if e.Count == 0 {
			if occurrences > 1 {
				return ErrResult("invalid_input", fmt.Sprintf("edit %d: ambiguous match (%d occurrences); specify count", i, occurrences))
			}
			content = strings.Replace(content, e.Match, e.Replace, 1)
			continue
		}
		if e.Count != occurrences {
			return ErrResult("invalid_input", fmt.Sprintf("edit %d: expected %d occurrences, found %d", i, e.Count, occurrences))
		}
		content = strings.Replace(content, e.Match, e.Replace, e.Count)
	}

	if dryRun {
		return OkResult(content)
	}

	tmp := resolved + ".tmp-edit"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return ErrResult("exec_failure", err.Error())
	}
	if err := os.Rename(tmp, resolved); err != nil {
		os.Remove(tmp)
		return ErrResult("exec_failure", err.Error())
	}
	return OkSummary(fmt.Sprintf("applied %d edits to %s", len(edits), path))
}
