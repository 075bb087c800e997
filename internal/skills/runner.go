package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Result is the normalized {ok, skill_name, result, ui?, files?}
// shape spec.md §4.5 step 5 mandates.
type Result struct {
	Ok        bool       `json:"ok"`
	SkillName string     `json:"skill_name"`
	Result    string     `json:"result,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	Message   string     `json:"message,omitempty"`
	UI        interface{} `json:"ui,omitempty"`
	Files     []FileRef  `json:"files,omitempty"`
}

// FileRef describes one file a skill emitted.
type FileRef struct {
	Path string `json:"path"`
	Mime string `json:"mime"`
}

// entrypointResponse is what a skill's entry point may print to
// stdout: either a bare string (wrapped as Result.Result) or this
// shape (spec.md §6's "returning string or {ok, text?, ui?, files?}").
type entrypointResponse struct {
	Ok    *bool       `json:"ok"`
	Text  string      `json:"text"`
	UI    interface{} `json:"ui,omitempty"`
	Files []FileRef   `json:"files,omitempty"`
}

// Runner executes skill entry points under the bounds spec.md §4.5
// names: wall-clock timeout, output size cap, emitted-file cap.
type Runner struct {
	loader *Loader

	defaultTimeout time.Duration
	maxTimeout     time.Duration
	outputCapBytes int
	maxFiles       int
	maxFileBytes   int64

	// userExtRoot returns the DATA_DIR/users/<uid>/ext/<name> root skills
	// get read-write access to, per spec.md §4.5 step 3.
	userExtRoot func(userID, skillName string) string
}

// NewRunner builds a Runner bounded by the config's LimitsConfig
// (SkillTimeoutSec default/max, SkillOutputCapBytes, SkillMaxFiles,
// SkillMaxFileBytes).
func NewRunner(loader *Loader, defaultTimeoutSec, maxTimeoutSec, outputCapBytes, maxFiles int, maxFileBytes int64, userExtRoot func(userID, skillName string) string) *Runner {
	return &Runner{
		loader:         loader,
		defaultTimeout: time.Duration(defaultTimeoutSec) * time.Second,
		maxTimeout:     time.Duration(maxTimeoutSec) * time.Second,
		outputCapBytes: outputCapBytes,
		maxFiles:       maxFiles,
		maxFileBytes:   maxFileBytes,
		userExtRoot:    userExtRoot,
	}
}

// Execute runs skillName(args) for userID, implementing the five-step
// contract of spec.md §4.5. timeoutOverrideSec, if > 0, overrides the
// default timeout up to maxTimeout.
func (r *Runner) Execute(ctx context.Context, skillName, userID string, args map[string]interface{}, timeoutOverrideSec int) *Result {
	descriptor, ok := r.loader.Get(skillName)
	if !ok {
		return &Result{Ok: false, SkillName: skillName, ErrorCode: "not_found", Message: "unknown skill: " + skillName}
	}

	if err := validateArgs(descriptor.InputSchema, args); err != nil {
		return &Result{Ok: false, SkillName: skillName, ErrorCode: "schema", Message: err.Error()}
	}

	workspace := descriptor.Dir
	if descriptor.Permissions.Filesystem == FilesystemWorkspace && r.userExtRoot != nil {
		extDir := r.userExtRoot(userID, skillName)
		if err := os.MkdirAll(extDir, 0o755); err != nil {
			return &Result{Ok: false, SkillName: skillName, ErrorCode: "exec_failure", Message: err.Error()}
		}
		workspace = extDir
	}

	timeout := r.defaultTimeout
	if timeoutOverrideSec > 0 {
		timeout = time.Duration(timeoutOverrideSec) * time.Second
	}
	if timeout > r.maxTimeout {
		timeout = r.maxTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, runErr := r.invoke(runCtx, descriptor, workspace, args)
	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return &Result{Ok: false, SkillName: skillName, ErrorCode: "timeout", Message: fmt.Sprintf("skill timed out after %s", timeout)}
		}
		return &Result{Ok: false, SkillName: skillName, ErrorCode: "exec_failure", Message: runErr.Error()}
	}

	return r.normalize(skillName, stdout)
}

func validateArgs(schema map[string]interface{}, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	const resourceURL = "mem://skill-input-schema.json"
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	argBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(argBytes))
	if err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	if err := compiled.Validate(instance); err != nil {
		return err
	}
	return nil
}

// invoke spawns the skill's entry point, feeding args as a JSON line
// on stdin and capturing stdout capped at outputCapBytes. Network
// egress gating (limited vs none) and the shell-disabled-unless-
// declared permission are enforced by what the subprocess is handed,
// not by OS-level sandboxing — no teacher sandbox package covers
// arbitrary scripts of unknown interpreter, so this primitive layer
// documents the limitation rather than faking enforcement it cannot
// back up.
func (r *Runner) invoke(ctx context.Context, d *Descriptor, workspace string, args map[string]interface{}) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"args":        args,
		"workspace":   workspace,
		"permissions": d.Permissions,
	})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, d.EntrypointPath())
	cmd.Dir = workspace
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = skillEnv(d)

	var out bytes.Buffer
	capped := &capWriter{limit: r.outputCapBytes, buf: &out}
	cmd.Stdout = capped
	cmd.Stderr = capped

	if err := cmd.Run(); err != nil {
		if out.Len() > 0 {
			return out.String(), fmt.Errorf("%w: %s", err, out.String())
		}
		return "", err
	}
	return out.String(), nil
}

func skillEnv(d *Descriptor) []string {
	env := []string{"SKILL_NAME=" + d.Name}
	if !d.Permissions.Shell {
		env = append(env, "SKILL_SHELL_DISABLED=1")
	}
	env = append(env, "SKILL_NETWORK="+string(d.Permissions.Network))
	return env
}

// capWriter truncates writes once limit bytes have been written;
// subsequent writes are silently dropped so a runaway skill can't
// exhaust memory.
type capWriter struct {
	limit   int
	written int
	buf     *bytes.Buffer
}

func (w *capWriter) Write(p []byte) (int, error) {
	if w.limit > 0 && w.written >= w.limit {
		return len(p), nil
	}
	remaining := len(p)
	if w.limit > 0 && w.written+remaining > w.limit {
		remaining = w.limit - w.written
	}
	n, err := w.buf.Write(p[:remaining])
	w.written += n
	return len(p), err
}

func (r *Runner) normalize(skillName, stdout string) *Result {
	var resp entrypointResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err == nil && (resp.Text != "" || resp.Ok != nil) {
		ok := true
		if resp.Ok != nil {
			ok = *resp.Ok
		}
		files := r.capFiles(resp.Files)
		return &Result{Ok: ok, SkillName: skillName, Result: resp.Text, UI: resp.UI, Files: files}
	}
	return &Result{Ok: true, SkillName: skillName, Result: stdout}
}

func (r *Runner) capFiles(files []FileRef) []FileRef {
	if r.maxFiles > 0 && len(files) > r.maxFiles {
		files = files[:r.maxFiles]
	}
	out := make([]FileRef, 0, len(files))
	for _, f := range files {
		if info, err := os.Stat(f.Path); err == nil {
			if r.maxFileBytes > 0 && info.Size() > r.maxFileBytes {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

var _ io.Writer = (*capWriter)(nil)
