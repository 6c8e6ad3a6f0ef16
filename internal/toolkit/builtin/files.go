// Package builtin implements the fixed set of built-in tools every engine
// registers by default: file read/write/patch/delete, shell, web fetch and
// search, todo list, and think. Each file, shell and network tool wires the
// Sandbox Validator and Approval Gate before acting; none goes beyond the
// contract-level behavior described for it.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghlggc/Jimi-sub000/internal/approval"
	"github.com/ghlggc/Jimi-sub000/internal/sandbox"
	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
)

// Deps bundles the shared collaborators every built-in tool needs.
type Deps struct {
	Policy    sandbox.Policy
	Validator *sandbox.Validator
	Gate      *approval.Gate
}

func resolvePath(workspaceRoot, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	return filepath.Join(workspaceRoot, path), nil
}

// ReadFileTool reads a file from the workspace.
type ReadFileTool struct {
	Deps
	MaxBytes int
}

// ReadFileArgs is the read_file tool's single argument.
type ReadFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=Path relative to the workspace."`
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file from the workspace." }
func (t *ReadFileTool) ParameterSchema() json.RawMessage {
	return toolkit.GenerateSchema(ReadFileArgs{})
}

func (t *ReadFileTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	var in ReadFileArgs
	if err := json.Unmarshal(argsJSON, &in); err != nil {
		return toolkit.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	resolved, err := resolvePath(t.Policy.WorkspaceRoot, in.Path)
	if err != nil {
		return toolkit.ToolResult{Content: err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	verdict := t.Validator.CheckPath(t.Policy, sandbox.FileRead, resolved)
	if verdict.Verdict == sandbox.Denied {
		return toolkit.ToolResult{Content: "denied: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
	}

	max := t.MaxBytes
	if max <= 0 {
		max = 200000
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolkit.ToolResult{Content: "read failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
	}
	if len(data) > max {
		data = data[:max]
	}
	return toolkit.ToolResult{Content: string(data)}, nil
}

// WriteFileTool writes a file, requesting approval when the target falls
// outside the workspace.
type WriteFileTool struct {
	Deps
}

// WriteFileArgs is the write_file tool's arguments.
type WriteFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Path relative to the workspace."`
	Content string `json:"content" jsonschema:"required,description=Content to write."`
	Append  bool   `json:"append" jsonschema:"description=Append instead of overwriting."`
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file in the workspace." }
func (t *WriteFileTool) ParameterSchema() json.RawMessage {
	return toolkit.GenerateSchema(WriteFileArgs{})
}

func (t *WriteFileTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	var in WriteFileArgs
	if err := json.Unmarshal(argsJSON, &in); err != nil {
		return toolkit.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	resolved, err := resolvePath(t.Policy.WorkspaceRoot, in.Path)
	if err != nil {
		return toolkit.ToolResult{Content: err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	verdict := t.Validator.CheckPath(t.Policy, sandbox.FileWrite, resolved)
	switch verdict.Verdict {
	case sandbox.Denied:
		return toolkit.ToolResult{Content: "denied: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
	case sandbox.RequiresApproval:
		if t.Gate == nil {
			return toolkit.ToolResult{Content: "approval required but no gate configured: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
		}
		decision := t.Gate.Request(ctx, approval.KindFileWrite, resolved, verdict.Reason)
		if decision == approval.Reject {
			return toolkit.ToolResult{Content: "rejected by user", IsError: true, ErrorType: toolkit.ErrorApprovalRejected}, nil
		}
	}
	if v := t.Validator.CheckWriteSize(t.Policy, int64(len(in.Content))); v.Verdict == sandbox.Denied {
		return toolkit.ToolResult{Content: "denied: " + v.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if in.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolkit.ToolResult{Content: "write failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
	}
	f, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return toolkit.ToolResult{Content: "write failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
	}
	defer f.Close()
	if _, err := f.WriteString(in.Content); err != nil {
		return toolkit.ToolResult{Content: "write failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
	}
	return toolkit.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path)}, nil
}

// PatchFileTool replaces a single exact occurrence of oldText with newText
// in a file, requesting approval when the target falls outside the
// workspace.
type PatchFileTool struct {
	Deps
}

// PatchFileArgs is the patch_file tool's arguments.
type PatchFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Path relative to the workspace."`
	OldText string `json:"old_text" jsonschema:"required,description=The exact text to replace; must occur exactly once."`
	NewText string `json:"new_text" jsonschema:"required,description=The replacement text."`
}

func (t *PatchFileTool) Name() string        { return "patch_file" }
func (t *PatchFileTool) Description() string { return "Replace one exact text occurrence in a file." }
func (t *PatchFileTool) ParameterSchema() json.RawMessage {
	return toolkit.GenerateSchema(PatchFileArgs{})
}

func (t *PatchFileTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	var in PatchFileArgs
	if err := json.Unmarshal(argsJSON, &in); err != nil {
		return toolkit.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	resolved, err := resolvePath(t.Policy.WorkspaceRoot, in.Path)
	if err != nil {
		return toolkit.ToolResult{Content: err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}
	verdict := t.Validator.CheckPath(t.Policy, sandbox.FileWrite, resolved)
	switch verdict.Verdict {
	case sandbox.Denied:
		return toolkit.ToolResult{Content: "denied: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
	case sandbox.RequiresApproval:
		if t.Gate == nil {
			return toolkit.ToolResult{Content: "approval required but no gate configured: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
		}
		decision := t.Gate.Request(ctx, approval.KindFileWrite, resolved, verdict.Reason)
		if decision == approval.Reject {
			return toolkit.ToolResult{Content: "rejected by user", IsError: true, ErrorType: toolkit.ErrorApprovalRejected}, nil
		}
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolkit.ToolResult{Content: "read failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
	}
	content := string(data)
	count := strings.Count(content, in.OldText)
	if count == 0 {
		return toolkit.ToolResult{Content: "old_text not found in file", IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}
	if count > 1 {
		return toolkit.ToolResult{Content: fmt.Sprintf("old_text is not unique: found %d occurrences", count), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	patched := strings.Replace(content, in.OldText, in.NewText, 1)
	if err := os.WriteFile(resolved, []byte(patched), 0o644); err != nil {
		return toolkit.ToolResult{Content: "write failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
	}
	return toolkit.ToolResult{Content: "patched " + in.Path}, nil
}

// DeleteFileTool removes a file, requesting approval when the target falls
// outside the workspace.
type DeleteFileTool struct {
	Deps
}

// DeleteFileArgs is the delete_file tool's single argument.
type DeleteFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=Path relative to the workspace."`
}

func (t *DeleteFileTool) Name() string        { return "delete_file" }
func (t *DeleteFileTool) Description() string { return "Delete a file from the workspace." }
func (t *DeleteFileTool) ParameterSchema() json.RawMessage {
	return toolkit.GenerateSchema(DeleteFileArgs{})
}

func (t *DeleteFileTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	var in DeleteFileArgs
	if err := json.Unmarshal(argsJSON, &in); err != nil {
		return toolkit.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	resolved, err := resolvePath(t.Policy.WorkspaceRoot, in.Path)
	if err != nil {
		return toolkit.ToolResult{Content: err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}
	verdict := t.Validator.CheckPath(t.Policy, sandbox.FileDelete, resolved)
	switch verdict.Verdict {
	case sandbox.Denied:
		return toolkit.ToolResult{Content: "denied: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
	case sandbox.RequiresApproval:
		if t.Gate == nil {
			return toolkit.ToolResult{Content: "approval required but no gate configured: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
		}
		decision := t.Gate.Request(ctx, approval.KindFileDelete, resolved, verdict.Reason)
		if decision == approval.Reject {
			return toolkit.ToolResult{Content: "rejected by user", IsError: true, ErrorType: toolkit.ErrorApprovalRejected}, nil
		}
	}

	if err := os.Remove(resolved); err != nil {
		return toolkit.ToolResult{Content: "delete failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
	}
	return toolkit.ToolResult{Content: "deleted " + in.Path}, nil
}
