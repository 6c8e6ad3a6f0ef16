package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/ghlggc/Jimi-sub000/internal/approval"
	"github.com/ghlggc/Jimi-sub000/internal/sandbox"
	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
)

// ShellTool runs a command through the system shell, subject to sandbox
// command checks and, when the command isn't whitelisted, human approval.
type ShellTool struct {
	Deps
	Timeout time.Duration
}

// ShellArgs is the shell tool's single argument.
type ShellArgs struct {
	Command string `json:"command" jsonschema:"required,description=Command to run via /bin/sh -c."`
}

func (t *ShellTool) Name() string        { return "shell" }
func (t *ShellTool) Description() string { return "Run a shell command in the workspace." }
func (t *ShellTool) ParameterSchema() json.RawMessage {
	return toolkit.GenerateSchema(ShellArgs{})
}

func (t *ShellTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	var in ShellArgs
	if err := json.Unmarshal(argsJSON, &in); err != nil {
		return toolkit.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	verdict := t.Validator.CheckCommand(t.Policy, in.Command)
	switch verdict.Verdict {
	case sandbox.Denied:
		return toolkit.ToolResult{Content: "denied: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
	case sandbox.RequiresApproval:
		if t.Gate == nil {
			return toolkit.ToolResult{Content: "approval required but no gate configured: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
		}
		decision := t.Gate.Request(ctx, approval.KindShell, in.Command, verdict.Reason)
		if decision == approval.Reject {
			return toolkit.ToolResult{Content: "rejected by user", IsError: true, ErrorType: toolkit.ErrorApprovalRejected}, nil
		}
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", in.Command)
	cmd.Dir = t.Policy.WorkspaceRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n--- stderr ---\n" + stderr.String()
	}

	if runCtx.Err() != nil {
		return toolkit.ToolResult{Content: fmt.Sprintf("command timed out after %s\n%s", timeout, output), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
	}
	if runErr != nil {
		return toolkit.ToolResult{Content: fmt.Sprintf("command failed: %v\n%s", runErr, output), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
	}
	return toolkit.ToolResult{Content: output}, nil
}
