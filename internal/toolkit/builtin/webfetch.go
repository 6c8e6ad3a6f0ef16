package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ghlggc/Jimi-sub000/internal/approval"
	"github.com/ghlggc/Jimi-sub000/internal/sandbox"
	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
)

// WebFetchTool retrieves a URL's body, subject to sandbox URL checks and,
// when external access is globally gated, human approval.
type WebFetchTool struct {
	Deps
	Client   *http.Client
	MaxBytes int64
}

// WebFetchArgs is the web_fetch tool's single argument.
type WebFetchArgs struct {
	URL string `json:"url" jsonschema:"required,format=uri,description=The URL to fetch."`
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch the body of a URL." }
func (t *WebFetchTool) ParameterSchema() json.RawMessage {
	return toolkit.GenerateSchema(WebFetchArgs{})
}

func (t *WebFetchTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	var in WebFetchArgs
	if err := json.Unmarshal(argsJSON, &in); err != nil {
		return toolkit.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	verdict := t.Validator.CheckURL(t.Policy, in.URL)
	switch verdict.Verdict {
	case sandbox.Denied:
		return toolkit.ToolResult{Content: "denied: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
	case sandbox.RequiresApproval:
		if t.Gate == nil {
			return toolkit.ToolResult{Content: "approval required but no gate configured: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
		}
		decision := t.Gate.Request(ctx, approval.KindNetwork, in.URL, verdict.Reason)
		if decision == approval.Reject {
			return toolkit.ToolResult{Content: "rejected by user", IsError: true, ErrorType: toolkit.ErrorApprovalRejected}, nil
		}
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return toolkit.ToolResult{Content: "invalid URL: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return toolkit.ToolResult{Content: "fetch failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorExternalProcess}, nil
	}
	defer resp.Body.Close()

	max := t.MaxBytes
	if max <= 0 {
		max = 500000
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, max))
	if err != nil {
		return toolkit.ToolResult{Content: "read body failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorExternalProcess}, nil
	}
	if resp.StatusCode >= 400 {
		return toolkit.ToolResult{Content: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), IsError: true, ErrorType: toolkit.ErrorExternalProcess}, nil
	}
	return toolkit.ToolResult{Content: string(body)}, nil
}
