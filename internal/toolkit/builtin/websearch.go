package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ghlggc/Jimi-sub000/internal/approval"
	"github.com/ghlggc/Jimi-sub000/internal/sandbox"
	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
)

// defaultSearchEndpoint is queried with a `q` parameter when no Endpoint is
// configured.
const defaultSearchEndpoint = "https://duckduckgo.com/html/"

// WebSearchTool runs a web search through a configurable HTML/JSON search
// endpoint, subject to the same sandbox URL checks as web_fetch.
type WebSearchTool struct {
	Deps
	Client   *http.Client
	Endpoint string
	MaxBytes int64
}

// WebSearchArgs is the web_search tool's single argument.
type WebSearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=The search query."`
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web and return the raw result page." }
func (t *WebSearchTool) ParameterSchema() json.RawMessage {
	return toolkit.GenerateSchema(WebSearchArgs{})
}

func (t *WebSearchTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	var in WebSearchArgs
	if err := json.Unmarshal(argsJSON, &in); err != nil {
		return toolkit.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}
	if in.Query == "" {
		return toolkit.ToolResult{Content: "query is required", IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = defaultSearchEndpoint
	}
	searchURL := endpoint + "?q=" + url.QueryEscape(in.Query)

	verdict := t.Validator.CheckURL(t.Policy, searchURL)
	switch verdict.Verdict {
	case sandbox.Denied:
		return toolkit.ToolResult{Content: "denied: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
	case sandbox.RequiresApproval:
		if t.Gate == nil {
			return toolkit.ToolResult{Content: "approval required but no gate configured: " + verdict.Reason, IsError: true, ErrorType: toolkit.ErrorSandboxDenied}, nil
		}
		decision := t.Gate.Request(ctx, approval.KindNetwork, searchURL, verdict.Reason)
		if decision == approval.Reject {
			return toolkit.ToolResult{Content: "rejected by user", IsError: true, ErrorType: toolkit.ErrorApprovalRejected}, nil
		}
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return toolkit.ToolResult{Content: "invalid search URL: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return toolkit.ToolResult{Content: "search failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorExternalProcess}, nil
	}
	defer resp.Body.Close()

	max := t.MaxBytes
	if max <= 0 {
		max = 500000
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, max))
	if err != nil {
		return toolkit.ToolResult{Content: "read results failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorExternalProcess}, nil
	}
	if resp.StatusCode >= 400 {
		return toolkit.ToolResult{Content: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), IsError: true, ErrorType: toolkit.ErrorExternalProcess}, nil
	}
	return toolkit.ToolResult{Content: string(body)}, nil
}
