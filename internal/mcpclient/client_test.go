package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientConnectListsToolsOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		switch req.Method {
		case "tools/list":
			result, _ := json.Marshal(struct {
				Tools []toolDescriptor `json:"tools"`
			}{Tools: []toolDescriptor{
				{Name: "echo", Description: "echoes input", InputSchema: json.RawMessage(`{"type":"object"}`)},
			}})
			writeResult(t, w, req.ID, result)
		case "tools/call":
			var params struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			}
			_ = json.Unmarshal(req.Params, &params)
			result, _ := json.Marshal(struct {
				Content string `json:"content"`
				IsError bool   `json:"isError"`
			}{Content: "echoed: " + string(params.Arguments)})
			writeResult(t, w, req.ID, result)
		default:
			t.Fatalf("unexpected method %q", req.Method)
		}
	}))
	defer srv.Close()

	client, err := NewClient(ServerConfig{ID: "test", Transport: TransportHTTP, URL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	tools, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(tools) != 1 || tools[0].Name() != "echo" {
		t.Fatalf("unexpected tools: %+v", tools)
	}

	result, err := tools[0].Execute(context.Background(), json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError || result.Content == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestNewClientRejectsMissingCommandOrURL(t *testing.T) {
	if _, err := NewClient(ServerConfig{ID: "a", Transport: TransportStdio}, nil); err == nil {
		t.Fatal("expected error for stdio transport without command")
	}
	if _, err := NewClient(ServerConfig{ID: "b", Transport: TransportHTTP}, nil); err == nil {
		t.Fatal("expected error for http transport without url")
	}
	if _, err := NewClient(ServerConfig{Transport: TransportHTTP, URL: "http://x"}, nil); err == nil {
		t.Fatal("expected error for missing server id")
	}
}

func writeResult(t *testing.T, w http.ResponseWriter, id any, result json.RawMessage) {
	t.Helper()
	resp := rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}
