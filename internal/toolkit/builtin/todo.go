package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

// TodoItem is one entry in a TodoTool's list.
type TodoItem struct {
	Text string `json:"text" jsonschema:"required,description=The task description."`
	Done bool   `json:"done" jsonschema:"description=Whether the task is complete."`
}

// TodoArgs is the todo tool's single argument.
type TodoArgs struct {
	Items []TodoItem `json:"items" jsonschema:"required,description=The full replacement task list."`
}

// TodoTool maintains an in-process task list for the current run, publishing
// todo_update events on Wire as items are set so a UI can render progress.
type TodoTool struct {
	mu    sync.Mutex
	Items []TodoItem
	Bus   *wire.Bus
}

func (t *TodoTool) Name() string        { return "todo" }
func (t *TodoTool) Description() string { return "Replace the current task list." }
func (t *TodoTool) ParameterSchema() json.RawMessage {
	return toolkit.GenerateSchema(TodoArgs{})
}

func (t *TodoTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	var in TodoArgs
	if err := json.Unmarshal(argsJSON, &in); err != nil {
		return toolkit.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	t.mu.Lock()
	t.Items = in.Items
	t.mu.Unlock()

	done := 0
	for _, it := range in.Items {
		if it.Done {
			done++
		}
		if t.Bus != nil {
			t.Bus.Send(wire.Message{Type: wire.TodoUpdate, Time: time.Now(), TodoText: it.Text, TodoDone: it.Done})
		}
	}
	return toolkit.ToolResult{Content: fmt.Sprintf("%d/%d done", done, len(in.Items))}, nil
}
