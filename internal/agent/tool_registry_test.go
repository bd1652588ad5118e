package agent

import (
	"context"
	"encoding/json"
	"testing"
)

func TestToolRegistry_Execute_UnknownTool(t *testing.T) {
	r := NewToolRegistry()
	result, err := r.Execute(context.Background(), "nope", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError=true")
	}
	if result.Content != "unknown tool nope" {
		t.Errorf("content = %q, want %q", result.Content, "unknown tool nope")
	}
}

func TestToolRegistry_Execute_SchemaValidation(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
	r := NewToolRegistry()
	r.Register(&mockTool{
		name:   "read_file",
		schema: schema,
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ok"}, nil
		},
	})

	t.Run("valid params pass through to the tool", func(t *testing.T) {
		result, err := r.Execute(context.Background(), "read_file", json.RawMessage(`{"path":"a.go"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.IsError {
			t.Errorf("unexpected error result: %s", result.Content)
		}
	})

	t.Run("missing required field is rejected before the tool runs", func(t *testing.T) {
		result, err := r.Execute(context.Background(), "read_file", json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Fatal("expected a schema-validation error result")
		}
	})

	t.Run("wrong type is rejected", func(t *testing.T) {
		result, err := r.Execute(context.Background(), "read_file", json.RawMessage(`{"path":5}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Fatal("expected a schema-validation error result")
		}
	})
}

func TestToolRegistry_Execute_NoSchemaSkipsValidation(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&mockTool{
		name: "no_schema",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ok"}, nil
		},
	})

	result, err := r.Execute(context.Background(), "no_schema", json.RawMessage(`{"anything":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Errorf("unexpected error result: %s", result.Content)
	}
}

func TestToolRegistry_Unregister_DropsCompiledSchema(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&mockTool{
		name:   "tmp",
		schema: json.RawMessage(`{"type":"object","required":["x"]}`),
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ok"}, nil
		},
	})
	r.Unregister("tmp")

	result, err := r.Execute(context.Background(), "tmp", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "unknown tool tmp" {
		t.Errorf("content = %q, want %q", result.Content, "unknown tool tmp")
	}
}
