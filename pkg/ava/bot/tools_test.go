package bot

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown tool is a soft failure", func(t *testing.T) {
		r := NewRegistry(testLogger())
		result, err := r.Execute(ctx, FunctionCall{Name: "nonexistent"}, "chat1")
		if err != nil {
			t.Fatalf("unknown tools must not be terminal: %v", err)
		}
		if result.Success || result.Err == "" {
			t.Errorf("expected an unsuccessful result with an error note, got %+v", result)
		}
	})

	t.Run("chat id is injected for scoped tools", func(t *testing.T) {
		r := NewRegistry(testLogger())
		var seen map[string]any
		r.Register(ToolDefinition{Name: "schedule_reminder"}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
			seen = args
			return ToolResult{Success: true}, nil
		})

		if _, err := r.Execute(ctx, FunctionCall{Name: "schedule_reminder", Args: map[string]any{"message": "x"}}, "group@g.us"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen["chat_id"] != "group@g.us" {
			t.Errorf("expected injected chat_id, got %v", seen["chat_id"])
		}
	})

	t.Run("unscoped tools get no chat id", func(t *testing.T) {
		r := NewRegistry(testLogger())
		var seen map[string]any
		r.Register(ToolDefinition{Name: "send_reaction"}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
			seen = args
			return ToolResult{Success: true}, nil
		})

		_, _ = r.Execute(ctx, FunctionCall{Name: "send_reaction", Args: map[string]any{"query": "lol"}}, "group@g.us")
		if _, ok := seen["chat_id"]; ok {
			t.Error("send_reaction must not receive a chat_id")
		}
	})

	t.Run("the model's arguments are not mutated", func(t *testing.T) {
		r := NewRegistry(testLogger())
		r.Register(ToolDefinition{Name: "add_expense"}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
			return ToolResult{Success: true}, nil
		})

		original := map[string]any{"amount": 50.0}
		_, _ = r.Execute(ctx, FunctionCall{Name: "add_expense", Args: original}, "group@g.us")
		if _, ok := original["chat_id"]; ok {
			t.Error("injection must happen on a copy of the arguments")
		}
	})

	t.Run("handler error is terminal", func(t *testing.T) {
		r := NewRegistry(testLogger())
		r.Register(ToolDefinition{Name: "broken"}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
			return ToolResult{}, errors.New("db is gone")
		})

		_, err := r.Execute(ctx, FunctionCall{Name: "broken"}, "chat1")
		var toolErr *ToolExecutionError
		if !errors.As(err, &toolErr) || toolErr.Tool != "broken" {
			t.Errorf("expected a ToolExecutionError for 'broken', got %v", err)
		}
	})

	t.Run("handler panic is recovered into an error", func(t *testing.T) {
		r := NewRegistry(testLogger())
		r.Register(ToolDefinition{Name: "explosive"}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
			panic("nil map write")
		})

		_, err := r.Execute(ctx, FunctionCall{Name: "explosive"}, "chat1")
		var toolErr *ToolExecutionError
		if !errors.As(err, &toolErr) {
			t.Errorf("expected the panic wrapped into a ToolExecutionError, got %v", err)
		}
	})

	t.Run("definitions keep registration order", func(t *testing.T) {
		r := NewRegistry(testLogger())
		noop := func(ctx context.Context, args map[string]any) (ToolResult, error) {
			return ToolResult{Success: true}, nil
		}
		r.Register(ToolDefinition{Name: "b"}, noop)
		r.Register(ToolDefinition{Name: "a"}, noop)
		r.Register(ToolDefinition{Name: "c"}, noop)

		defs := r.Definitions()
		want := []string{"b", "a", "c"}
		for i, def := range defs {
			if def.Name != want[i] {
				t.Fatalf("expected order %v, got %v", want, defs)
			}
		}
	})
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"name":    "dinner",
		"amount":  42.5,
		"count":   float64(3),
		"people":  []any{"Rami", "Lina", 7},
		"missing": nil,
	}

	if got := argString(args, "name"); got != "dinner" {
		t.Errorf("argString = %q", got)
	}
	if got := argString(args, "absent"); got != "" {
		t.Errorf("absent argString = %q", got)
	}
	if v, ok := argFloat(args, "amount"); !ok || v != 42.5 {
		t.Errorf("argFloat = %v, %v", v, ok)
	}
	if got := argInt(args, "count", 9); got != 3 {
		t.Errorf("argInt = %d", got)
	}
	if got := argInt(args, "absent", 9); got != 9 {
		t.Errorf("argInt fallback = %d", got)
	}
	people := argStrings(args, "people")
	if len(people) != 2 || people[0] != "Rami" || people[1] != "Lina" {
		t.Errorf("argStrings = %v", people)
	}
}
