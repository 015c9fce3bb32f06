package tools

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"warden/internal/process"
)

func TestGetStringMap(t *testing.T) {
	got, err := GetStringMap(map[string]any{
		"env": map[string]any{"A": "1", "B": float64(2), "C": true},
	}, "env")
	if err != nil {
		t.Fatalf("GetStringMap: %v", err)
	}
	want := map[string]string{"A": "1", "B": "2", "C": "true"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetStringMap = %v, want %v", got, want)
	}

	if got, err := GetStringMap(map[string]any{}, "env"); err != nil || got != nil {
		t.Fatalf("missing key = %v, %v", got, err)
	}
	if _, err := GetStringMap(map[string]any{"env": "A=1"}, "env"); err == nil {
		t.Fatal("expected error for non-object env")
	}
	if _, err := GetStringMap(map[string]any{"env": map[string]any{"A": []any{1}}}, "env"); err == nil {
		t.Fatal("expected error for nested value")
	}
}

func TestParsePtyArg(t *testing.T) {
	tests := []struct {
		in   any
		want process.PtyMode
	}{
		{nil, ""},
		{true, process.PtyPrefer},
		{false, process.PtyOff},
		{"require", process.PtyRequire},
	}
	for _, tt := range tests {
		args := map[string]any{}
		if tt.in != nil {
			args["pty"] = tt.in
		}
		got, err := parsePtyArg(args)
		if err != nil || got != tt.want {
			t.Errorf("parsePtyArg(%v) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := parsePtyArg(map[string]any{"pty": 3}); err == nil {
		t.Error("expected error for numeric pty")
	}
}

func TestExecValidate(t *testing.T) {
	tool := NewExecTool(nil, nil, nil, ExecOptions{})
	bad := []map[string]any{
		{},
		{"command": "   "},
		{"command": "ls", "timeout": float64(-1)},
		{"command": "ls", "timeout": "soon"},
		{"command": "ls", "yield_ms": -5},
		{"command": "ls", "pty": "maybe"},
		{"command": "ls", "env": "X=1"},
	}
	for _, args := range bad {
		if err := tool.Validate(args); err == nil {
			t.Errorf("Validate(%v) = nil, want error", args)
		}
	}
	if err := tool.Validate(map[string]any{"command": "ls", "timeout": float64(5), "pty": "prefer"}); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
}

func TestProcessValidate(t *testing.T) {
	tool := NewProcessTool(process.NewRegistry(process.RegistryOptions{}), 0)
	if err := tool.Validate(map[string]any{"action": "list"}); err != nil {
		t.Errorf("list: %v", err)
	}
	if err := tool.Validate(map[string]any{"action": "poll"}); err == nil {
		t.Error("poll without session_id must fail validation")
	}
	if err := tool.Validate(map[string]any{"action": "explode", "session_id": "x"}); err == nil {
		t.Error("unknown action must fail validation")
	}
}

func TestProcessUnknownSessionIsErrorResult(t *testing.T) {
	tool := NewProcessTool(process.NewRegistry(process.RegistryOptions{}), 0)
	for _, action := range []string{"status", "poll", "log", "write", "kill", "clear"} {
		res, err := tool.Execute(context.Background(), map[string]any{"action": action, "session_id": "nope"})
		if err != nil {
			t.Fatalf("%s returned Go error %v", action, err)
		}
		if res.Success || !strings.Contains(res.Error, "no session found for nope") {
			t.Errorf("%s result = %+v", action, res)
		}
	}
}

func TestClipPending(t *testing.T) {
	out, errOut := clipPending("abcdef", "xyz", 5)
	if out != "ef" || errOut != "xyz" {
		t.Fatalf("clipPending = %q, %q", out, errOut)
	}
	out, errOut = clipPending("abc", "uvwxyz", 4)
	if out != "" || errOut != "wxyz" {
		t.Fatalf("clipPending = %q, %q", out, errOut)
	}
}

func TestSplitLines(t *testing.T) {
	if got := splitLines(""); len(got) != 0 {
		t.Fatalf("splitLines(\"\") = %q", got)
	}
	got := splitLines("a\r\nb\n\nc\n")
	want := []string{"a", "b", "", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitLines = %q, want %q", got, want)
	}
}

func TestRegistryExecuteValidates(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(NewProcessTool(process.NewRegistry(process.RegistryOptions{}), 0))

	res, err := reg.Execute(context.Background(), "process", map[string]any{"action": "poll"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !strings.Contains(res.Error, "session_id") {
		t.Fatalf("result = %+v", res)
	}

	res, err = reg.Execute(context.Background(), "missing", nil)
	if err != nil || res.Success {
		t.Fatalf("unknown tool = %+v, %v", res, err)
	}

	res, err = reg.Execute(context.Background(), "process", map[string]any{"action": "list"})
	if err != nil || !res.Success || res.Duration == "" {
		t.Fatalf("list = %+v, %v", res, err)
	}
	if err := reg.Register(NewProcessTool(nil, 0)); err == nil {
		t.Fatal("duplicate registration must fail")
	}
	if decls := reg.Declarations(); len(decls) != 1 || decls[0].Name != "process" {
		t.Fatalf("declarations = %v", decls)
	}
}
