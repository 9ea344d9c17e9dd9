package cmd

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"

	"commandbot/pkg/config"
	"commandbot/pkg/conversation"
	"commandbot/pkg/conversation/topics"
)

func TestIsExitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "exit", want: true},
		{input: " quit ", want: true},
		{input: ":q", want: true},
		{input: "EXIT", want: true},
		{input: "hello", want: false},
		{input: "quit now", want: false},
	}

	for _, tt := range tests {
		if got := isExitCommand(tt.input); got != tt.want {
			t.Fatalf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestReplyLines(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOut []string
	}{
		{name: "single line", input: "hello", wantOut: []string{"hello"}},
		{name: "multi line", input: "one\ntwo", wantOut: []string{"one", "two"}},
		{name: "trim outer whitespace", input: "  one\ntwo  ", wantOut: []string{"one", "two"}},
		{name: "empty input", input: "   ", wantOut: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := replyLines(tt.input)
			if !reflect.DeepEqual(got, tt.wantOut) {
				t.Fatalf("replyLines(%q) = %#v, want %#v", tt.input, got, tt.wantOut)
			}
		})
	}
}

func TestRunPlainRoutesThroughTopics(t *testing.T) {
	echo := &topics.Echo{}
	if err := echo.Configure(map[string]any{"prefix": "echo: "}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	router, err := conversation.NewRouter(nil, nil, map[string]conversation.Topic{conversation.DefaultTopic: echo})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	var out bytes.Buffer
	in := strings.NewReader("hello\n\nsecond line\nquit\nnever sent\n")
	if err := runPlain(context.Background(), in, &out, routeSender(router, "you@console/terminal")); err != nil {
		t.Fatalf("runPlain: %v", err)
	}

	want := "bot> echo: hello\nbot> echo: second line\n"
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
	if router.Len() != 1 {
		t.Fatalf("conversations = %d, want 1", router.Len())
	}
}

func TestCatalogRows(t *testing.T) {
	cfg := &config.Config{
		Commands: []config.PluginConfig{{Name: "calculator"}},
		Topics: []config.PluginConfig{
			{Name: "echo", Alias: "parrot", Default: true},
			{Name: "echo"},
		},
	}

	rows := catalogRows(cfg)
	want := [][]string{
		{"command", "calculator", "[calculator]"},
		{"command", "presence", "-"},
		{"topic", "assistant", "-"},
		{"topic", "echo", "[parrot (default) echo]"},
		{"topic", "ignore", "-"},
		{"topic", "switchboard", "-"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("catalogRows = %#v, want %#v", rows, want)
	}

	rendered := renderCatalog(cfg)
	for _, name := range []string{"KIND", "calculator", "switchboard"} {
		if !strings.Contains(rendered, name) {
			t.Fatalf("rendered table missing %q:\n%s", name, rendered)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(out.String(), "CommandBot ") {
		t.Fatalf("version output = %q", out.String())
	}
}
