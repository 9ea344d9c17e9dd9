package plugin

import (
	"errors"
	"testing"
	"time"
)

type greeter struct{ greeting string }

func TestCatalogNewAndNames(t *testing.T) {
	catalog := NewCatalog[*greeter]("topic")
	catalog.Register("hello", func() *greeter { return &greeter{greeting: "hello"} })
	catalog.Register("bye", func() *greeter { return &greeter{greeting: "bye"} })

	first, err := catalog.New("hello")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, _ := catalog.New("hello")
	if first == second {
		t.Fatal("factory should build a fresh value each time")
	}
	if names := catalog.Names(); len(names) != 2 || names[0] != "bye" || names[1] != "hello" {
		t.Fatalf("names = %#v", names)
	}
}

func TestCatalogUnknownName(t *testing.T) {
	catalog := NewCatalog[*greeter]("command")

	_, err := catalog.New("org.example.Missing")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
	if cfgErr.Kind != "command" || cfgErr.Name != "org.example.Missing" {
		t.Fatalf("unexpected error fields: %#v", cfgErr)
	}
}

func TestDecode(t *testing.T) {
	var target struct {
		Prefix  string        `config:"prefix"`
		Limit   int           `config:"limit"`
		Timeout time.Duration `config:"timeout"`
	}

	err := Decode(map[string]any{"prefix": ">", "limit": "3", "timeout": "2s"}, &target)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if target.Prefix != ">" || target.Limit != 3 || target.Timeout != 2*time.Second {
		t.Fatalf("unexpected decode: %#v", target)
	}

	if err := Decode(map[string]any{"unknown": true}, &target); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
	if err := Decode(nil, &target); err != nil {
		t.Fatalf("nil config should be a no-op: %v", err)
	}
}
