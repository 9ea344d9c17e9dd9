package jid

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  JID
	}{
		{input: "bot@example.org/home", want: JID{Node: "bot", Domain: "example.org", Resource: "home"}},
		{input: "bot@Example.ORG", want: JID{Node: "bot", Domain: "example.org"}},
		{input: "example.org", want: JID{Domain: "example.org"}},
		{input: " example.org/r/with/slash ", want: JID{Domain: "example.org", Resource: "r/with/slash"}},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Fatalf("Parse(%q) = %#v, want %#v", tt.input, got, tt.want)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "   ", "@example.org", "bot@", "bot@example.org/", "/res"} {
		if _, err := Parse(input); err == nil {
			t.Fatalf("Parse(%q) expected error", input)
		}
	}
}

func TestBareAndString(t *testing.T) {
	full := MustParse("bot@example.org/home")

	if got := full.String(); got != "bot@example.org/home" {
		t.Fatalf("String() = %q", got)
	}
	if got := full.Bare().String(); got != "bot@example.org" {
		t.Fatalf("Bare().String() = %q", got)
	}
	if full.IsBare() {
		t.Fatal("full address reported bare")
	}
	if !full.Bare().IsBare() {
		t.Fatal("bare address reported full")
	}
	if !full.SameBare(MustParse("bot@example.org/work")) {
		t.Fatal("expected same bare address across resources")
	}
	if full.SameBare(MustParse("other@example.org/home")) {
		t.Fatal("different nodes reported same bare address")
	}
	if (JID{}).String() != "" || !(JID{}).IsZero() {
		t.Fatal("zero address should be empty")
	}
}
