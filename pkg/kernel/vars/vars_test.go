package vars

import (
	"errors"
	"strings"
	"testing"

	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

func TestParse(t *testing.T) {
	tpl := Parse("curl ${#HOST}/users/${USER_ID}?t=${TOKEN}&u=${USER_ID}")
	refs := tpl.Refs()
	if len(refs) != 2 || refs[0] != "USER_ID" || refs[1] != "TOKEN" {
		t.Errorf("Refs = %v", refs)
	}
	if got := tpl.String(); got != "curl ${#HOST}/users/${USER_ID}?t=${TOKEN}&u=${USER_ID}" {
		t.Errorf("String = %q", got)
	}
}

func TestBind(t *testing.T) {
	tpl := Parse("echo ${A}-${B}-${C}")
	bound := tpl.Bind(func(name string) (string, bool) {
		if name == "A" || name == "C" {
			return "x", true
		}
		return "", false
	})
	if len(bound) != 3 {
		t.Fatalf("segments = %#v", bound)
	}
	if bound[0].Literal != "echo x-" || bound[1].Ref != "B" || bound[2].Literal != "-x" {
		t.Errorf("bound = %#v", bound)
	}
}

func TestScope_Precedence(t *testing.T) {
	s := NewScope()
	s.EnterSequence(map[string]string{"USER": "alice", "ENV": "dev"})
	s.Capture("USER", "bob")

	if v, _ := s.Lookup("USER"); v != "bob" {
		t.Errorf("USER = %q, want captured value bob", v)
	}
	if v, _ := s.Lookup("ENV"); v != "dev" {
		t.Errorf("ENV = %q, want dev", v)
	}

	// Captured values survive a sequence change, sequence values do not.
	s.EnterSequence(map[string]string{"REGION": "eu"})
	if _, ok := s.Lookup("ENV"); ok {
		t.Error("ENV should not be visible in the next sequence")
	}
	if v, _ := s.Lookup("USER"); v != "bob" {
		t.Errorf("USER = %q after sequence change", v)
	}
}

func TestScope_ExpandUnset(t *testing.T) {
	s := NewScope()
	s.EnterSequence(map[string]string{"A": "1"})
	got, err := s.Expand(Parse("a=${A}"))
	if err != nil || got != "a=1" {
		t.Fatalf("Expand = %q, %v", got, err)
	}
	_, err = s.Expand(Parse("b=${B}"))
	var ue *UnsetError
	if !errors.As(err, &ue) || ue.Name != "B" {
		t.Fatalf("err = %v, want UnsetError for B", err)
	}
}

func TestCaptureExtract(t *testing.T) {
	caps, err := CompileCaptures(schema.CapturePatterns(map[string]string{
		"TOKEN": `token=([a-z0-9]+)`,
		"WHOLE": `id-[0-9]+`,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if caps[0].Name != "TOKEN" || caps[1].Name != "WHOLE" {
		t.Fatalf("order = %v, %v", caps[0].Name, caps[1].Name)
	}
	out := "login ok\ntoken=abc123\nsession id-42"
	if v, ok := caps[0].Extract(out); !ok || v != "abc123" {
		t.Errorf("TOKEN = %q, %v", v, ok)
	}
	if v, ok := caps[1].Extract(out); !ok || v != "id-42" {
		t.Errorf("WHOLE = %q, %v", v, ok)
	}
	if _, ok := caps[0].Extract("nothing here"); ok {
		t.Error("expected no match")
	}
}

func TestCompileCaptures_Errors(t *testing.T) {
	tests := []struct {
		name    string
		decls   schema.CaptureVars
		wantMsg string
	}{
		{"bad pattern", schema.CaptureVars{{Name: "X", Capture: "("}}, "invalid pattern"},
		{"non-greedy", schema.CaptureVars{{Name: "X", Capture: "a.*?b"}}, "non-greedy"},
		{"bad name", schema.CaptureVars{{Name: "1BAD", Capture: "x"}}, "invalid variable name"},
		{"both", schema.CaptureVars{{Name: "X", Capture: "x", Command: "date"}}, "mutually exclusive"},
		{"neither", schema.CaptureVars{{Name: "X"}}, "one of capture or command"},
		{"duplicate", schema.CaptureVars{{Name: "X", Capture: "x"}, {Name: "X", Command: "date"}}, "more than once"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileCaptures(tt.decls)
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want substring %q", err, tt.wantMsg)
			}
		})
	}
}

func TestCompileCaptures_Command(t *testing.T) {
	caps, err := CompileCaptures(schema.CaptureVars{
		{Name: "HOST", Command: "  hostname -s  "},
		{Name: "ID", Capture: `id=(\d+)`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !caps[0].IsCommand() || caps[0].Command.String() != "hostname -s" {
		t.Errorf("HOST = %+v", caps[0])
	}
	if caps[1].IsCommand() {
		t.Error("ID should be a pattern capture")
	}
	if _, ok := caps[0].Extract("id=1"); ok {
		t.Error("command capture must not extract from output")
	}
	if got := CommandValue("web-01\n\n"); got != "web-01" {
		t.Errorf("CommandValue = %q", got)
	}
}
