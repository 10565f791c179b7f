package expression

import (
	"os/exec"
	"strconv"
	"strings"
	"testing"
)

func TestCompileRegexp_ERE(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{`ok`, `ok`},
		{`token=\d+`, `token=[0-9]+`},
		{`\w+`, `[0-9A-Z_a-z]+`},
		{`\s`, "[\t\n\f\r ]"},
		{`a.c`, "a[^\n]c"},
		{`(?s)a.c`, `a.c`},
		{`^v(\d+)\.(\d+)$`, `^v([0-9]+)\.([0-9]+)$`},
		{`(?:ab)+x`, `(ab)+x`},
		{`a{2,3}`, `a{2,3}`},
		{`[^\]]`, `[^]]`},
		{`[a-]`, `[a-]`},
		{`\$5`, `\$5`},
		{`(?i)ok`, "[Oo][Kk\u212a]"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			re, err := CompileRegexp(tt.pattern)
			if err != nil {
				t.Fatalf("CompileRegexp(%q): %v", tt.pattern, err)
			}
			if got := re.ERE(); got != tt.want {
				t.Errorf("ERE() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompileRegexp_Rejects(t *testing.T) {
	tests := []struct {
		pattern string
		wantMsg string
	}{
		{`a+?`, "non-greedy"},
		{`\bword\b`, "word boundaries"},
		{`(?m)^x`, "multi-line"},
		{`[\x00]`, "NUL"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			_, err := CompileRegexp(tt.pattern)
			if err == nil {
				t.Fatalf("CompileRegexp(%q) succeeded, want error", tt.pattern)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want substring %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRegexp_GroupMapping(t *testing.T) {
	re := MustCompileRegexp(`(?:ab|cd)e(f)`)
	if got := re.ERE(); got != `(ab|cd)e(f)` {
		t.Fatalf("ERE() = %q", got)
	}
	if re.NumSubexp() != 1 {
		t.Fatalf("NumSubexp() = %d, want 1", re.NumSubexp())
	}
	if g := re.EREGroup(1); g != 2 {
		t.Errorf("EREGroup(1) = %d, want 2", g)
	}
	if g := re.EREGroup(0); g != 0 {
		t.Errorf("EREGroup(0) = %d, want 0", g)
	}
}

// Go and bash must agree on every pattern the artifact can carry.
func TestRegexp_AgreesWithBash(t *testing.T) {
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not available")
	}
	tests := []struct {
		pattern string
		subject string
		group   string // expected capture 1, if any
	}{
		{`token=(\d+)`, "token=12345 rest", "12345"},
		{`token=\d+`, "token=abc", ""},
		{`^\w+:\s+(\S+)$`, "status:  ready", "ready"},
		{`a.c`, "a\nc", ""},
		{`(?:ab|cd)e(f)`, "xcdef", "f"},
		{`v(\d+)\.\d+`, "release v10.2", "10"},
		{`[^\]]+\]`, "[x]", ""},
		{`(?i)ERROR`, "an error occurred", ""},
		{`\$\{HOME\}`, "path ${HOME}", ""},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			re := MustCompileRegexp(tt.pattern)
			script := `if [[ $1 =~ $2 ]]; then printf 'match:%s' "${BASH_REMATCH[$3]}"; else printf 'nomatch'; fi`
			out, err := exec.Command(bash, "-c", script, "_", tt.subject, re.ERE(), strconv.Itoa(re.EREGroup(1))).Output()
			if err != nil {
				t.Fatalf("bash: %v", err)
			}
			want := "nomatch"
			if m := re.FindStringSubmatch(tt.subject); m != nil {
				want = "match:" + m[0]
				if re.NumSubexp() > 0 {
					want = "match:" + m[1]
				}
			}
			if string(out) != want {
				t.Errorf("bash %q, go %q (ERE %q)", out, want, re.ERE())
			}
			if tt.group != "" && want != "match:"+tt.group {
				t.Errorf("go result %q, want group %q", want, tt.group)
			}
		})
	}
}

