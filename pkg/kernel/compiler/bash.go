package compiler

import (
	"fmt"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/ormasoftchile/tcrun/pkg/kernel/expression"
	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
	"github.com/ormasoftchile/tcrun/pkg/kernel/vars"
)

// Exit statuses of a compiled artifact.
const (
	ExitPassed       = 0
	ExitStepFailed   = 1
	ExitRuntimeError = 3
	ExitCanceled     = 4 // TERM or INT received; the run stopped before the next step
)

// BashOptions controls artifact paths. Both can be overridden at run time
// with TCRUN_LOG_PATH and TCRUN_ARTIFACT_DIR.
type BashOptions struct {
	LogPath     string // default <id>_execution_log.json
	ArtifactDir string // default "."
}

// DefaultLogPath is the execution log name used when none is configured.
func DefaultLogPath(testCaseID string) string {
	return testCaseID + "_execution_log.json"
}

const bashPreamble = `FIRST_ENTRY=true
LOG_FINALIZED=false

tcrun_finalize() {
    local status=$?
    if [ "$LOG_FINALIZED" = false ]; then
        LOG_FINALIZED=true
        printf '\n]\n' >> "$JSON_LOG"
    fi
    exit "$status"
}

tcrun_json_escape() {
    local s
    s=$(printf '%s' "$1" | tr -d '\001-\007\013\016-\037')
    s=${s//\\/\\\\}
    s=${s//\"/\\\"}
    s=${s//$'\n'/\\n}
    s=${s//$'\r'/\\r}
    s=${s//$'\t'/\\t}
    s=${s//$'\b'/\\b}
    s=${s//$'\f'/\\f}
    printf '%s' "$s"
}

tcrun_log_entry() {
    local sep=','
    if [ "$FIRST_ENTRY" = true ]; then
        sep=''
        FIRST_ENTRY=false
    fi
    printf '%s\n  {"test_sequence": %d, "step": %d, "command": "%s", "exit_code": %d, "output": "%s", "timestamp": "%s"}' \
        "$sep" "$1" "$2" "$(tcrun_json_escape "$3")" "$4" "$(tcrun_json_escape "$5")" \
        "$(date -u +%Y-%m-%dT%H:%M:%SZ)" >> "$JSON_LOG"
}

tcrun_match() {
    [[ $1 =~ $2 ]]
}

tcrun_match_file() {
    [ -f "$1" ] || return 1
    local content
    content=$(cat "$1")
    [[ $content =~ $2 ]]
}

tcrun_hook() {
    local kind=$1 policy=$2 command=$3 code
    export TCRUN_HOOK=$kind
    if [[ $command == *.sh ]]; then
        if [ -f "$command" ]; then
            ( source "$command" )
            code=$?
        else
            echo "Warning: hook script '$command' not found" >&2
            code=127
        fi
    else
        ( eval "$command" )
        code=$?
    fi
    unset TCRUN_HOOK
    if [ "$code" -ne 0 ]; then
        if [ "$policy" = continue ]; then
            echo "Warning: $kind hook failed with exit code $code (continuing)" >&2
        else
            echo "Error: $kind hook failed with exit code $code" >&2
            exit 3
        fi
    fi
}

tcrun_unset_var() {
    echo "Error: variable '$1' is not set (sequence $2, step $3)" >&2
    exit 3
}

TCRUN_STOP=false
trap 'TCRUN_STOP=true' TERM INT

tcrun_check_stop() {
    if [ "$TCRUN_STOP" = true ]; then
        echo "Error: run canceled" >&2
        exit 4
    fi
}

TCRUN_INTERACTIVE=true
if [ "${TCRUN_NON_INTERACTIVE:-}" = 1 ] || [ "${DEBIAN_FRONTEND:-}" = noninteractive ] || ! [ -t 0 ]; then
    TCRUN_INTERACTIVE=false
fi
`

type bashWriter struct {
	b strings.Builder
}

func (w *bashWriter) l(format string, args ...any) {
	if len(args) == 0 {
		w.b.WriteString(format)
	} else {
		fmt.Fprintf(&w.b, format, args...)
	}
	w.b.WriteByte('\n')
}

func (w *bashWriter) echo(indent, msg string) {
	w.l("%secho %s", indent, q(msg))
}

func (w *bashWriter) hook(h *schema.Hooks, kind schema.HookKind) {
	hk := h.Get(kind)
	if hk == nil {
		return
	}
	w.l("tcrun_hook %s %s %s", kind, hk.Policy(), q(hk.Command))
}

func q(s string) string { return shellescape.Quote(s) }

// refs binds REF_<name> for every reference in tpl: the captured value when
// set, else the sequence variable, else a runtime error.
func (w *bashWriter) refs(seq *Sequence, st *Step, tpl vars.Template) {
	for _, ref := range tpl.Refs() {
		w.l(`if [ -n "${CAP_VAR_%s+x}" ]; then`, ref)
		w.l("    REF_%s=$CAP_VAR_%s", ref, ref)
		w.l("else")
		if v, ok := seq.Variables[ref]; ok {
			w.l("    REF_%s=%s", ref, q(v))
		} else {
			w.l("    tcrun_unset_var %s %d %d", ref, seq.ID, st.Number)
		}
		w.l("fi")
	}
}

// renderTemplate quotes literal segments and splices references as
// "$REF_<name>".
func renderTemplate(tpl vars.Template) string {
	var b strings.Builder
	for _, seg := range tpl {
		if seg.IsRef() {
			b.WriteString(`"$REF_` + seg.Ref + `"`)
		} else {
			b.WriteString(q(seg.Literal))
		}
	}
	if b.Len() == 0 {
		return "''"
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RenderBash renders the plan as a self-contained bash script.
//
// The script appends one log entry per executed automated step, halts on the
// first failing step (exit 1) or failing fail-policy hook, prerequisite or
// unset variable (exit 3), and closes the JSON log from an EXIT trap so the
// log is well-formed however the script ends. TERM and INT are deferred to
// the next sequence or step boundary, where the script exits 4.
func RenderBash(p *Plan, opts BashOptions) []byte {
	logPath := opts.LogPath
	if logPath == "" {
		logPath = DefaultLogPath(p.TestCaseID)
	}
	artifactDir := opts.ArtifactDir
	if artifactDir == "" {
		artifactDir = "."
	}

	w := &bashWriter{}
	w.l("#!/usr/bin/env bash")
	w.l("# Test case %s, generated by tcrun. Do not edit.", oneLine(p.TestCaseID))
	if p.Description != "" {
		w.l("# %s", oneLine(p.Description))
	}
	w.l("set -o pipefail")
	w.l("")
	w.l("TCRUN_TEST_CASE_ID=%s", q(p.TestCaseID))
	w.l("JSON_LOG=${TCRUN_LOG_PATH:-%s}", q(logPath))
	w.l("ARTIFACT_DIR=${TCRUN_ARTIFACT_DIR:-%s}", q(artifactDir))
	w.l("export TCRUN_TEST_CASE_ID")
	w.l("")
	w.b.WriteString(bashPreamble)
	w.l("")
	w.l(`mkdir -p "$ARTIFACT_DIR" "$(dirname "$JSON_LOG")"`)
	w.l(`printf '[' > "$JSON_LOG"`)
	w.l("trap tcrun_finalize EXIT")
	w.l("")

	w.hook(p.Hooks, schema.HookScriptStart)
	renderPrerequisites(w, p.Prerequisites)
	w.hook(p.Hooks, schema.HookSetupTest)

	for _, seq := range p.Sequences {
		w.l("")
		w.l("# Sequence %d: %s", seq.ID, oneLine(seq.Name))
		w.l("TCRUN_SEQUENCE_ID=%d", seq.ID)
		w.l("TCRUN_SEQUENCE_NAME=%s", q(seq.Name))
		w.l("export TCRUN_SEQUENCE_ID TCRUN_SEQUENCE_NAME")
		w.l("tcrun_check_stop")
		w.hook(p.Hooks, schema.HookBeforeSequence)

		for i := range seq.Steps {
			renderStep(w, p, &seq, &seq.Steps[i])
		}

		w.hook(p.Hooks, schema.HookAfterSequence)
	}

	w.l("")
	w.l("tcrun_check_stop")
	w.hook(p.Hooks, schema.HookTeardownTest)
	w.l(`echo "All test sequences completed successfully"`)
	w.hook(p.Hooks, schema.HookScriptEnd)
	w.l("exit 0")
	return []byte(w.b.String())
}

func renderPrerequisites(w *bashWriter, prereqs []schema.Prerequisite) {
	for i, pr := range prereqs {
		n := i + 1
		switch pr.Type {
		case schema.PrerequisiteManual:
			w.echo("", fmt.Sprintf("[SKIP] Manual prerequisite %d: %s", n, pr.Description))
		case schema.PrerequisiteAutomatic:
			w.echo("", fmt.Sprintf("[CHECK] Automatic prerequisite %d: %s", n, pr.Description))
			w.l("if ! ( eval %s ) >/dev/null 2>&1; then", q(pr.VerificationCommand))
			w.l("    echo %s >&2", q(fmt.Sprintf("Error: prerequisite %d failed: %s", n, pr.Description)))
			w.l("    exit %d", ExitRuntimeError)
			w.l("fi")
		}
	}
}

func renderStep(w *bashWriter, p *Plan, seq *Sequence, st *Step) {
	w.l("")
	kind := ""
	if st.Manual {
		kind = " (manual)"
	}
	w.l("# Step %d%s: %s", st.Number, kind, oneLine(st.Description))
	w.l("TCRUN_STEP_NUMBER=%d", st.Number)
	w.l("TCRUN_STEP_DESCRIPTION=%s", q(st.Description))
	w.l("export TCRUN_STEP_NUMBER TCRUN_STEP_DESCRIPTION")
	w.l("tcrun_check_stop")
	w.hook(p.Hooks, schema.HookBeforeStep)

	label := fmt.Sprintf("Step %d: %s", st.Number, st.Description)
	if st.Manual {
		w.echo("", "[MANUAL] "+label)
		if action := st.Command.String(); action != "" {
			w.echo("", "  Action: "+action)
		}
		w.l(`if [ "$TCRUN_INTERACTIVE" = true ]; then`)
		w.l("    read -r -p 'Press ENTER to continue...' _ || true")
		w.l("else")
		w.l("    echo 'Non-interactive mode detected, skipping manual step confirmation.'")
		w.l("fi")
		w.hook(p.Hooks, schema.HookAfterStep)
		return
	}

	w.l(`LOG_FILE="$ARTIFACT_DIR"/%s`, q(StepLogName(p.TestCaseID, seq.ID, st.Number)))
	w.refs(seq, st, st.Command)
	w.l("TCRUN_COMMAND=%s", renderTemplate(st.Command))
	w.l(`COMMAND_OUTPUT=$( { eval "$TCRUN_COMMAND"; } 2>&1 )`)
	w.l("EXIT_CODE=$?")
	w.l(`printf '%%s\n' "$COMMAND_OUTPUT" | tee "$LOG_FILE"`)

	for _, c := range st.Captures {
		if c.IsCommand() {
			w.refs(seq, st, c.Command)
			w.l("TCRUN_CAPTURE_COMMAND=%s", renderTemplate(c.Command))
			w.l(`CAP_VAR_%s=$( { export COMMAND_OUTPUT EXIT_CODE; eval "$TCRUN_CAPTURE_COMMAND"; } 2>&1 )`, c.Name)
			continue
		}
		group := 0
		if c.Pattern.NumSubexp() > 0 {
			group = c.Pattern.EREGroup(1)
		}
		w.l("TCRUN_RE=%s", q(c.Pattern.ERE()))
		w.l("if [[ $COMMAND_OUTPUT =~ $TCRUN_RE ]]; then")
		w.l("    CAP_VAR_%s=${BASH_REMATCH[%d]}", c.Name, group)
		w.l("fi")
	}

	w.l("RESULT_OK=false")
	w.l("if %s; then RESULT_OK=true; fi", expression.Bash(st.Result))
	w.l("OUTPUT_OK=false")
	w.l("if %s; then OUTPUT_OK=true; fi", expression.Bash(st.Output))
	w.l(`tcrun_log_entry %d %d "$TCRUN_COMMAND" "$EXIT_CODE" "$COMMAND_OUTPUT"`, seq.ID, st.Number)
	w.l(`if [ "$RESULT_OK" = true ] && [ "$OUTPUT_OK" = true ]; then`)
	w.echo("    ", "[PASS] "+label)
	w.l("else")
	w.echo("    ", "[FAIL] "+label)
	w.l(`    echo "  Exit code: $EXIT_CODE"`)
	w.l(`    echo "  Result verification: $RESULT_OK"%s`, q(" ("+st.Result.String()+")"))
	w.l(`    echo "  Output verification: $OUTPUT_OK"%s`, q(" ("+st.Output.String()+")"))
	w.l(`    if [ "$EXIT_CODE" -eq 127 ]; then`)
	w.l(`        echo "Error: command not found in step %d of sequence %d" >&2`, st.Number, seq.ID)
	w.l("        exit %d", ExitRuntimeError)
	w.l("    fi")
	w.l("    exit %d", ExitStepFailed)
	w.l("fi")
	w.hook(p.Hooks, schema.HookAfterStep)
}
