package engine

import (
	"strconv"

	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

// RunContext is the run-scoped record handed to every hook and command as
// TCRUN_* environment variables. It replaces any shared on-disk state
// between hooks.
type RunContext struct {
	RunID           string
	TestCaseID      string
	LogPath         string
	ArtifactDir     string
	Interactive     bool
	Sequence        int
	SequenceName    string
	Step            int
	StepDescription string
	Hook            schema.HookKind
}

// NewRunContext returns a context positioned before the first sequence.
func NewRunContext(runID, testCaseID, logPath, artifactDir string, interactive bool) *RunContext {
	return &RunContext{
		RunID:       runID,
		TestCaseID:  testCaseID,
		LogPath:     logPath,
		ArtifactDir: artifactDir,
		Interactive: interactive,
	}
}

// EnterSequence moves the context to a new sequence.
func (rc *RunContext) EnterSequence(id int, name string) {
	rc.Sequence, rc.SequenceName = id, name
	rc.Step, rc.StepDescription = 0, ""
}

// EnterStep moves the context to a new step of the current sequence.
func (rc *RunContext) EnterStep(n int, description string) {
	rc.Step, rc.StepDescription = n, description
}

// Environ renders the context as KEY=VALUE pairs. Position variables are
// only present once the run has reached a sequence or step.
func (rc *RunContext) Environ() []string {
	env := []string{
		"TCRUN_RUN_ID=" + rc.RunID,
		"TCRUN_TEST_CASE_ID=" + rc.TestCaseID,
		"TCRUN_LOG_PATH=" + rc.LogPath,
		"TCRUN_ARTIFACT_DIR=" + rc.ArtifactDir,
		"TCRUN_INTERACTIVE=" + strconv.FormatBool(rc.Interactive),
	}
	if rc.Sequence != 0 || rc.SequenceName != "" {
		env = append(env,
			"TCRUN_SEQUENCE_ID="+strconv.Itoa(rc.Sequence),
			"TCRUN_SEQUENCE_NAME="+rc.SequenceName,
		)
	}
	if rc.Step != 0 {
		env = append(env,
			"TCRUN_STEP_NUMBER="+strconv.Itoa(rc.Step),
			"TCRUN_STEP_DESCRIPTION="+rc.StepDescription,
		)
	}
	if rc.Hook != "" {
		env = append(env, "TCRUN_HOOK="+string(rc.Hook))
	}
	return env
}
