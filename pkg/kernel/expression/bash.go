package expression

import (
	"strconv"

	"github.com/alessio/shellescape"
)

// Bash renders n as a bash condition list. The generated code expects the
// artifact preamble to define EXIT_CODE, COMMAND_OUTPUT, ARTIFACT_DIR and
// the tcrun_match / tcrun_match_file helpers.
//
// Patterns are emitted in their POSIX ERE rendering so bash's [[ =~ ]]
// agrees with in-process evaluation.
func Bash(n Node) string {
	switch n := n.(type) {
	case ExitCodeEquals:
		return `[ "$EXIT_CODE" -eq ` + strconv.Itoa(n.Value) + ` ]`
	case ExitCodeIsZero:
		return `[ "$EXIT_CODE" -eq 0 ]`
	case *OutputMatches:
		if n.Source.Kind == SourceArtifact {
			return `tcrun_match_file "$ARTIFACT_DIR"/` + shellescape.Quote(n.Source.Name) + ` ` + shellescape.Quote(n.ERE())
		}
		return `tcrun_match "$COMMAND_OUTPUT" ` + shellescape.Quote(n.ERE())
	case Always:
		if n.Value {
			return "true"
		}
		return "false"
	case And:
		return "{ " + Bash(n.Left) + " && " + Bash(n.Right) + "; }"
	case Or:
		return "{ " + Bash(n.Left) + " || " + Bash(n.Right) + "; }"
	case Not:
		return "{ ! " + Bash(n.X) + "; }"
	}
	return "false"
}
