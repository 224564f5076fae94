package process

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Spec describes an external program owned by the supervisor: the proxy,
// a slot service, or a one-shot redeploy step.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"` // shell-like command line
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"` // extra KEY=VALUE entries
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("process name is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("process " + s.Name + " requires command")
	}
	return nil
}

// CommandContext builds an *exec.Cmd for s.Command bound to ctx.
// A shell is only used when the command line needs one; an explicit
// "sh -c ..." prefix is honored without wrapping it in a second shell.
func (s Spec) CommandContext(ctx context.Context) *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	var cmd *exec.Cmd
	switch {
	case cmdStr == "":
		cmd = trueCommand(ctx)
	case hasExplicitShell(cmdStr):
		cmd = shellCommand(ctx, shellScript(cmdStr))
	case strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~"):
		cmd = shellCommand(ctx, cmdStr)
	default:
		parts := strings.Fields(cmdStr)
		// #nosec G204
		cmd = exec.CommandContext(ctx, parts[0], parts[1:]...)
	}
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	return cmd
}

var shellPrefixes = []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}

func hasExplicitShell(cmdStr string) bool {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range shellPrefixes {
		if strings.HasPrefix(trim, p) {
			return true
		}
	}
	return false
}

// shellScript returns the argument after "-c", with one pair of enclosing
// quotes removed so redirections inside the script still work.
func shellScript(cmdStr string) string {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range shellPrefixes {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after
	}
	return cmdStr
}
