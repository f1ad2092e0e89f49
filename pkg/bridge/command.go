package bridge

import (
	"fmt"
	"strings"
)

// Arg is one ordered flag for an agent command line. Bool true emits as a
// bare --name; bool false is omitted; every other value is rendered as
// --name=value with the value shell-escaped.
type Arg struct {
	Name  string
	Value interface{}
}

// BuildAgentCommand constructs the single command line for one agent call:
// the fixed agent binary path, the verb, an optional domain, then the
// ordered args. JSON output is always forced.
func BuildAgentCommand(agentPath, verb, domain string, args []Arg) string {
	parts := []string{agentPath, verb}
	if domain != "" {
		parts = append(parts, shellEscape(domain))
	}
	for _, arg := range args {
		switch v := arg.Value.(type) {
		case bool:
			if v {
				parts = append(parts, "--"+arg.Name)
			}
		case nil:
			parts = append(parts, "--"+arg.Name)
		default:
			parts = append(parts, fmt.Sprintf("--%s=%s", arg.Name, shellEscape(fmt.Sprintf("%v", v))))
		}
	}
	parts = append(parts, "--format=json")
	return strings.Join(parts, " ")
}

// shellEscape single-quotes a value for a POSIX shell. Embedded single
// quotes are closed, escaped, and reopened.
func shellEscape(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_' || r == '/' || r == ':' || r == '@' || r == '=':
		default:
			return false
		}
	}
	return true
}

// rawWhitelist is the closed set of diagnostic commands the bridge will
// execute outside the agent protocol. Matching is exact; there is no
// superuser exception.
var rawWhitelist = map[string]bool{
	"uptime":                    true,
	"df -h":                     true,
	"free -m":                   true,
	"nginx -t":                  true,
	"systemctl is-active nginx": true,
	"systemctl is-active mysql": true,
}

// ErrCommandNotAllowed is returned for any raw command outside the
// whitelist, before anything is executed.
type ErrCommandNotAllowed struct {
	Command string
}

func (e *ErrCommandNotAllowed) Error() string {
	return fmt.Sprintf("raw command not in whitelist: %q", e.Command)
}

// AllowedRawCommand reports whether cmd may be executed via RunRaw.
func AllowedRawCommand(cmd string) bool {
	return rawWhitelist[cmd]
}
