package bridge

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind categorizes a bridge connection failure so callers can branch on
// recoverability.
type Kind string

const (
	KindKeyMissing  Kind = "key_missing"
	KindInsecureKey Kind = "insecure_key"
	KindAuthFailed  Kind = "auth_failed"
	KindTimeout     Kind = "timeout"
	KindRefused     Kind = "refused"
	KindUnknown     Kind = "unknown"
)

// ConnError is a categorized connection failure.
type ConnError struct {
	Kind Kind
	Host string
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("bridge %s: %s: %v", e.Host, e.Kind, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// RetryKind satisfies the retry package's allow-list matching.
func (e *ConnError) RetryKind() string {
	return string(e.Kind)
}

// Recoverable reports whether a retry could plausibly succeed without
// operator intervention. Key problems and auth failures are not
// recoverable by retrying.
func (e *ConnError) Recoverable() bool {
	switch e.Kind {
	case KindTimeout, KindRefused, KindUnknown:
		return true
	}
	return false
}

// classifyDialError maps a transport error onto a failure kind.
func classifyDialError(host string, err error) *ConnError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnError{Kind: KindTimeout, Host: host, Err: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return &ConnError{Kind: KindRefused, Host: host, Err: err}
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "handshake failed"):
		return &ConnError{Kind: KindAuthFailed, Host: host, Err: err}
	case strings.Contains(msg, "i/o timeout"):
		return &ConnError{Kind: KindTimeout, Host: host, Err: err}
	}
	return &ConnError{Kind: KindUnknown, Host: host, Err: err}
}

// CommandError is a remote command failure: the session ran but the agent
// exited non-zero or reported failure in its envelope. Remote output is
// attached for debugging.
type CommandError struct {
	Verb     string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("agent %s failed (exit %d): %s", e.Verb, e.ExitCode, strings.TrimSpace(e.Output))
}

// RetryKind marks command failures distinctly from connection failures.
func (e *CommandError) RetryKind() string {
	return "command_failed"
}
