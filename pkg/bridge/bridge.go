package bridge

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/metrics"
	"github.com/chomhq/chom/pkg/types"
)

const defaultAgentPath = "/usr/local/bin/chom-agent"

// Config holds bridge configuration
type Config struct {
	IdentityFile string        // SSH private key; must be mode 0600 or 0400
	User         string        // Default SSH user when the node defines none
	AgentPath    string        // Agent binary path on every node
	DialTimeout  time.Duration // Per-connection timeout
}

// Bridge issues one-shot agent calls over SSH. Every call is a full
// connect-execute-disconnect cycle; sessions are never pooled or reused.
type Bridge struct {
	cfg Config
}

// NewBridge validates the configuration and returns a Bridge. The identity
// key is checked here so insecure deployments fail at startup, not at the
// first call.
func NewBridge(cfg Config) (*Bridge, error) {
	if cfg.AgentPath == "" {
		cfg.AgentPath = defaultAgentPath
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if _, err := loadSigner(cfg.IdentityFile); err != nil {
		return nil, err
	}
	return &Bridge{cfg: cfg}, nil
}

// loadSigner reads and parses the private key, enforcing owner-only file
// permissions. Anything looser than 0600/0400 is a fatal configuration
// error, never silently tolerated.
func loadSigner(path string) (ssh.Signer, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConnError{Kind: KindKeyMissing, Host: "", Err: err}
		}
		return nil, &ConnError{Kind: KindUnknown, Host: "", Err: err}
	}

	if mode := info.Mode().Perm(); mode != 0o600 && mode != 0o400 {
		return nil, &ConnError{
			Kind: KindInsecureKey,
			Err:  fmt.Errorf("identity file %s has mode %04o, require 0600 or 0400", path, mode),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConnError{Kind: KindUnknown, Err: err}
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, &ConnError{Kind: KindUnknown, Err: fmt.Errorf("parse identity file: %w", err)}
	}
	return signer, nil
}

// Run executes one agent verb on a node and returns the parsed envelope.
// A successful session with a failing envelope yields a *CommandError.
func (b *Bridge) Run(ctx context.Context, node *types.Node, verb, domain string, args []Arg) (*Envelope, error) {
	cmd := BuildAgentCommand(b.cfg.AgentPath, verb, domain, args)
	raw, err := b.exec(ctx, node, cmd)
	if err != nil {
		metrics.BridgeCallsTotal.WithLabelValues(verb, "connect_error").Inc()
		return nil, err
	}

	env, err := ParseEnvelope(raw)
	if err != nil {
		metrics.BridgeCallsTotal.WithLabelValues(verb, "bad_envelope").Inc()
		return nil, err
	}

	if !env.Success {
		metrics.BridgeCallsTotal.WithLabelValues(verb, "command_error").Inc()
		return env, &CommandError{Verb: verb, ExitCode: env.ExitCode, Output: env.Output}
	}

	metrics.BridgeCallsTotal.WithLabelValues(verb, "ok").Inc()
	return env, nil
}

// RunRaw executes a whitelisted diagnostic command. Any command outside
// the whitelist is rejected before any connection is opened.
func (b *Bridge) RunRaw(ctx context.Context, node *types.Node, cmd string) (string, error) {
	if !AllowedRawCommand(cmd) {
		logger := log.WithComponent("bridge")
		logger.Error().
			Str("node", node.Hostname).
			Str("command", cmd).
			Msg("rejected non-whitelisted raw command")
		return "", &ErrCommandNotAllowed{Command: cmd}
	}
	return b.exec(ctx, node, cmd)
}

// Ping opens a session and runs the cheapest whitelisted probe. Used by
// the orchestrator as its lightweight connectivity check.
func (b *Bridge) Ping(ctx context.Context, node *types.Node) error {
	_, err := b.RunRaw(ctx, node, "uptime")
	return err
}

// exec performs one connect-execute-disconnect cycle.
func (b *Bridge) exec(ctx context.Context, node *types.Node, cmd string) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BridgeCallDuration)

	signer, err := loadSigner(b.cfg.IdentityFile)
	if err != nil {
		return "", err
	}

	user := node.SSHUser
	if user == "" {
		user = b.cfg.User
	}
	port := node.SSHPort
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(node.Address, fmt.Sprintf("%d", port))

	clientCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         b.cfg.DialTimeout,
	}

	dialer := net.Dialer{Timeout: b.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", classifyDialError(node.Hostname, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return "", classifyDialError(node.Hostname, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", &ConnError{Kind: KindUnknown, Host: node.Hostname, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		return "", &ConnError{Kind: KindTimeout, Host: node.Hostname, Err: ctx.Err()}
	}

	output := stdout.String()
	if err != nil {
		// Non-zero exit still carries an envelope on stdout; let the
		// caller parse it. Anything else is a session failure.
		if _, ok := err.(*ssh.ExitError); ok {
			return output, nil
		}
		return "", &ConnError{Kind: KindUnknown, Host: node.Hostname, Err: fmt.Errorf("%w: %s", err, stderr.String())}
	}
	return output, nil
}
