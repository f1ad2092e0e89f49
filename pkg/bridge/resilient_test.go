package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chomhq/chom/pkg/degrade"
	"github.com/chomhq/chom/pkg/retry"
	"github.com/chomhq/chom/pkg/types"
)

type scriptedCaller struct {
	errs  []error // One per call; nil means success
	calls int
}

func (s *scriptedCaller) Run(ctx context.Context, node *types.Node, verb, domain string, args []Arg) (*Envelope, error) {
	err := s.next()
	if err != nil {
		return nil, err
	}
	return &Envelope{Success: true}, nil
}

func (s *scriptedCaller) Ping(ctx context.Context, node *types.Node) error {
	return s.next()
}

func (s *scriptedCaller) next() error {
	var err error
	if s.calls < len(s.errs) {
		err = s.errs[s.calls]
	}
	s.calls++
	return err
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		Name:           "bridge",
		MaxAttempts:    3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       time.Millisecond,
		RetryableKinds: []string{"timeout", "refused", "unknown"},
	}
}

func testNode() *types.Node {
	return &types.Node{ID: "node-1", Address: "10.0.0.1"}
}

func TestResilientRetriesRecoverableFailures(t *testing.T) {
	inner := &scriptedCaller{errs: []error{
		&ConnError{Kind: KindTimeout, Host: "10.0.0.1", Err: errors.New("dial timeout")},
		&ConnError{Kind: KindRefused, Host: "10.0.0.1", Err: errors.New("refused")},
		nil,
	}}
	caller := NewResilientCaller(inner, fastPolicy(), degrade.NewRegistry(), time.Minute)

	env, err := caller.Run(context.Background(), testNode(), "site:list", "", nil)
	assert.NoError(t, err)
	assert.True(t, env.Success)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientDoesNotRetryCommandFailures(t *testing.T) {
	inner := &scriptedCaller{errs: []error{
		&CommandError{Verb: "site:create", ExitCode: 1, Output: "useradd failed"},
	}}
	caller := NewResilientCaller(inner, fastPolicy(), degrade.NewRegistry(), time.Minute)

	_, err := caller.Run(context.Background(), testNode(), "site:create", "example.com", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestResilientDegradesNodeAfterExhaustion(t *testing.T) {
	timeout := &ConnError{Kind: KindTimeout, Host: "10.0.0.1", Err: errors.New("dial timeout")}
	inner := &scriptedCaller{errs: []error{timeout, timeout, timeout}}
	reg := degrade.NewRegistry()
	caller := NewResilientCaller(inner, fastPolicy(), reg, time.Minute)
	node := testNode()

	_, err := caller.Run(context.Background(), node, "site:list", "", nil)
	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	assert.False(t, reg.Healthy("node/node-1"))

	// The next call short-circuits without touching the transport.
	_, err = caller.Run(context.Background(), node, "site:list", "", nil)
	assert.ErrorIs(t, err, ErrDegraded)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientSuccessClearsDegradation(t *testing.T) {
	reg := degrade.NewRegistry()
	reg.MarkUnhealthy("node/node-1", time.Minute)
	inner := &scriptedCaller{}
	caller := NewResilientCaller(inner, fastPolicy(), reg, time.Minute)
	node := testNode()

	// Degraded nodes are skipped until the flag expires, so clear it the
	// way the health sweep would: a successful ping on another path.
	reg.MarkHealthy("node/node-1")
	err := caller.Ping(context.Background(), node)
	assert.NoError(t, err)
	assert.True(t, reg.Healthy("node/node-1"))
}

func TestResilientAuthFailureNotDegraded(t *testing.T) {
	inner := &scriptedCaller{errs: []error{
		&ConnError{Kind: KindAuthFailed, Host: "10.0.0.1", Err: errors.New("bad key")},
	}}
	reg := degrade.NewRegistry()
	caller := NewResilientCaller(inner, fastPolicy(), reg, time.Minute)

	err := caller.Ping(context.Background(), testNode())
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls, "auth failures are not retryable")
	assert.True(t, reg.Healthy("node/node-1"), "auth failures are an operator problem, not a node outage")
}
