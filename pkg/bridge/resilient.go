package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chomhq/chom/pkg/degrade"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/retry"
	"github.com/chomhq/chom/pkg/types"
)

// Caller is the agent call surface. Bridge is the transport
// implementation; ResilientCaller layers policy on top of any Caller.
type Caller interface {
	Run(ctx context.Context, node *types.Node, verb, domain string, args []Arg) (*Envelope, error)
	Ping(ctx context.Context, node *types.Node) error
}

// ErrDegraded is returned when a call is skipped because its node is
// inside a degradation window.
var ErrDegraded = errors.New("node degraded, call skipped")

// ResilientCaller wraps a Caller with per-call retry and per-node
// degradation. Recoverable connection failures are retried under the
// configured policy; once a node exhausts its retries it is flagged
// unhealthy for the TTL and further calls short-circuit until the flag
// expires or a successful call clears it.
type ResilientCaller struct {
	inner  Caller
	policy retry.Policy
	reg    *degrade.Registry
	ttl    time.Duration
}

// NewResilientCaller builds the policy layer. A nil registry disables
// degradation tracking.
func NewResilientCaller(inner Caller, policy retry.Policy, reg *degrade.Registry, ttl time.Duration) *ResilientCaller {
	return &ResilientCaller{inner: inner, policy: policy, reg: reg, ttl: ttl}
}

func (c *ResilientCaller) Run(ctx context.Context, node *types.Node, verb, domain string, args []Arg) (*Envelope, error) {
	if c.skip(node) {
		return nil, fmt.Errorf("node %s: %w", node.ID, ErrDegraded)
	}

	var env *Envelope
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		env, callErr = c.inner.Run(ctx, node, verb, domain, args)
		return callErr
	})
	c.observe(node, err)
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (c *ResilientCaller) Ping(ctx context.Context, node *types.Node) error {
	if c.skip(node) {
		return fmt.Errorf("node %s: %w", node.ID, ErrDegraded)
	}
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.inner.Ping(ctx, node)
	})
	c.observe(node, err)
	return err
}

func (c *ResilientCaller) skip(node *types.Node) bool {
	return c.reg != nil && !c.reg.Healthy(nodeDep(node))
}

// observe updates the degradation registry from a call outcome. Only
// recoverable connection failures flag the node; command failures mean
// the transport is fine.
func (c *ResilientCaller) observe(node *types.Node, err error) {
	if c.reg == nil {
		return
	}
	if err == nil {
		c.reg.MarkHealthy(nodeDep(node))
		return
	}

	var connErr *ConnError
	if errors.As(err, &connErr) && connErr.Recoverable() {
		c.reg.MarkUnhealthy(nodeDep(node), c.ttl)
		logger := log.WithNode(node.ID)
		logger.Warn().
			Str("kind", string(connErr.Kind)).
			Dur("ttl", c.ttl).
			Msg("node flagged degraded")
	}
}

func nodeDep(node *types.Node) string {
	return "node/" + node.ID
}
