package bridge

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/types"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
}

func writeKey(t *testing.T, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, []byte("not a real key"), mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSignerRejectsLoosePermissions(t *testing.T) {
	for _, mode := range []os.FileMode{0o644, 0o640, 0o660, 0o604, 0o777} {
		path := writeKey(t, mode)
		_, err := loadSigner(path)

		var connErr *ConnError
		if !errors.As(err, &connErr) {
			t.Fatalf("mode %04o: expected ConnError, got %v", mode, err)
		}
		assert.Equal(t, KindInsecureKey, connErr.Kind, "mode %04o", mode)
	}
}

func TestLoadSignerAcceptsOwnerOnlyPermissions(t *testing.T) {
	for _, mode := range []os.FileMode{0o600, 0o400} {
		path := writeKey(t, mode)
		_, err := loadSigner(path)

		// The fixture is not a parseable key, but it must get past
		// the permission gate.
		var connErr *ConnError
		if errors.As(err, &connErr) && connErr.Kind == KindInsecureKey {
			t.Errorf("mode %04o wrongly rejected as insecure", mode)
		}
	}
}

func TestLoadSignerMissingKey(t *testing.T) {
	_, err := loadSigner(filepath.Join(t.TempDir(), "nope"))
	var connErr *ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnError, got %v", err)
	}
	assert.Equal(t, KindKeyMissing, connErr.Kind)
}

func TestNewBridgeValidatesKeyUpfront(t *testing.T) {
	_, err := NewBridge(Config{IdentityFile: writeKey(t, 0o644)})
	var connErr *ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnError, got %v", err)
	}
	assert.Equal(t, KindInsecureKey, connErr.Kind)
}

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"refused", errors.New("dial tcp 10.0.0.5:22: connect: connection refused"), KindRefused},
		{"auth", errors.New("ssh: handshake failed: ssh: unable to authenticate"), KindAuthFailed},
		{"io timeout", errors.New("dial tcp 10.0.0.5:22: i/o timeout"), KindTimeout},
		{"other", errors.New("no route to host"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyDialError("web01", tt.err)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestConnErrorRecoverable(t *testing.T) {
	recoverable := []Kind{KindTimeout, KindRefused, KindUnknown}
	for _, k := range recoverable {
		e := &ConnError{Kind: k, Err: errors.New("x")}
		assert.True(t, e.Recoverable(), string(k))
	}
	fatal := []Kind{KindKeyMissing, KindInsecureKey, KindAuthFailed}
	for _, k := range fatal {
		e := &ConnError{Kind: k, Err: errors.New("x")}
		assert.False(t, e.Recoverable(), string(k))
	}
}

func TestRunRawRejectsBeforeDialing(t *testing.T) {
	// An invalid identity file never matters: the whitelist check runs
	// first and must reject without touching the network.
	b := &Bridge{cfg: Config{IdentityFile: "/nonexistent"}}
	node := &types.Node{Hostname: "web01", Address: "203.0.113.1"}

	_, err := b.RunRaw(context.Background(), node, "rm -rf /")
	var notAllowed *ErrCommandNotAllowed
	if !errors.As(err, &notAllowed) {
		t.Fatalf("expected ErrCommandNotAllowed, got %v", err)
	}
}
