package probe

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestStatusUpdateThreshold(t *testing.T) {
	cfg := Config{Retries: 3}
	s := NewStatus()

	fail := Result{Healthy: false, CheckedAt: time.Now()}
	ok := Result{Healthy: true, CheckedAt: time.Now()}

	s.Update(fail, cfg)
	s.Update(fail, cfg)
	if !s.Healthy {
		t.Fatal("should stay healthy below the retry threshold")
	}

	s.Update(fail, cfg)
	if s.Healthy {
		t.Fatal("should be unhealthy after 3 consecutive failures")
	}
	if s.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", s.ConsecutiveFailures)
	}

	s.Update(ok, cfg)
	if !s.Healthy {
		t.Fatal("one success should restore health")
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("failures not reset: %d", s.ConsecutiveFailures)
	}
}

func TestTCPCheckerSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	checker := NewTCPChecker(ln.Addr().String())
	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy, got: %s", result.Message)
	}
}

func TestTCPCheckerRefused(t *testing.T) {
	// Grab a port and close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	checker := NewTCPChecker(addr).WithTimeout(time.Second)
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for closed port")
	}
}
