package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStatusThreshold(t *testing.T) {
	cfg := Config{Threshold: 3}
	s := NewStatus()

	fail := Result{Healthy: false, CheckedAt: time.Now()}
	ok := Result{Healthy: true, CheckedAt: time.Now()}

	s.Update(fail, cfg)
	if !s.Healthy {
		t.Error("one failure should not mark unhealthy")
	}
	s.Update(fail, cfg)
	if !s.Healthy {
		t.Error("two failures should not mark unhealthy")
	}
	s.Update(fail, cfg)
	if s.Healthy {
		t.Error("three consecutive failures should mark unhealthy")
	}
	if s.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", s.ConsecutiveFailures)
	}

	s.Update(ok, cfg)
	if !s.Healthy {
		t.Error("a success should restore health")
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("success should reset failure count, got %d", s.ConsecutiveFailures)
	}
}

func TestStatusRecoveryBelowThreshold(t *testing.T) {
	cfg := Config{Threshold: 3}
	s := NewStatus()

	s.Update(Result{Healthy: false}, cfg)
	s.Update(Result{Healthy: true}, cfg)
	s.Update(Result{Healthy: false}, cfg)
	s.Update(Result{Healthy: false}, cfg)

	if !s.Healthy {
		t.Error("interleaved successes should keep the component healthy")
	}
}

func TestTCPChecker(t *testing.T) {
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

	res := NewTCPChecker(ln.Addr().String()).Check(context.Background())
	if !res.Healthy {
		t.Errorf("expected healthy, got: %s", res.Message)
	}
}

func TestTCPCheckerRefused(t *testing.T) {
	// Grab a free port, then close it so nothing listens.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	res := NewTCPChecker(addr).Check(context.Background())
	if res.Healthy {
		t.Error("expected unhealthy for refused connection")
	}
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := NewHTTPChecker(srv.URL + "/healthz").Check(context.Background())
	if !res.Healthy {
		t.Errorf("expected healthy, got: %s", res.Message)
	}

	res = NewHTTPChecker(srv.URL + "/broken").Check(context.Background())
	if res.Healthy {
		t.Error("expected unhealthy for 500 response")
	}
}

func TestHTTPSCheckerSkipsVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := NewHTTPSChecker(srv.URL+"/healthz", nil).Check(context.Background())
	if !res.Healthy {
		t.Errorf("expected healthy against self-signed server, got: %s", res.Message)
	}
}

func TestSocketChecker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")
	ln, err := net.Listen("unix", path)
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

	res := NewSocketChecker(path).Check(context.Background())
	if !res.Healthy {
		t.Errorf("expected healthy, got: %s", res.Message)
	}

	res = NewSocketChecker(filepath.Join(t.TempDir(), "missing.sock")).Check(context.Background())
	if res.Healthy {
		t.Error("expected unhealthy for missing socket")
	}
}

func TestLogPatternChecker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "component.log")
	if err := os.WriteFile(path, []byte("starting up\nready to serve client requests\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := NewLogPatternChecker(path, "ready to serve client requests").Check(context.Background())
	if !res.Healthy {
		t.Errorf("expected healthy, got: %s", res.Message)
	}

	res = NewLogPatternChecker(path, "never logged").Check(context.Background())
	if res.Healthy {
		t.Error("expected unhealthy when pattern absent")
	}
}

func TestGRPCCheckerUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res := NewGRPCChecker("127.0.0.1:1", nil).Check(ctx)
	if res.Healthy {
		t.Error("expected unhealthy for unreachable target")
	}
}
