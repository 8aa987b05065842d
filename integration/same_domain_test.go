// Package integration wires the real router, worker, and session types
// together over a shared in-memory bus, exercising the same top-level entry
// points (Router.Run, Server.Run, Client/Session) a deployed process would
// use, rather than the package-internal seams each package's own tests
// drive directly.
package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensrf-go/opensrf/addr"
	"github.com/opensrf-go/opensrf/bus"
	"github.com/opensrf-go/opensrf/config"
	"github.com/opensrf-go/opensrf/errs"
	"github.com/opensrf-go/opensrf/method"
	"github.com/opensrf-go/opensrf/middleware"
	"github.com/opensrf-go/opensrf/obslog"
	"github.com/opensrf-go/opensrf/session"
	"github.com/opensrf-go/opensrf/worker"
)

const testDomain = "private.localhost"
const testService = "opensrf.rspublic"

func echoMethods(t *testing.T) *method.Registry {
	t.Helper()
	reg, err := method.NewRegistry([]*method.Method{{
		APISpec:    "^opensrf\\.rspublic\\.echo$",
		ParamCount: method.ParamCount{Kind: method.AtLeast, N: 1},
		Handler: func(ctx context.Context, d *middleware.Dispatch) *middleware.Dispatch {
			return &middleware.Dispatch{Content: d.Params[0]}
		},
	}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func startWorkerServer(ctx context.Context, t *testing.T, b *fakeBus, svcConf config.Service) {
	t.Helper()
	cfg := &config.Config{
		Domains:  []config.Domain{{Name: testDomain}},
		Services: []config.Service{svcConf},
	}
	dial := func(ctx context.Context, domain string, conn config.BusConnection) (bus.Bus, error) {
		return b, nil
	}
	srv := worker.NewServer(cfg, testService, svcConf, echoMethods(t), obslog.NewNop(), dial, nil)
	go srv.Run(ctx, testDomain)
}

func testSessionClient(b *fakeBus) *session.Client {
	cfg := &config.Config{Domains: []config.Domain{{Name: testDomain}}}
	return session.NewClientWithBus(cfg, testDomain, b, addr.NewForClient(testDomain))
}

func TestEndToEndEchoOneShot(t *testing.T) {
	b := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorkerServer(ctx, t, b, config.Service{Name: testService, MinWorkers: 1, MaxWorkers: 2, Keepalive: 5})

	c := testSessionClient(b)
	defer c.Close()
	s := c.NewSession(testService)

	h, err := s.Request(ctx, "opensrf.rspublic.echo", []json.RawMessage{json.RawMessage(`"hello"`)})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	resp, err := h.Recv(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a result before the request completed")
	}
	if string(resp.Content) != `"hello"` {
		t.Fatalf("unexpected echoed content: %s", resp.Content)
	}
	if resp.Complete {
		t.Fatal("Result reply should not itself signal completion")
	}

	resp, err = h.Recv(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if resp == nil || !resp.Complete {
		t.Fatalf("expected the trailing Status(Complete), got %+v", resp)
	}
}

func TestEndToEndConnectedSessionLifecycle(t *testing.T) {
	b := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorkerServer(ctx, t, b, config.Service{Name: testService, MinWorkers: 1, MaxWorkers: 2, Keepalive: 5})

	c := testSessionClient(b)
	defer c.Close()
	s := c.NewSession(testService)

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !s.Connected() {
		t.Fatal("expected session to report connected")
	}

	h, err := s.Request(ctx, "opensrf.rspublic.echo", []json.RawMessage{json.RawMessage(`42`)})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	resp, err := h.Recv(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if resp == nil || string(resp.Content) != "42" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	resp, err = h.Recv(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if resp == nil || !resp.Complete {
		t.Fatalf("expected trailing completion, got %+v", resp)
	}

	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if s.Connected() {
		t.Fatal("expected session to report disconnected")
	}
}

func TestEndToEndUnknownMethodBouncesNotFound(t *testing.T) {
	b := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorkerServer(ctx, t, b, config.Service{Name: testService, MinWorkers: 1, MaxWorkers: 1, Keepalive: 5})

	c := testSessionClient(b)
	defer c.Close()
	s := c.NewSession(testService)

	h, err := s.Request(ctx, "opensrf.rspublic.no_such_method", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := h.Recv(ctx, 2*time.Second); !errs.Is(err, errs.ErrMethodNotFound) {
		t.Fatalf("expected a MethodNotFound error, got %v", err)
	}
}
