package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensrf-go/opensrf/addr"
	"github.com/opensrf-go/opensrf/bus"
	"github.com/opensrf-go/opensrf/config"
	"github.com/opensrf-go/opensrf/message"
	"github.com/opensrf-go/opensrf/obslog"
	"github.com/opensrf-go/opensrf/router"
	"github.com/opensrf-go/opensrf/worker"
)

// TestEndToEndRouterForwardsToRegisteredWorker drives a real Router and a
// real worker Server against one shared bus: the worker registers itself on
// startup, and a request addressed through the router (as a router-aware
// caller would address it, rather than straight at the service queue) is
// forwarded to the worker and answered directly back to the caller.
func TestEndToEndRouterForwardsToRegisteredWorker(t *testing.T) {
	b := newFakeBus()
	cfg := &config.Config{
		Domains:  []config.Domain{{Name: testDomain}},
		Services: []config.Service{{Name: testService, MinWorkers: 1, MaxWorkers: 1, Keepalive: 5}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := router.New(cfg, testDomain, b, nil, obslog.NewNop(), nil)
	go r.Run(ctx)

	dial := func(ctx context.Context, domain string, conn config.BusConnection) (bus.Bus, error) {
		return b, nil
	}
	srv := worker.NewServer(cfg, testService, cfg.Services[0], echoMethods(t), obslog.NewNop(), dial, nil)
	go srv.Run(ctx, testDomain)

	routerAddr := addr.NewForRouter(testDomain)
	// Give the worker's startup registration a chance to reach the router
	// before the request races past it.
	if !waitForRegistration(t, b, routerAddr.Full()) {
		t.Fatal("worker registration never drained from the router's inbox")
	}

	client := addr.NewForClient(testDomain)
	req := message.TransportMessage{
		From:   client.Full(),
		To:     addr.NewForService(testService).Full(),
		Thread: "t-cross",
		Body:   []message.Message{message.NewRequest(1, "opensrf.rspublic.echo", []json.RawMessage{json.RawMessage(`"hi"`)})},
	}
	if err := b.Send(ctx, routerAddr.Full(), req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if !b.waitFor(client.Full(), 2, 2*time.Second) {
		t.Fatal("request never came back from the worker via the router")
	}

	b.mu.Lock()
	replies := append([]message.TransportMessage(nil), b.queues[client.Full()]...)
	b.mu.Unlock()

	if replies[0].Body[0].MType != message.Result {
		t.Fatalf("expected a Result reply, got %+v", replies[0].Body[0])
	}
	if string(replies[0].Body[0].Result.Content) != `"hi"` {
		t.Fatalf("unexpected echoed content: %s", replies[0].Body[0].Result.Content)
	}
	if replies[1].Body[0].MType != message.Status || replies[1].Body[0].Stat.StatusCode != message.CodeComplete {
		t.Fatalf("expected a trailing Status(Complete), got %+v", replies[1].Body[0])
	}
}

// waitForRegistration polls until the router's inbox has drained the
// worker's startup "register" command, or gives up after a generous bound.
func waitForRegistration(t *testing.T, b *fakeBus, routerStream string) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	seenNonEmpty := false
	for time.Now().Before(deadline) {
		n := b.queueLen(routerStream)
		if n > 0 {
			seenNonEmpty = true
		}
		if seenNonEmpty && n == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
