// Package worker hosts a service's method dispatch: a Server owns a pool of
// Workers, each running a listen loop that pulls REQUEST/CONNECT/DISCONNECT
// traffic off the bus and reports its Idle/Active/Done state back to the
// Server over a synchronous (unbuffered) channel, so the Server always knows
// the exact idle/active count and can keep the pool between min and max
// workers.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/opensrf-go/opensrf/addr"
	"github.com/opensrf-go/opensrf/bus"
	"github.com/opensrf-go/opensrf/codec"
	"github.com/opensrf-go/opensrf/config"
	"github.com/opensrf-go/opensrf/method"
	"github.com/opensrf-go/opensrf/middleware"
	"github.com/opensrf-go/opensrf/obslog"
)

// State is one worker's lifecycle position.
type State int

const (
	Idle State = iota
	Active
	Done
)

// stateEvent is what a worker reports to its parent Server.
type stateEvent struct {
	workerID uint64
	state    State
}

// IdleThreadWarnThreshold mirrors the source's warning knob: handleEvent
// logs a warning whenever the idle count drops below it, whether or not the
// pool is already at max workers.
const IdleThreadWarnThreshold = 1

// CheckCommandsInterval is how often the Server's event loop polls for dead
// workers whose goroutine exited without reporting Done, and treats them as
// Done.
const CheckCommandsInterval = time.Second

// BusDialer opens a connection for a domain; satisfied by bus.Dial, and
// overridable in tests.
type BusDialer func(ctx context.Context, domain string, conn config.BusConnection) (bus.Bus, error)

// Server owns the worker pool for one service across one or more domains.
type Server struct {
	service string
	cfg     *config.Config
	svcConf config.Service
	methods *method.Registry
	log     *obslog.Logger
	dial    BusDialer
	wrap    middleware.Middleware

	// Serializer packs/unpacks application-level REQUEST params and RESULT
	// content. Left nil, dispatch falls back to codec.PassThrough.
	Serializer codec.Serializer

	nextWorkerID uint64

	mu       sync.Mutex
	workers  map[uint64]*workerHandle
	stopping bool

	events chan stateEvent
}

type workerHandle struct {
	state State
	done  chan struct{}
}

// NewServer builds a Server for service, using svcConf for pool sizing and
// dial to open per-worker bus connections. wrap, if non-nil, wraps every
// method handler with the given middleware chain before invocation.
func NewServer(cfg *config.Config, service string, svcConf config.Service, methods *method.Registry, log *obslog.Logger, dial BusDialer, wrap middleware.Middleware) *Server {
	return &Server{
		service: service,
		cfg:     cfg,
		svcConf: svcConf,
		methods: methods,
		log:     log,
		dial:    dial,
		wrap:    wrap,
		workers: make(map[uint64]*workerHandle),
		events:  make(chan stateEvent),
	}
}

func (s *Server) nextID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWorkerID++
	return s.nextWorkerID
}

// registerRouters sends a "register" router command on every configured
// domain this service should be reachable from.
func (s *Server) registerRouters(ctx context.Context, primaryDomain string) error {
	return s.sendRouterCommand(ctx, primaryDomain, "register")
}

// unregisterRouters sends "unregister" on the same set, best-effort.
func (s *Server) unregisterRouters(ctx context.Context, primaryDomain string) {
	_ = s.sendRouterCommand(ctx, primaryDomain, "unregister")
}

func (s *Server) sendRouterCommand(ctx context.Context, primaryDomain string, command string) error {
	workerAddr := addr.NewForClient(primaryDomain)

	var first error
	for _, d := range s.cfg.Domains {
		conn, err := s.dial(ctx, d.Name, d.Bus)
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		routerAddr := addr.NewForRouter(d.Name)
		env := routerCommandEnvelope(workerAddr, routerAddr, command, s.service)
		if err := conn.Send(ctx, routerAddr.Full(), env); err != nil && first == nil {
			first = err
		}
		conn.Close()
	}
	return first
}

func mustDomainBus(cfg *config.Config, domain string) config.BusConnection {
	d, _ := cfg.Domain(domain)
	return d.Bus
}

// Run spawns min_workers workers, registers with the router(s), and runs
// the event loop until ctx is cancelled, at which point it unregisters and
// returns once every worker has exited.
func (s *Server) Run(ctx context.Context, primaryDomain string) error {
	if err := s.registerRouters(ctx, primaryDomain); err != nil {
		s.log.Error("registering with router failed", obslog.Err(err))
	}

	for i := 0; i < s.svcConf.MinWorkers; i++ {
		s.spawnOne(ctx, primaryDomain)
	}

	ticker := time.NewTicker(CheckCommandsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopping = true
			handles := make([]*workerHandle, 0, len(s.workers))
			for _, h := range s.workers {
				handles = append(handles, h)
			}
			s.mu.Unlock()

			s.unregisterRouters(context.Background(), primaryDomain)
			// Keep accepting state events so exiting workers' report()
			// calls do not block on the unbuffered channel.
			for _, h := range handles {
				for exited := false; !exited; {
					select {
					case <-h.done:
						exited = true
					case <-s.events:
					}
				}
			}
			return nil

		case ev := <-s.events:
			s.handleEvent(ctx, primaryDomain, ev)

		case <-ticker.C:
			// A tracked worker whose goroutine has exited never had its
			// Done event handled; treat it as Done now.
			s.mu.Lock()
			var dead []uint64
			for id, h := range s.workers {
				select {
				case <-h.done:
					dead = append(dead, id)
				default:
				}
			}
			s.mu.Unlock()
			for _, id := range dead {
				s.handleEvent(ctx, primaryDomain, stateEvent{workerID: id, state: Done})
			}
		}
	}
}

func (s *Server) handleEvent(ctx context.Context, primaryDomain string, ev stateEvent) {
	s.mu.Lock()
	h, ok := s.workers[ev.workerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if ev.state == Done {
		delete(s.workers, ev.workerID)
		stopping := s.stopping
		s.mu.Unlock()
		if !stopping {
			s.spawnOne(ctx, primaryDomain)
		}
		return
	}
	h.state = ev.state

	idle, active := s.countLocked()
	s.mu.Unlock()

	if idle == 0 && active < s.svcConf.MaxWorkers {
		s.spawnOne(ctx, primaryDomain)
	} else if active >= s.svcConf.MaxWorkers && idle == 0 {
		s.log.Warn("worker pool reached max workers", obslog.Service(s.service))
	}
	if idle < IdleThreadWarnThreshold {
		s.log.Warn("idle worker count below warn threshold", obslog.Service(s.service))
	}
}

func (s *Server) countLocked() (idle, active int) {
	for _, h := range s.workers {
		switch h.state {
		case Idle:
			idle++
		case Active:
			active++
		}
	}
	return idle, active
}

func (s *Server) spawnOne(ctx context.Context, primaryDomain string) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.nextWorkerID++
	id := s.nextWorkerID
	h := &workerHandle{state: Idle, done: make(chan struct{})}
	s.workers[id] = h
	s.mu.Unlock()

	go func() {
		defer close(h.done)
		w, err := newWorkerInstance(ctx, s, id, primaryDomain)
		if err != nil {
			s.log.Error("failed to start worker, retrying shortly", obslog.WorkerID(id), obslog.Err(err))
			time.Sleep(5 * time.Second)
			s.events <- stateEvent{workerID: id, state: Done}
			return
		}
		w.listen(ctx)
	}()
}
