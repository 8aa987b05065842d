// Package router implements the per-domain message forwarder: it accepts
// REGISTER/UNREGISTER control commands from worker controllers, accepts
// REQUEST envelopes addressed to a service, and forwards each to a domain
// that hosts it — its own primary domain first, then any known remote
// domain, failing over to a synthesized ServiceNotFound status when no
// domain can serve the request.
package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opensrf-go/opensrf/addr"
	"github.com/opensrf-go/opensrf/bus"
	"github.com/opensrf-go/opensrf/config"
	"github.com/opensrf-go/opensrf/loadbalance"
	"github.com/opensrf-go/opensrf/message"
	"github.com/opensrf-go/opensrf/obslog"
	"github.com/opensrf-go/opensrf/topology"
)

// ServiceInstance is one worker controller registered for a service.
type ServiceInstance struct {
	Address      addr.Address
	RegisteredAt time.Time
}

// ServiceEntry groups the controllers registered for one service name.
type ServiceEntry struct {
	Name        string
	Controllers []ServiceInstance
}

func (e *ServiceEntry) removeController(address string) {
	for i, c := range e.Controllers {
		if c.Address.Full() == address {
			e.Controllers = append(e.Controllers[:i:i], e.Controllers[i+1:]...)
			return
		}
	}
}

func (e *ServiceEntry) hasController(address string) bool {
	for _, c := range e.Controllers {
		if c.Address.Full() == address {
			return true
		}
	}
	return false
}

// domainState is the router's view of one domain: its bus connection (if
// opened) and which services it currently hosts.
type domainState struct {
	name     string
	busConn  bus.Bus
	routeCnt int64
	services []*ServiceEntry
}

func (d *domainState) entry(service string) *ServiceEntry {
	for _, e := range d.services {
		if e.Name == service {
			return e
		}
	}
	return nil
}

func (d *domainState) removeService(service string) {
	for i, e := range d.services {
		if e.Name == service {
			d.services = append(d.services[:i:i], d.services[i+1:]...)
			return
		}
	}
}

// Router forwards REQUEST envelopes between the domains it knows about.
type Router struct {
	cfg        *config.Config
	listenAddr addr.Address
	bal        loadbalance.Balancer
	log        *obslog.Logger
	topo       *topology.DomainRegistry

	mu      sync.Mutex
	primary *domainState
	remotes []*domainState
}

// New constructs a router for the given primary domain, using primaryBus as
// its own connection for both listening and forwarding within that domain.
func New(cfg *config.Config, primaryDomain string, primaryBus bus.Bus, bal loadbalance.Balancer, log *obslog.Logger, topo *topology.DomainRegistry) *Router {
	return &Router{
		cfg:        cfg,
		listenAddr: addr.NewForRouter(primaryDomain),
		bal:        bal,
		log:        log,
		topo:       topo,
		primary:    &domainState{name: primaryDomain, busConn: primaryBus},
	}
}

// ListenAddress returns this router's well-known inbox address.
func (r *Router) ListenAddress() addr.Address { return r.listenAddr }

// Run sets up the router's own inbox, keeping any messages already queued
// there, and then processes envelopes until ctx is cancelled or a fatal bus
// error occurs.
func (r *Router) Run(ctx context.Context) error {
	if err := r.primary.busConn.SetupStream(ctx, r.listenAddr.Full()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		env, err := r.primary.busConn.Recv(ctx, r.listenAddr.Full(), -1)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error("router recv failed, terminating", obslog.Err(err))
			return err
		}
		if env == nil {
			continue
		}
		r.route(ctx, *env)
	}
}

func (r *Router) route(ctx context.Context, env message.TransportMessage) {
	to, err := addr.Parse(env.To)
	if err != nil {
		r.log.Warn("dropping envelope with unparseable recipient", obslog.Err(err))
		return
	}

	switch to.Kind() {
	case addr.Service:
		r.routeAPIRequest(ctx, to.Service(), env)
	case addr.Router:
		r.handleRouterCommand(ctx, env)
	default:
		r.log.Warn("dropping envelope addressed to non-routable kind", obslog.Addr("to", env.To))
	}
}

// routeAPIRequest forwards env to a domain hosting service: the primary
// domain first, then the first matching remote domain, then (when a
// topology store is configured) once more after a topology lookup, else a
// synthesized ServiceNotFound status bounced back to the caller.
func (r *Router) routeAPIRequest(ctx context.Context, service string, env message.TransportMessage) {
	if r.forwardToHost(ctx, service, env) {
		return
	}
	if r.topo != nil && r.discoverRemote(ctx, service) && r.forwardToHost(ctx, service, env) {
		return
	}
	r.bounceServiceNotFound(ctx, service, env)
}

// forwardToHost forwards env to the primary domain or the first remote
// domain with a controller for service, reporting whether one was found.
func (r *Router) forwardToHost(ctx context.Context, service string, env message.TransportMessage) bool {
	r.mu.Lock()
	if e := r.primary.entry(service); e != nil && len(e.Controllers) > 0 {
		r.primary.routeCnt++
		conn := r.primary.busConn
		r.mu.Unlock()
		r.forward(ctx, conn, service, env)
		return true
	}

	for _, d := range r.remotes {
		if e := d.entry(service); e != nil && len(e.Controllers) > 0 {
			d.routeCnt++
			conn := d.busConn
			r.mu.Unlock()
			r.forward(ctx, conn, service, env)
			return true
		}
	}
	r.mu.Unlock()
	return false
}

func (r *Router) forward(ctx context.Context, conn bus.Bus, service string, env message.TransportMessage) {
	dest := addr.NewForService(service).Full()
	if err := conn.Send(ctx, dest, env); err != nil {
		r.log.Error("forwarding request failed", obslog.Err(err))
	}
}

func (r *Router) bounceServiceNotFound(ctx context.Context, service string, env message.TransportMessage) {
	threadTrace := 0
	if len(env.Body) > 0 {
		threadTrace = env.Body[0].ThreadTrace
	}

	reply := message.TransportMessage{
		From:   r.listenAddr.Full(),
		To:     env.From,
		Thread: env.Thread,
		Body:   []message.Message{message.NewStatus(threadTrace, message.CodeServiceNotFound, "Service Not Found: "+service)},
	}

	if err := r.primary.busConn.Send(ctx, env.From, reply); err != nil {
		r.log.Error("bouncing ServiceNotFound failed", obslog.Err(err))
	}
}

// discoverRemote consults the optional topology store for a domain hosting
// service that the router doesn't yet know about, adding it on success.
func (r *Router) discoverRemote(ctx context.Context, service string) bool {
	rec, ok, err := r.topo.Lookup(ctx, service)
	if err != nil || !ok {
		return false
	}
	_, added := r.findOrCreateDomain(ctx, rec.Name)
	return added
}

// findOrCreateDomain returns the domainState for name, creating and
// connecting it if name is a recognized domain in configuration (or known
// to the topology store) and not already tracked.
func (r *Router) findOrCreateDomain(ctx context.Context, name string) (*domainState, bool) {
	r.mu.Lock()
	if r.primary.name == name {
		d := r.primary
		r.mu.Unlock()
		return d, true
	}
	for _, d := range r.remotes {
		if d.name == name {
			r.mu.Unlock()
			return d, true
		}
	}
	r.mu.Unlock()

	busConn, ok := r.resolveDomainBus(ctx, name)
	if !ok {
		return nil, false
	}

	conn, err := bus.Dial(ctx, name, busConn, r.bal)
	if err != nil {
		r.log.Error("cannot connect to remote domain", obslog.Domain(name), obslog.Err(err))
		return nil, false
	}

	d := &domainState{name: name, busConn: conn}
	r.mu.Lock()
	r.remotes = append(r.remotes, d)
	r.mu.Unlock()
	return d, true
}

// resolveDomainBus finds how to reach domain name: statically configured
// domains win, falling back to the optional topology store so a fleet of
// routers can pick up newly provisioned domains without a config push.
func (r *Router) resolveDomainBus(ctx context.Context, name string) (config.BusConnection, bool) {
	if dom, ok := r.cfg.Domain(name); ok {
		return dom.Bus, true
	}

	if r.topo == nil {
		return config.BusConnection{}, false
	}
	rec, ok, err := r.topo.Lookup(ctx, name)
	if err != nil || !ok {
		return config.BusConnection{}, false
	}
	return config.BusConnection{Endpoints: []config.Endpoint{{Host: rec.Host, Port: rec.Port}}}, true
}

// handleRouterCommand dispatches a register/unregister/info command. The
// sender must be a client-kind address (a worker controller).
func (r *Router) handleRouterCommand(ctx context.Context, env message.TransportMessage) {
	from, err := addr.Parse(env.From)
	if err != nil || from.Kind() != addr.Client {
		r.log.Warn("router command from non-client address, dropping", obslog.Addr("from", env.From))
		return
	}

	switch env.RouterCommand {
	case "register":
		r.handleRegister(ctx, from, env.RouterClass)
	case "unregister":
		r.handleUnregister(ctx, from, env.RouterClass)
	default:
		r.deliverInformation(ctx, from, env)
	}
}

func (r *Router) handleRegister(ctx context.Context, from addr.Address, service string) {
	d, ok := r.findOrCreateDomain(ctx, from.Domain())
	if !ok {
		r.log.Warn("cannot register controller for unknown domain", obslog.Domain(from.Domain()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := d.entry(service)
	if e == nil {
		e = &ServiceEntry{Name: service}
		d.services = append(d.services, e)
	}
	if !e.hasController(from.Full()) {
		e.Controllers = append(e.Controllers, ServiceInstance{Address: from, RegisteredAt: time.Now()})
	}
}

func (r *Router) handleUnregister(ctx context.Context, from addr.Address, service string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var d *domainState
	if r.primary.name == from.Domain() {
		d = r.primary
	} else {
		for _, rd := range r.remotes {
			if rd.name == from.Domain() {
				d = rd
				break
			}
		}
	}
	if d == nil {
		return
	}

	if e := d.entry(service); e != nil {
		e.removeController(from.Full())
		if len(e.Controllers) == 0 {
			d.removeService(service)
		}
	}

	// A remote domain that no longer hosts anything is dropped entirely;
	// the primary domain entry is always retained.
	if d != r.primary && len(d.services) == 0 {
		for i, rd := range r.remotes {
			if rd == d {
				r.remotes = append(r.remotes[:i:i], r.remotes[i+1:]...)
				break
			}
		}
	}
}

// summary is the JSON shape returned by the "summarize" info command.
type summary struct {
	Domain   string           `json:"domain"`
	Routes   int64            `json:"route_count"`
	Services []serviceSummary `json:"services"`
}

type serviceSummary struct {
	Name        string   `json:"name"`
	Controllers []string `json:"controllers"`
}

func (r *Router) snapshot() []summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	domains := append([]*domainState{r.primary}, r.remotes...)
	out := make([]summary, 0, len(domains))
	for _, d := range domains {
		s := summary{Domain: d.name, Routes: d.routeCnt}
		for _, e := range d.services {
			ss := serviceSummary{Name: e.Name}
			for _, c := range e.Controllers {
				ss.Controllers = append(ss.Controllers, c.Address.Full())
			}
			s.Services = append(s.Services, ss)
		}
		out = append(out, s)
	}
	return out
}

// deliverInformation answers an info command (currently just "summarize")
// by stuffing the router's state into router_reply and bouncing it back to
// the caller over the domain connection that reaches them.
func (r *Router) deliverInformation(ctx context.Context, from addr.Address, env message.TransportMessage) {
	if env.RouterCommand != "summarize" {
		r.log.Warn("unknown router command", obslog.Addr("command", env.RouterCommand))
		return
	}

	data, err := json.Marshal(r.snapshot())
	if err != nil {
		r.log.Error("marshaling router summary failed", obslog.Err(err))
		return
	}

	threadTrace := 0
	if len(env.Body) > 0 {
		threadTrace = env.Body[0].ThreadTrace
	}

	reply := message.TransportMessage{
		From:        r.listenAddr.Full(),
		To:          from.Full(),
		Thread:      env.Thread,
		RouterReply: string(data),
		Body:        []message.Message{message.NewStatus(threadTrace, message.CodeComplete, "Request Complete")},
	}

	d, ok := r.findOrCreateDomain(ctx, from.Domain())
	conn := r.primary.busConn
	if ok {
		conn = d.busConn
	}
	if err := conn.Send(ctx, from.Full(), reply); err != nil {
		r.log.Error("delivering router information failed", obslog.Err(err))
	}
}
