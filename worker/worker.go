package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opensrf-go/opensrf/addr"
	"github.com/opensrf-go/opensrf/bus"
	"github.com/opensrf-go/opensrf/codec"
	"github.com/opensrf-go/opensrf/message"
	"github.com/opensrf-go/opensrf/method"
	"github.com/opensrf-go/opensrf/middleware"
	"github.com/opensrf-go/opensrf/obslog"
)

// idlePollTimeout bounds how long a worker waits on the shared service
// queue before reporting Idle again and re-checking for shutdown.
const idlePollTimeout = time.Second

// worker is one pool member: its own bus connection, its private inbox
// address (used only once it has accepted a CONNECT), and a reference back
// to the owning Server for state reporting.
type worker struct {
	id      uint64
	server  *Server
	conn    bus.Bus
	self    addr.Address
	service addr.Address
}

func newWorkerInstance(ctx context.Context, s *Server, id uint64, domain string) (*worker, error) {
	conn, err := s.dial(ctx, domain, mustDomainBus(s.cfg, domain))
	if err != nil {
		return nil, err
	}
	w := &worker{
		id:      id,
		server:  s,
		conn:    conn,
		self:    addr.NewForClient(domain),
		service: addr.NewForService(s.service),
	}
	if err := w.conn.ClearStream(ctx, w.self.Full()); err != nil {
		s.log.Warn("clearing worker inbox failed", obslog.WorkerID(id), obslog.Err(err))
	}
	if err := w.conn.SetupStream(ctx, w.self.Full()); err != nil {
		s.log.Warn("setting up worker inbox failed", obslog.WorkerID(id), obslog.Err(err))
	}
	return w, nil
}

func (w *worker) report(state State) {
	w.server.events <- stateEvent{workerID: w.id, state: state}
}

// listen runs this worker's top-level loop: wait for a top-level REQUEST or
// CONNECT on the shared service queue, handle it (switching into a
// connected serving loop for the lifetime of a CONNECT session), and report
// Idle/Active/Done transitions to the Server as it goes. The worker retires
// itself once it has handled max_requests top-level conversations, so the
// Server's replacement spawn keeps worker processes from accumulating
// unbounded lifetime state.
func (w *worker) listen(ctx context.Context) {
	defer func() {
		w.conn.Close()
		w.report(Done)
	}()

	var requests uint32
	maxRequests := w.server.svcConf.MaxRequests

	for maxRequests == 0 || requests < maxRequests {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.conn.ClearStream(ctx, w.self.Full()); err != nil {
			w.server.log.Warn("clearing worker inbox failed", obslog.WorkerID(w.id), obslog.Err(err))
		}

		w.report(Idle)

		env, err := w.conn.Recv(ctx, w.service.Full(), idlePollTimeout)
		if err != nil {
			w.server.log.Error("worker recv failed", obslog.WorkerID(w.id), obslog.Err(err))
			return
		}
		if env == nil {
			continue
		}

		w.report(Active)
		w.handleTransportMessage(ctx, *env)
		requests++
	}
}

// handleTransportMessage processes one envelope's body in order. A CONNECT
// anywhere in the body switches the rest of this call, and any subsequent
// traffic on the same thread, into a connected session served from the
// worker's own private address.
func (w *worker) handleTransportMessage(ctx context.Context, env message.TransportMessage) {
	sess := &serverSession{w: w, peer: env.From, thread: env.Thread}

	for _, msg := range env.Body {
		switch msg.MType {
		case message.Connect:
			sess.connected = true
			sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeOk, "OK"))

		case message.Request:
			w.dispatch(ctx, sess, msg)

		case message.Disconnect:
			sess.connected = false
			return

		default:
			w.server.log.Warn("dropping unexpected message type in request", obslog.WorkerID(w.id))
		}
	}

	if sess.connected {
		w.serveConnected(ctx, sess)
	}
}

// serveConnected keeps pulling messages off this worker's private inbox
// until DISCONNECT arrives or the configured keepalive elapses, at which
// point it reports Status(Timeout) and the worker returns to idle.
func (w *worker) serveConnected(ctx context.Context, sess *serverSession) {
	keepalive := time.Duration(w.server.svcConf.Keepalive) * time.Second
	if keepalive <= 0 {
		keepalive = 60 * time.Second
	}

	for sess.connected {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := w.conn.Recv(ctx, w.self.Full(), keepalive)
		if err != nil {
			w.server.log.Error("worker recv failed in connected session", obslog.WorkerID(w.id), obslog.Err(err))
			return
		}
		if env == nil {
			sess.reply(ctx, message.NewStatus(0, message.CodeTimeout, "Session Timed Out"))
			return
		}

		for _, msg := range env.Body {
			switch msg.MType {
			case message.Request:
				w.dispatch(ctx, sess, msg)
			case message.Disconnect:
				sess.connected = false
			default:
				w.server.log.Warn("dropping unexpected message type in connected session", obslog.WorkerID(w.id))
			}
			if !sess.connected {
				return
			}
		}
	}
}

// dispatch resolves msg's method against the registry and runs it through
// the middleware chain, replying with Result+Complete on success or the
// appropriate BadRequest/NotFound/InternalError status otherwise.
func (w *worker) dispatch(ctx context.Context, sess *serverSession, msg message.Message) {
	if !sess.connected {
		if err := w.conn.ClearStream(ctx, w.self.Full()); err != nil {
			w.server.log.Warn("clearing worker inbox failed", obslog.WorkerID(w.id), obslog.Err(err))
		}
	}

	if msg.Method == nil {
		sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeBadRequest, "Malformed Request"))
		sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeComplete, "Request Complete"))
		return
	}

	m, ok := w.server.methods.Lookup(msg.Method.Method)
	if !ok {
		sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeNotFound, "Method Not Found: "+msg.Method.Method))
		sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeComplete, "Request Complete"))
		return
	}

	if !m.ParamCount.Matches(len(msg.Method.Params)) {
		sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeBadRequest, "Invalid Parameter Count"))
		sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeComplete, "Request Complete"))
		return
	}

	ser := w.server.Serializer
	if ser == nil {
		ser = codec.PassThrough{}
	}

	params := make([]json.RawMessage, len(msg.Method.Params))
	for i, p := range msg.Method.Params {
		up, err := ser.Unpack(p)
		if err != nil {
			sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeBadRequest, "Malformed Parameter"))
			sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeComplete, "Request Complete"))
			return
		}
		params[i] = up
	}

	handler := m.Handler
	if w.server.wrap != nil {
		handler = w.server.wrap(handler)
	}

	result := handler(ctx, &middleware.Dispatch{Method: msg.Method.Method, Params: params})
	if result != nil && result.Err != "" {
		sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeInternalError, result.Err))
		sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeComplete, "Request Complete"))
		return
	}

	var content []byte
	if result != nil {
		content = result.Content
	}
	packed, err := ser.Pack(content)
	if err != nil {
		sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeInternalError, "failed to encode result"))
		sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeComplete, "Request Complete"))
		return
	}
	sess.reply(ctx, message.NewResult(msg.ThreadTrace, packed))
	sess.reply(ctx, message.NewStatus(msg.ThreadTrace, message.CodeComplete, "Request Complete"))
}

// serverSession tracks the addressing needed to reply to one caller: the
// envelope thread and the peer address to send replies to, which is the
// requester's own private client address in both the top-level and
// connected-session cases.
type serverSession struct {
	w         *worker
	peer      string
	thread    string
	connected bool
}

func (s *serverSession) reply(ctx context.Context, msg message.Message) {
	env := message.TransportMessage{
		From:   s.w.self.Full(),
		To:     s.peer,
		Thread: s.thread,
		Body:   []message.Message{msg},
	}
	if err := s.w.conn.Send(ctx, s.peer, env); err != nil {
		s.w.server.log.Error("worker reply failed", obslog.WorkerID(s.w.id), obslog.Err(err))
	}
}

// method aliasing so package consumers can refer to worker.Method without a
// second import of the method package.
type Method = method.Method
