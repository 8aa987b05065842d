package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opensrf-go/opensrf/addr"
	"github.com/opensrf-go/opensrf/errs"
	"github.com/opensrf-go/opensrf/message"
)

// Session represents one conversation with a service, identified by a
// random thread that stays fixed for its lifetime.
type Session struct {
	client      *Client
	thread      string
	service     string
	serviceAddr addr.Address
	remoteAddr  *addr.Address
	connected   bool

	mu              sync.Mutex
	lastThreadTrace int
	backlog         []message.Message
}

// Thread returns this session's conversation identifier.
func (s *Session) Thread() string { return s.thread }

// Connected reports whether a stateful conversation is in progress.
func (s *Session) Connected() bool { return s.connected }

// destAddr is where outbound traffic goes: the pinned worker once one has
// replied, else the service's shared queue.
func (s *Session) destAddr() addr.Address {
	if s.remoteAddr != nil {
		return *s.remoteAddr
	}
	return s.serviceAddr
}

func (s *Session) nextTrace() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastThreadTrace++
	return s.lastThreadTrace
}

func (s *Session) send(ctx context.Context, msg message.Message) error {
	dest := s.destAddr()
	conn, err := s.client.connectionFor(ctx, dest.Domain())
	if err != nil {
		return err
	}
	env := message.TransportMessage{
		To:     dest.Full(),
		From:   s.client.Address().Full(),
		Thread: s.thread,
		Body:   []message.Message{msg},
	}
	return conn.Send(ctx, dest.Full(), env)
}

func (s *Session) popBacklog(threadTrace int) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.backlog {
		if m.ThreadTrace == threadTrace {
			s.backlog = append(s.backlog[:i:i], s.backlog[i+1:]...)
			return m, true
		}
	}
	return message.Message{}, false
}

func (s *Session) appendBacklog(msgs ...message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlog = append(s.backlog, msgs...)
}

func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.remoteAddr = nil
	s.backlog = nil
}

// pinRemote records the address that answered, so subsequent traffic on a
// connected session goes straight to that worker rather than the shared
// service queue.
func (s *Session) pinRemote(full string) error {
	from, err := addr.Parse(full)
	if err != nil {
		return err
	}
	s.remoteAddr = &from
	return nil
}

// Response is one unpacked reply to a request.
type Response struct {
	Content  json.RawMessage
	Complete bool
}

// RequestHandle multiplexes the replies belonging to one REQUEST.
type RequestHandle struct {
	session     *Session
	threadTrace int
	complete    bool
}

// Complete reports whether the server has signalled no further replies.
func (h *RequestHandle) Complete() bool { return h.complete }

// Request sends a REQUEST message and returns a handle for pulling replies.
func (s *Session) Request(ctx context.Context, method string, params []json.RawMessage) (*RequestHandle, error) {
	tt := s.nextTrace()
	if err := s.send(ctx, message.NewRequest(tt, method, params)); err != nil {
		return nil, err
	}
	return &RequestHandle{session: s, threadTrace: tt}, nil
}

// Recv returns the next reply for this request, waiting up to timeout.
// A nil Response with a nil error means the timeout elapsed with nothing to
// report — distinct from ErrRequestTimeout, which the peer sends explicitly.
func (h *RequestHandle) Recv(ctx context.Context, timeout time.Duration) (*Response, error) {
	if h.complete {
		return &Response{Complete: true}, nil
	}

	timer := NewTimer(timeout)
	polled := false
	for {
		if msg, ok := h.session.popBacklog(h.threadTrace); ok {
			resp, done, err := h.session.unpack(msg, timer)
			if err != nil {
				h.complete = true
				return nil, err
			}
			if done {
				h.complete = true
			}
			if resp != nil {
				return resp, nil
			}
			continue
		}

		// The bus is polled at least once, so a zero timeout still picks up
		// a reply that is already queued.
		if timer.Done() && polled {
			return nil, nil
		}
		polled = true

		env, err := h.session.client.recvSession(ctx, h.session.thread, timer.Remaining())
		if err != nil {
			return nil, err
		}
		if env == nil {
			continue
		}
		if err := h.session.pinRemote(env.From); err != nil {
			return nil, err
		}
		h.session.appendBacklog(env.Body...)
	}
}

// unpack interprets one reply message. A Result returns its Response with
// done=false, since more replies may follow; Status(Complete) and the error
// statuses return done=true; Ok/Continue return (nil, false, nil) so the
// caller's loop keeps waiting. Recv marks the request complete on any error.
func (s *Session) unpack(msg message.Message, timer *Timer) (resp *Response, done bool, err error) {
	switch msg.MType {
	case message.Result:
		if msg.Result == nil {
			return nil, false, errs.Wrapf(errs.ErrBadResponse, "RESULT message missing payload")
		}
		return &Response{Content: msg.Result.Content}, false, nil

	case message.Status:
		if msg.Stat == nil {
			return nil, false, errs.Wrapf(errs.ErrBadResponse, "STATUS message missing payload")
		}
		switch msg.Stat.StatusCode {
		case message.CodeOk:
			s.connected = true
			return nil, false, nil
		case message.CodeContinue:
			timer.Reset()
			return nil, false, nil
		case message.CodeComplete:
			return &Response{Complete: true}, true, nil
		case message.CodeTimeout:
			s.reset()
			return nil, true, errs.Wrapf(errs.ErrRequestTimeout, "%s", msg.Stat.Status)
		case message.CodeNotFound:
			s.reset()
			return nil, true, errs.Wrapf(errs.ErrMethodNotFound, "%s", msg.Stat.Status)
		case message.CodeServiceNotFound:
			s.reset()
			return nil, true, errs.Wrapf(errs.ErrServiceNotFound, "%s", msg.Stat.Status)
		default:
			s.reset()
			return nil, true, errs.Wrapf(errs.ErrBadResponse, "status %d: %s", msg.Stat.StatusCode, msg.Stat.Status)
		}

	default:
		return nil, false, errs.Wrapf(errs.ErrBadResponse, "unexpected message type %s", msg.MType)
	}
}

// Connect establishes a stateful conversation. The worker that answers
// first is pinned as this session's remote address for the rest of its
// life.
func (s *Session) Connect(ctx context.Context) error {
	tt := s.nextTrace()
	if err := s.send(ctx, message.NewConnect(tt)); err != nil {
		return err
	}

	timer := NewTimer(ConnectTimeout)
	for {
		if timer.Done() {
			s.reset()
			return errs.Wrapf(errs.ErrConnectTimeout, "no response within %s", ConnectTimeout)
		}

		env, err := s.client.recvSession(ctx, s.thread, timer.Remaining())
		if err != nil {
			return err
		}
		if env == nil {
			continue
		}
		if err := s.pinRemote(env.From); err != nil {
			return err
		}
		for _, msg := range env.Body {
			if msg.ThreadTrace != tt {
				continue
			}
			if msg.MType == message.Status && msg.Stat != nil && msg.Stat.StatusCode == message.CodeOk {
				s.connected = true
				return nil
			}
		}
	}
}

// Disconnect tears down a stateful conversation. No reply is awaited.
func (s *Session) Disconnect(ctx context.Context) error {
	if !s.connected {
		return nil
	}
	tt := s.nextTrace()
	err := s.send(ctx, message.NewDisconnect(tt))
	s.reset()
	return err
}
