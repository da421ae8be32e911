package cluster

import (
	"context"
	"encoding/gob"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/criticalstack/partd/pkg/log"
	"github.com/criticalstack/partd/pkg/netutil"
)

// handlerTimeout bounds how long a connection waits on a subscriber's
// executor before giving up on the request.
const handlerTimeout = 30 * time.Second

// request is the wire envelope for a messenger request. Body is opaque to
// the messenger; subjects own their payload codecs.
type request struct {
	ID      string
	From    MemberID
	Subject string
	Body    []byte
}

type response struct {
	ID        string
	Body      []byte
	Err       string
	NoHandler bool
}

type subscription struct {
	handler Handler
	exec    Executor
}

// Messenger implements Messaging over TCP, one connection per request, with
// gob-framed envelopes. Target addresses are resolved through the cluster
// membership service.
type Messenger struct {
	self    Member
	members Membership

	mu     sync.RWMutex
	subs   map[string]subscription
	ln     net.Listener
	closed bool
}

func NewMessenger(members Membership) *Messenger {
	return &Messenger{
		self:    members.LocalMember(),
		members: members,
		subs:    make(map[string]subscription),
	}
}

// Start binds the messenger listener and begins serving requests.
func (m *Messenger) Start() error {
	bind := netutil.Address{Host: m.self.Address.Host, Port: m.self.Address.Port}
	ln, err := net.Listen("tcp", bind.String())
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %s", bind)
	}
	m.mu.Lock()
	m.ln = ln
	m.mu.Unlock()
	go m.serve(ln)
	return nil
}

func (m *Messenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.ln != nil {
		return m.ln.Close()
	}
	return nil
}

func (m *Messenger) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			m.mu.RLock()
			closed := m.closed
			m.mu.RUnlock()
			if !closed {
				log.Debugf("messenger accept failed: %v", err)
			}
			return
		}
		go m.handleConn(conn)
	}
}

func (m *Messenger) handleConn(conn net.Conn) {
	defer conn.Close()

	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)
	var req request
	if err := dec.Decode(&req); err != nil {
		log.Debugf("cannot decode request: %v", err)
		return
	}
	m.mu.RLock()
	sub, ok := m.subs[req.Subject]
	m.mu.RUnlock()
	if !ok {
		if err := enc.Encode(response{ID: req.ID, NoHandler: true}); err != nil {
			log.Debugf("cannot write response: %v", err)
		}
		return
	}

	// the handler runs on the subscriber's executor; the connection
	// goroutine waits for the reply body
	done := make(chan response, 1)
	err := sub.exec.Execute(func() {
		body, err := sub.handler(req.From, req.Body)
		resp := response{ID: req.ID, Body: body}
		if err != nil {
			resp.Err = err.Error()
		}
		done <- resp
	})
	if err != nil {
		// executor torn down, treat the subject as unsubscribed
		if err := enc.Encode(response{ID: req.ID, NoHandler: true}); err != nil {
			log.Debugf("cannot write response: %v", err)
		}
		return
	}
	select {
	case resp := <-done:
		if err := enc.Encode(resp); err != nil {
			log.Debugf("cannot write response: %v", err)
		}
	case <-time.After(handlerTimeout):
		// the executor was likely torn down with the task still queued;
		// the caller sees a timeout and retries or drops the peer
		log.Debugf("handler for %#v did not answer request %s", req.Subject, req.ID)
	}
}

// Subscribe implements Messaging.
func (m *Messenger) Subscribe(subject string, handler Handler, exec Executor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[subject]; ok {
		return errors.Errorf("subject already subscribed: %#v", subject)
	}
	m.subs[subject] = subscription{handler: handler, exec: exec}
	return nil
}

// Unsubscribe implements Messaging.
func (m *Messenger) Unsubscribe(subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, subject)
}

// Send implements Messaging. Timeouts are taken from ctx and reported as
// ErrTimeout so callers can distinguish recoverable transport failures.
func (m *Messenger) Send(ctx context.Context, to MemberID, subject string, body []byte) ([]byte, error) {
	member := m.members.Member(to)
	if member == nil {
		return nil, errors.Wrapf(ErrUnknownMember, "%s", to)
	}
	req := request{
		ID:      uuid.New().String(),
		From:    m.self.ID,
		Subject: subject,
		Body:    body,
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", member.Address.String())
	if err != nil {
		return nil, wrapSendErr(ctx, err, req.ID, to)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	if err := gob.NewEncoder(conn).Encode(req); err != nil {
		return nil, wrapSendErr(ctx, err, req.ID, to)
	}
	var resp response
	if err := gob.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, wrapSendErr(ctx, err, req.ID, to)
	}
	if resp.NoHandler {
		return nil, errors.Wrapf(ErrNoRemoteHandler, "subject %#v on %s", subject, to)
	}
	if resp.Err != "" {
		return nil, errors.Errorf("remote handler failed: %s", resp.Err)
	}
	return resp.Body, nil
}

func wrapSendErr(ctx context.Context, err error, id string, to MemberID) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		err = ErrTimeout
	} else if ctx.Err() == context.DeadlineExceeded {
		err = ErrTimeout
	}
	log.Debug("send failed",
		zap.String("request-id", id),
		zap.String("to", string(to)),
		zap.Error(err),
	)
	return errors.Wrapf(err, "request %s to %s", id, to)
}
