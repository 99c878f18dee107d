// internal/network/registry.go
package network

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/peslobby/teamplay/internal/models"
)

// HandlerFunc processes one decoded message from the identified connection.
// Handlers run on the connection's own goroutine; anything touching lobby or
// match state must go through those managers' locking, not the registry's.
type HandlerFunc func(connID string, env models.Envelope)

// Registry owns every live client connection and routes decoded messages to
// handlers by their declared type. It is the only component allowed to hold
// Conn references.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]Conn
	handlers map[string]HandlerFunc

	logger *logrus.Logger

	// OnDisconnect fires after a connection is removed, with its id.
	// Used by the recovery component to capture vacated roster slots.
	OnDisconnect func(connID string)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		conns:    make(map[string]Conn),
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Handle registers a handler for a message type. Later registrations replace
// earlier ones.
func (r *Registry) Handle(msgType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

// Register adds a connection and returns its id (derived from the remote
// address). A second connection from the same address replaces the first.
func (r *Registry) Register(conn Conn) string {
	id := conn.RemoteAddr()
	r.mu.Lock()
	old, existed := r.conns[id]
	r.conns[id] = conn
	r.mu.Unlock()
	if existed && old != conn {
		old.Close()
	}
	r.logger.WithField("conn", id).Info("connection registered")
	return id
}

// Deregister removes and closes whatever connection currently holds id.
// Idempotent; safe from any error path.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.deregisterConn(id, conn)
}

// deregisterConn removes id only while conn is still the registered one.
// A reader whose connection was replaced must not tear down the
// replacement when its loop exits.
func (r *Registry) deregisterConn(id string, conn Conn) {
	r.mu.Lock()
	current, ok := r.conns[id]
	if ok && current == conn {
		delete(r.conns, id)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	conn.Close()
	r.logger.WithField("conn", id).Info("connection deregistered")
	if r.OnDisconnect != nil {
		r.OnDisconnect(id)
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Send writes one message to a single connection. No side effects beyond
// the write itself.
func (r *Registry) Send(id string, v any) error {
	r.mu.Lock()
	conn, ok := r.conns[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such connection %q", id)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return conn.WriteMessage(data)
}

// Broadcast serializes v once and writes it to every live connection except
// excludeID. The registry snapshot is taken under lock; writes happen
// outside it. A failed write deregisters that connection.
func (r *Registry) Broadcast(v any, excludeID string) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.WithError(err).Warn("broadcast marshal failed")
		return
	}

	type target struct {
		id   string
		conn Conn
	}
	r.mu.Lock()
	targets := make([]target, 0, len(r.conns))
	for id, conn := range r.conns {
		if id == excludeID {
			continue
		}
		targets = append(targets, target{id, conn})
	}
	r.mu.Unlock()

	for _, t := range targets {
		if err := t.conn.WriteMessage(data); err != nil {
			r.logger.WithFields(logrus.Fields{
				"conn": t.id, "error": err,
			}).Warn("broadcast write failed, dropping connection")
			r.deregisterConn(t.id, t.conn)
		}
	}
}

// ServeConn registers conn and runs its read loop until the peer closes the
// stream or a read fails. Malformed input gets a structured error reply;
// the connection stays open.
func (r *Registry) ServeConn(conn Conn) {
	id := r.Register(conn)
	defer r.deregisterConn(id, conn)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"conn": id, "error": err,
			}).Debug("read loop ended")
			return
		}
		if len(data) == 0 {
			continue
		}
		r.dispatch(id, data)
	}
}

func (r *Registry) dispatch(id string, data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		r.logger.WithField("conn", id).Warn("invalid JSON from client")
		_ = r.Send(id, models.NewError("Invalid JSON", err.Error()))
		return
	}
	if head.Type == "" {
		_ = r.Send(id, models.NewError("Invalid message format", "missing required 'type' field"))
		return
	}

	r.mu.Lock()
	h, ok := r.handlers[head.Type]
	r.mu.Unlock()
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"conn": id, "msg_type": head.Type,
		}).Warn("unknown message type")
		_ = r.Send(id, models.NewError("Unknown message type", head.Type))
		return
	}

	h(id, models.Envelope{Type: head.Type, Raw: data})
}
