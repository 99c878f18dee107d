// internal/network/server.go
package network

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Server accepts TCP connections for the lobby fabric and hands each one to
// the registry, which serves it on its own goroutine.
type Server struct {
	registry *Registry
	logger   *logrus.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	ln net.Listener
}

// NewServer builds a TCP fabric server around the given registry.
func NewServer(registry *Registry, logger *logrus.Logger, readTimeout, writeTimeout time.Duration) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		registry:     registry,
		logger:       logger,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ListenAndServe binds addr and runs the accept loop. A failed bind is the
// one startup error the process cannot survive; the caller decides whether
// to treat it as fatal.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.logger.Infof("fabric listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.WithError(err).Warn("accept error")
			continue
		}
		s.logger.WithField("remote", conn.RemoteAddr()).Info("new connection")
		go s.registry.ServeConn(NewTCPConn(conn, s.readTimeout, s.writeTimeout))
	}
}

// Close stops the accept loop.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}
