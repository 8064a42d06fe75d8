package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Server holds the bind settings shared by a set of Listeners and keeps
// track of every Listener created from it.
type Server struct {
	cfg       ServerConfig
	tlsConfig *tls.Config
	logger    logrus.FieldLogger
	metrics   *metrics

	mu        sync.Mutex
	listeners []*Listener
}

// NewServer validates cfg and prepares a Server. No socket is opened until
// CreateInbound is called.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:       cfg,
		tlsConfig: tlsConfig,
		logger:    logger,
		metrics:   m,
	}, nil
}

// CreateInbound starts a Listener on cfg.Port that passes every received
// message to h. Configuration errors are returned before any socket is
// opened, as is a name already used by another open Listener; binding
// happens in the background and its outcome is reported
// through the listen or error event and through Listener.WaitListening.
func (s *Server) CreateInbound(cfg ListenerConfig, h Handler, opts ...ListenerOption) (*Listener, error) {
	l, err := newListener(s, cfg, h, opts...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, other := range s.listeners {
		if l.cfg.Name != "" && !other.isClosed() && other.Name() == l.cfg.Name {
			s.mu.Unlock()
			l.cancel()
			return nil, configError("name", fmt.Sprintf("a listener named %s already exists", l.cfg.Name))
		}
	}
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	go l.start()
	return l, nil
}

// Listeners returns every Listener created so far, closed ones included.
func (s *Server) Listeners() []*Listener {
	s.mu.Lock()
	defer s.mu.Unlock()

	listeners := make([]*Listener, len(s.listeners))
	copy(listeners, s.listeners)
	return listeners
}

// CloseAll closes every Listener of the Server.
func (s *Server) CloseAll() error {
	var errs []error
	for _, l := range s.Listeners() {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
