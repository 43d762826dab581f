package cachelot

import (
	"context"
	"net"
	"os"
	"sync"

	"github.com/caidongyun/cachelot/log"
	"github.com/caidongyun/cachelot/recycle"
)

// Config configures a Server.
type Config struct {
	Addr   string
	Cache  Cache
	Pool   *recycle.Pool
	Logger log.Logger
	// MaxValueSize bounds a storage command's declared value length; a
	// client that declares more is rejected with a client error before
	// the value itself is read off the wire. Zero uses
	// DefaultMaxValueSize.
	MaxValueSize int
}

// Server accepts ASCII memcached protocol connections and serves them
// against a shared Cache, one goroutine per connection.
type Server struct {
	cfg Config
	ln  net.Listener
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewServer builds a Server from cfg, filling in a default pool and
// logger if the caller left them nil.
func NewServer(cfg Config) *Server {
	if cfg.Pool == nil {
		cfg.Pool = recycle.NewPool()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewLogger(log.InfoLevel, os.Stdout)
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = DefaultMaxValueSize
	}
	return &Server{cfg: cfg}
}

// ListenAndServe binds cfg.Addr and serves connections until ctx is
// canceled or Close is called, at which point it stops accepting new
// connections and returns once in-flight ones finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			cn := newConn(nc, s.cfg.Pool, s.cfg.Cache, s.cfg.Logger, s.cfg.MaxValueSize)
			cn.serve()
		}()
	}
}

// Addr returns the listener's bound address. Only valid after
// ListenAndServe has started listening.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting new connections; connections already being
// served run to completion on their own.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}
