// Package server exposes the manager over a Unix stream socket. Each
// accepted connection becomes one liveness-tracked session whose
// principal is the peer's UID from SO_PEERCRED; when the connection
// closes, announced or not, every resource it created is released.
//
// Two optional auxiliary listeners run alongside the main socket: a
// gRPC health endpoint reporting backend liveness, and a pprof HTTP
// endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/manager"
)

// DefaultSocketPath is where the daemon listens unless configured
// otherwise.
const DefaultSocketPath = "/run/ipsecmgr/ipsecmgr.sock"

// healthInterval is how often the backend is probed for the health
// endpoint.
const healthInterval = 10 * time.Second

// Config configures a Server. Empty auxiliary addresses disable the
// corresponding listener.
type Config struct {
	SocketPath    string
	HealthAddress string
	PprofAddress  string
}

// Server accepts client connections and dispatches their requests to
// the manager.
type Server struct {
	cfg      Config
	manager  *manager.Manager
	logger   *slog.Logger
	nextConn atomic.Uint64
}

// New creates a Server around mgr.
func New(cfg Config, mgr *manager.Manager, logger *slog.Logger) *Server {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		manager: mgr,
		logger:  logger.With("component", "server"),
	}
}

// Run listens and serves until ctx is cancelled. A stale socket at the
// path is replaced, and the socket is removed on shutdown.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.cfg.SocketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}
	defer ln.Close()
	defer os.Remove(s.cfg.SocketPath)

	// Principals are authenticated by SO_PEERCRED, not by who can reach
	// the socket, so the socket itself is world-connectable.
	if err := os.Chmod(s.cfg.SocketPath, 0o666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	stopHealth, err := s.startHealth(ctx)
	if err != nil {
		return err
	}
	defer stopHealth()

	stopPprof, err := s.startPprof()
	if err != nil {
		return err
	}
	defer stopPprof()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("listening", "socket", s.cfg.SocketPath)
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		sess, err := s.newSession(conn)
		if err != nil {
			s.logger.Error("rejecting connection", "error", err)
			conn.Close()
			continue
		}
		go sess.run(ctx)
	}
}

// startHealth starts the gRPC health listener, if configured. The
// serving status tracks backend liveness.
func (s *Server) startHealth(ctx context.Context) (func(), error) {
	if s.cfg.HealthAddress == "" {
		return func() {}, nil
	}

	lis, err := net.Listen("tcp", s.cfg.HealthAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on health address %s: %w", s.cfg.HealthAddress, err)
	}

	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	setStatus := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if !s.manager.BackendAlive(ctx) {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}
	setStatus()

	go func() {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				setStatus()
			}
		}
	}()

	go func() {
		if err := gs.Serve(lis); err != nil {
			s.logger.Error("health server failed", "error", err)
		}
	}()

	s.logger.Info("health endpoint listening", "address", s.cfg.HealthAddress)
	return gs.Stop, nil
}

// startPprof starts the pprof HTTP listener, if configured.
func (s *Server) startPprof() (func(), error) {
	if s.cfg.PprofAddress == "" {
		return func() {}, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	lis, err := net.Listen("tcp", s.cfg.PprofAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on pprof address %s: %w", s.cfg.PprofAddress, err)
	}
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("pprof server failed", "error", err)
		}
	}()

	s.logger.Info("pprof endpoint listening", "address", s.cfg.PprofAddress)
	return func() { srv.Close() }, nil
}

// peerPrincipal reads the connecting process's UID via SO_PEERCRED.
func peerPrincipal(conn *net.UnixConn) (ipsecmgr.Principal, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, fmt.Errorf("SO_PEERCRED: %w", credErr)
	}
	return ipsecmgr.Principal(cred.Uid), nil
}
