package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// EmbeddedServer runs an in-process NATS server for single-machine
// clusters and development, so the cluster needs no external broker.
type EmbeddedServer struct {
	ns             *server.Server
	startupTimeout time.Duration
	logger         *zap.Logger
}

// NewEmbeddedServer constructs an embedded bus server bound to the
// given host and port.
func NewEmbeddedServer(host string, port int, startupTimeout time.Duration, logger *zap.Logger) (*EmbeddedServer, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoSigs: true, // the lifecycle owns signal handling
	})
	if err != nil {
		return nil, fmt.Errorf("configuring embedded bus server: %w", err)
	}
	return &EmbeddedServer{
		ns:             ns,
		startupTimeout: startupTimeout,
		logger:         logger,
	}, nil
}

// Start launches the server and waits for it to accept connections, so
// callers can dial it as soon as Start returns.
//
// Postcondition: Returns an error if the server does not become ready
// within the startup timeout.
func (s *EmbeddedServer) Start() error {
	s.ns.Start()

	if !s.ns.ReadyForConnections(s.startupTimeout) {
		return fmt.Errorf("embedded bus server not ready within %s", s.startupTimeout)
	}
	s.logger.Info("embedded bus server listening",
		zap.String("addr", s.ns.Addr().String()),
	)
	return nil
}

// Shutdown stops the server and blocks until it has fully wound down.
func (s *EmbeddedServer) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}

// WaitForShutdown blocks until Shutdown completes.
func (s *EmbeddedServer) WaitForShutdown() {
	s.ns.WaitForShutdown()
}

// Run starts the server, blocks until the context is cancelled, then
// shuts it down.
func (s *EmbeddedServer) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Shutdown()
	return nil
}

// ClientURL returns the URL local clients should dial.
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}
