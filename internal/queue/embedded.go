package queue

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig holds settings for the in-process NATS server.
type EmbeddedConfig struct {
	Host     string
	Port     int
	StoreDir string
	MaxMem   int64
	MaxStore int64
}

// EmbeddedServer runs a NATS JetStream server inside the process, for
// single-host deployments that should not depend on external queue
// infrastructure.
type EmbeddedServer struct {
	srv       *server.Server
	clientURL string
}

// NewEmbeddedServer creates and starts an embedded NATS server with
// JetStream enabled, waiting until it accepts connections.
func NewEmbeddedServer(cfg EmbeddedConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName:         "dota-stalker",
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMem,
		JetStreamMaxStore:  cfg.MaxStore,
		NoLog:              true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("creating embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within timeout")
	}

	return &EmbeddedServer{srv: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for local clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.srv.Shutdown()
	s.srv.WaitForShutdown()
}
