package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/common"
	"github.com/acceldata-io/ozone-sub000/lib/csm"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher/memdispatcher"
	"github.com/acceldata-io/ozone-sub000/lib/raftsm"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("server")

// Server runs the container state machines of one storage node: a dragonboat NodeHost
// with one replica per configured replication group plus the admin http endpoint.
//
// Usage:
//
//	s := server.New(*config)
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
type Server struct {
	config   common.ServerConfig
	registry *raftsm.Registry
	store    *memdispatcher.Dispatcher
	nodeHost *dragonboat.NodeHost
	admin    *http.Server
}

// New creates a server, nothing is started before Serve is called.
func New(config common.ServerConfig) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &Server{
		config:   config,
		registry: raftsm.NewRegistry(),
		store:    memdispatcher.New(config.DataDir, nil),
	}
}

// Registry returns the state machines running on this node.
func (s *Server) Registry() *raftsm.Registry {
	return s.registry
}

// newStateMachine creates the container state machine of one replication group
func (s *Server) newStateMachine(shardID, _ uint64, closer csm.GroupCloser) (*csm.ContainerStateMachine, error) {
	cfg, err := s.config.CSMConfig(shardID)
	if err != nil {
		return nil, err
	}
	return csm.New(fmt.Sprintf("group-%d", shardID), cfg, s.store, s.store, closer)
}

func (s *Server) init() error {
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}
	log.Infof("starting storage node")
	log.Infof(s.config.String())

	nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig(s.registry))
	if err != nil {
		return fmt.Errorf("failed to create node host: %w", err)
	}
	s.nodeHost = nodeHost

	factory := raftsm.CreateStateMachineFactory(s.newStateMachine, nodeHost, s.registry)
	for _, shardID := range s.config.Shards {
		if err := nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, factory, s.config.ToDragonboatConfig(shardID)); err != nil {
			return fmt.Errorf("failed to start replication group %d: %w", shardID, err)
		}
		log.Infof("started replication group %d", shardID)
	}

	if s.config.AdminEndpoint != "" {
		s.admin = &http.Server{Addr: s.config.AdminEndpoint, Handler: AdminHandler(s.registry)}
		go func() {
			if err := s.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("admin endpoint stopped: %v", err)
			}
		}()
		log.Infof("admin endpoint listening on %s", s.config.AdminEndpoint)
	}
	return nil
}

// Serve starts the node and blocks until SIGINT or SIGTERM is received
func (s *Server) Serve() error {
	if err := s.init(); err != nil {
		s.Close()
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Infof("received %s, shutting down", sig)

	s.Close()
	return nil
}

// Close stops the admin endpoint and the node host. Closing the node host closes all
// state machines, which drain their in-flight writes and applies.
func (s *Server) Close() {
	if s.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.admin.Shutdown(ctx); err != nil {
			log.Warningf("failed to stop admin endpoint: %v", err)
		}
		cancel()
	}
	if s.nodeHost != nil {
		s.nodeHost.Close()
	}
}

// AdminHandler serves the metrics and health of all state machines of a node:
//
//   - GET /metrics: prometheus text format
//   - GET /health: json map of group id to health, 503 if any group is unhealthy
func AdminHandler(registry *raftsm.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		registry.WritePrometheus(w)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		health := registry.Health()
		body := make(map[string]string, len(health))
		status := http.StatusOK
		for id, h := range health {
			body[fmt.Sprint(id)] = h.String()
			if h != csm.Healthy {
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}
