package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/config"
	"github.com/xiaot623/gogo/runplane/internal/graph"
	"github.com/xiaot623/gogo/runplane/internal/lock"
	"github.com/xiaot623/gogo/runplane/internal/lock/redislock"
	"github.com/xiaot623/gogo/runplane/internal/log"
	"github.com/xiaot623/gogo/runplane/internal/repository"
	"github.com/xiaot623/gogo/runplane/internal/retry"
	"github.com/xiaot623/gogo/runplane/internal/scheduler"
	"github.com/xiaot623/gogo/runplane/internal/service"
	"github.com/xiaot623/gogo/runplane/internal/stream"
	handler "github.com/xiaot623/gogo/runplane/internal/transport/http"
	"github.com/xiaot623/gogo/runplane/internal/transport/rpc"
	"github.com/xiaot623/gogo/runplane/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.SetLevel(cfg.LogLevel)

	log.Infof("Starting runplane...")
	log.Infof("HTTP Port: %d", cfg.HTTPPort)
	log.Infof("Database: %s", cfg.DatabaseURL)
	log.Infof("Admission: %s, capacity %d", cfg.AdmissionMode, cfg.MaxConcurrentRuns)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize storage
	retryPolicy := retry.DefaultPolicy
	retryPolicy.MaxRetries = cfg.StorageMaxRetries
	backend, err := repository.Open(ctx, cfg.DatabaseURL, repository.PoolOptions{
		MetaSize:        cfg.MetaPoolSize,
		StateMin:        cfg.StatePoolMin,
		StateMax:        cfg.StatePoolMax,
		ConnMaxLifetime: repository.DefaultPoolOptions.ConnMaxLifetime,
	}, repository.WithRetryPolicy(retryPolicy))
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer backend.Close()

	// Initialize graphs
	graphs := graph.NewRegistry()
	catalog := graph.DefaultCatalog()
	if cfg.GraphsFile != "" {
		if catalog, err = config.ReadGraphCatalog(cfg.GraphsFile); err != nil {
			log.Fatalf("Failed to read graph catalog: %v", err)
		}
	}
	if err := graphs.Load(catalog); err != nil {
		log.Fatalf("Failed to load graphs: %v", err)
	}
	log.Infof("Assistants: %v", graphs.Assistants())

	// Initialize thread locks
	var locker lock.Locker = lock.NewBackendLocker(backend)
	if cfg.RedisURL != "" {
		rl, err := redislock.Dial(ctx, cfg.RedisURL, redislock.WithRetryPolicy(retryPolicy))
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rl.Close()
		locker = rl
		log.Infof("Thread locks held in redis")
	}
	locks := lock.NewManager(locker, cfg.LockTTL, cfg.HeartbeatEvery)

	dispatcher, err := scheduler.New(cfg.MaxConcurrentRuns)
	if err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}

	// Initialize policy engine
	policyEngine, err := policy.NewDefaultEngine(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	hub := stream.NewHub(stream.WithCapacity(cfg.StreamBuffer), stream.WithGrace(cfg.StreamGrace))
	svc := service.New(cfg, backend, graphs, hub, locks, dispatcher, policyEngine)

	if n := svc.RecoverRuns(ctx); n > 0 {
		log.Infof("Recovered %d orphaned runs", n)
	}
	go svc.RunReclaimer(ctx)
	go svc.RunEventRetention(ctx)

	server := handler.NewServer(svc, cfg)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(svc)
		if err != nil {
			log.Fatalf("Failed to initialize RPC server: %v", err)
		}
		go func() {
			addr := fmt.Sprintf(":%d", cfg.RPCPort)
			if err := rpcServer.Start(addr); err != nil {
				log.Fatalf("Failed to start RPC server: %v", err)
			}
		}()
		log.Infof("RPC server started on port %d", cfg.RPCPort)
	}

	log.Infof("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down runplane...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Failed to shutdown HTTP server gracefully: %v", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Failed to shutdown RPC server gracefully: %v", err)
		}
	}

	// Runs still executing keep their status; the next process reclaims them
	// once their leases lapse.
	stop()
	svc.Close()
	if err := dispatcher.Shutdown(5 * time.Second); err != nil {
		log.Warnf("Workers did not stop in time: %v", err)
	}

	log.Info("Runplane stopped")
}
