// Command contentd runs one node of the content server: it loads its
// Environment, wires Storage, Pointer Manager, History Manager, the
// Deploy Orchestrator, the Cluster/DAO client, and the Synchronizer, then
// serves the HTTP surface until told to stop.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/contentmesh/server/pkg/access"
	"github.com/contentmesh/server/pkg/analytics"
	"github.com/contentmesh/server/pkg/api"
	"github.com/contentmesh/server/pkg/blacklist"
	"github.com/contentmesh/server/pkg/cluster"
	"github.com/contentmesh/server/pkg/config"
	"github.com/contentmesh/server/pkg/deploy"
	"github.com/contentmesh/server/pkg/faileddeploy"
	"github.com/contentmesh/server/pkg/history"
	"github.com/contentmesh/server/pkg/peerauth"
	"github.com/contentmesh/server/pkg/pointer"
	"github.com/contentmesh/server/pkg/storage"
	"github.com/contentmesh/server/pkg/sync"
	"github.com/contentmesh/server/pkg/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	env, err := config.Load()
	if err != nil {
		log.Printf("contentd: loading configuration: %v", err)
		return 1
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(env.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	provider, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:  env.ServerName,
		OTLPEndpoint: env.OTLPEndpoint,
		LogLevel:     level,
	})
	if err != nil {
		log.Printf("contentd: initializing telemetry: %v", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Printf("contentd: telemetry shutdown: %v", err)
		}
	}()
	logger := provider.Logger()
	logger.Info("contentd starting", "server_name", env.ServerName, "port", env.ServerPort)

	store, err := storage.NewFromEnv(ctx, env)
	if err != nil {
		logger.Error("initializing storage", "error", err)
		return 1
	}
	ledger, err := history.NewFromEnv(env)
	if err != nil {
		logger.Error("initializing history ledger", "error", err)
		return 1
	}
	pointers := pointer.NewManager()

	failed, err := faileddeploy.NewRegistry(filepath.Join(env.StorageRootFolder, "failed-deployments.json"))
	if err != nil {
		logger.Error("initializing failed-deployment registry", "error", err)
		return 1
	}

	externalClient := access.NewClient(access.Config{
		Store:          store,
		Pointers:       pointers,
		DCLAPIURL:      env.DCLAPIURL,
		ENSProviderURL: env.ENSOwnerProviderURL,
		ETHNetwork:     env.ETHNetwork,
	})

	analyticsSink := analytics.NewChannel(256, logger, analytics.LogEmitter(logger))
	defer analyticsSink.Close()

	deployService := deploy.NewService(deploy.Config{
		Store:     store,
		Pointers:  pointers,
		Ledger:    ledger,
		Failed:    failed,
		Env:       env,
		External:  externalClient,
		Analytics: analyticsSink,
		Telemetry: provider,
	})

	var service blacklist.Service = deployService
	if env.BlacklistFile != "" {
		registry, err := blacklist.NewRegistry(env.BlacklistFile)
		if err != nil {
			logger.Error("initializing blacklist registry", "error", err)
			return 1
		}
		service = blacklist.NewOverlay(deployService, registry)
		logger.Info("blacklist overlay enabled", "path", env.BlacklistFile)
	}

	dao, err := daoClientFromEnv(env)
	if err != nil {
		logger.Error("resolving peer membership source", "error", err)
		return 1
	}
	peerCluster := cluster.NewCluster(dao, &http.Client{Timeout: 30 * time.Second}, 5, 10)

	var peerVerifier *peerauth.Verifier
	if env.ClusterSharedSecret != "" {
		peerCluster.SetPeerSigner(peerauth.NewSigner(env.ClusterSharedSecret, env.ServerName), env.ServerName)
		peerVerifier = peerauth.NewVerifier(env.ClusterSharedSecret)
		logger.Info("peer authentication enabled for cluster sync traffic")
	}

	synchronizer := sync.New(sync.Config{
		Cluster:  peerCluster,
		Deploy:   deployService,
		Failed:   failed,
		Store:    store,
		Interval: env.SyncInterval,
		Logger:   logger,
	})

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	go synchronizer.Run(syncCtx)

	var limiter api.Limiter
	if env.RedisAddr != "" {
		limiter = api.NewRedisRateLimiter(env.RedisAddr, env.RedisPassword, env.RedisDB, 50, 100)
		logger.Info("rate limiter backed by redis", "addr", env.RedisAddr)
	}

	server := api.New(api.Config{
		Service:          service,
		Name:             env.ServerName,
		Version:          version,
		Logger:           logger,
		RateLimiterRPS:   50,
		RateLimiterBurst: 100,
		Limiter:          limiter,
		PeerVerifier:     peerVerifier,
	})

	httpServer := &http.Server{
		Addr:    addrFromPort(env.ServerPort),
		Handler: server.Routes(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("contentd listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("contentd shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", "error", err)
			return 1
		}
	}

	stopSync()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
		return 1
	}
	return 0
}

// version is overridden at build time via -ldflags.
var version = "0.0.0-dev"

func addrFromPort(port string) string {
	return fmt.Sprintf(":%s", port)
}

// daoClientFromEnv resolves the DAO_ADDRESS env value, falling back to a
// YAML-configured static peer list when DAOAddress is empty and
// PeerListFile is set, for dev/test clusters with no DAO contract.
func daoClientFromEnv(env *config.Environment) (cluster.DAOClient, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if env.DAOAddress != "" {
		return cluster.DAOFromAddress(env.DAOAddress, httpClient), nil
	}
	if env.PeerListFile == "" {
		return cluster.NewStaticDAOClient(), nil
	}
	list, err := config.LoadStaticPeerList(env.PeerListFile)
	if err != nil {
		return nil, err
	}
	descriptors := make([]cluster.PeerDescriptor, 0, len(list.Peers))
	for i, baseURL := range list.Peers {
		descriptors = append(descriptors, cluster.PeerDescriptor{
			Name:    fmt.Sprintf("peer-%d", i),
			BaseURL: baseURL,
		})
	}
	return cluster.NewStaticDAOClient(descriptors...), nil
}
