package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"goldilocks.org/internal/account"
	"goldilocks.org/internal/httpapi"
	"goldilocks.org/internal/obs"
	"goldilocks.org/internal/settings"
	"goldilocks.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres when a DSN is configured, in-memory otherwise (dev mode).
	var (
		store         account.Store
		settingsStore settings.Store
		probe         httpapi.ReadyProbe
	)
	if dsn := os.Getenv("GOLDILOCKS_PG_DSN"); dsn != "" {
		pg, err := account.OpenPG(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pg.Close()
		store = pg
		settingsStore = settings.NewPG(pg.DB())
		probe = httpapi.ReadyProbe{DB: pg.DB()}
	} else {
		log.Println("GOLDILOCKS_PG_DSN not set, using in-memory store")
		store = account.NewMemory()
		settingsStore = settings.NewMemory()
	}

	accounts := account.NewService(store)

	var tokens *token.Service
	if secret, err := token.SecretFromEnv(); err == nil {
		tokens, err = token.NewService(secret)
		if err != nil {
			log.Fatalf("token service: %v", err)
		}
	} else {
		log.Println("GOLDILOCKS_AUTH_SECRET not set, api tokens disabled")
	}

	api := httpapi.New(probe, accounts, settingsStore, tokens, version)
	if v := os.Getenv("GOLDILOCKS_SECURE_COOKIES"); v == "1" || v == "true" {
		api.SecureCookies(true)
	}

	addr := os.Getenv("GOLDILOCKS_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting goldilocks-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// Optional gRPC health listener for infra probes.
	var grpcSrv *grpc.Server
	if grpcAddr := os.Getenv("GOLDILOCKS_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcSrv, httpapi.NewGRPCServer(probe, version))
		go func() {
			log.Printf("Starting gRPC health on %s", grpcAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Println("Stopped")
}
