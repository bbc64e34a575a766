package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"loyaltydesk.org/internal/config"
	"loyaltydesk.org/internal/httpapi"
	"loyaltydesk.org/internal/obs"
	"loyaltydesk.org/internal/seed"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	logger := obs.Logger()
	config.LoadEnv(logger)
	cfg := config.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.NewLogger("loyaltydesk-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer a.close()

	if cfg.DevSeed {
		rep, err := a.seeder.Run(ctx, seed.Options{})
		if err != nil {
			log.WithError(err).Error("dev seed failed")
		} else {
			log.WithField("tiers", rep.TiersCreated).WithField("milestones", rep.MilestonesCreated).Info("dev seed applied")
		}
	}

	api := httpapi.New(a.deps,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithDataTimeout(cfg.DataTimeout),
	)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Streaming endpoints hold the response open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	grpcSrv := httpapi.NewGRPCServer(a.deps.Probe)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr).WithField("version", version).Info("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		log.WithField("addr", cfg.GRPCAddr).Info("grpc health server starting")
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
	}
	a.deps.Redemptions.Wait()
	log.Info("stopped")
}
