// Command dicomshield runs the DicomShield privacy proxy: a DIMSE
// intermediary that pseudonymizes patient identity on the way out to a
// client and restores it on the way back upstream, so a clinical PACS
// can be queried from a research network without exposing real
// identifiers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/dicomshield/proxy/associator"
	"github.com/dicomshield/proxy/config"
	"github.com/dicomshield/proxy/handlers"
	"github.com/dicomshield/proxy/interfaces"
	"github.com/dicomshield/proxy/pseudonym"
	"github.com/dicomshield/proxy/queue"
	"github.com/dicomshield/proxy/server"
	"github.com/dicomshield/proxy/services"
	"github.com/dicomshield/proxy/shield"
	"github.com/dicomshield/proxy/types"
)

func main() {
	configPath := flag.String("config", "dicomshield.yaml", "Path to the proxy's YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dicomshield: configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pseudonymClient, err := pseudonym.New(pseudonym.Config{
		ClientType:  cfg.PseudonymizationServer.ClientType,
		EndpointURL: cfg.PseudonymizationServer.EndpointURL,
		Domain:      cfg.PseudonymizationServer.Domain,
		User:        cfg.PseudonymizationServer.User,
		Password:    cfg.PseudonymizationServer.Password,
	})
	if err != nil {
		logger.Error("failed to build pseudonymization client", "error", err)
		os.Exit(1)
	}

	if err := pseudonymClient.TestConnection(ctx); err != nil {
		logger.Error("pseudonymization service health check failed", "error", err)
		os.Exit(1)
	}

	upstream := associator.New(cfg.Upstream, associator.CallingAETitle, logger)
	if err := healthCheckUpstream(ctx, upstream); err != nil {
		logger.Error("upstream PACS health check failed", "error", err)
		os.Exit(1)
	}

	handler := handlers.New(handlers.Config{
		Shield:         shield.New(pseudonymClient),
		Upstream:       upstream,
		Queues:         queue.NewManager(),
		AllowedAET:     cfg.AllowedAET,
		InternalAET:    cfg.CStoreEndpoint.AET,
		CallingAETitle: associator.CallingAETitle,
		Logger:         logger,
	})

	registry := services.NewRegistry()
	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService())
	for _, command := range []uint16{types.CStoreRQ, types.CFindRQ, types.CGetRQ, types.CMoveRQ} {
		registry.RegisterHandler(command, handler)
	}

	internalRegistry := services.NewRegistry()
	internalRegistry.RegisterHandler(types.CEchoRQ, services.NewEchoService())
	internalRegistry.RegisterHandler(types.CStoreRQ, handlers.NewInternalStoreHandler(handler))

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- runListener(ctx, "ingress", cfg.Ingress, registry, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- runListener(ctx, "internal C-STORE", cfg.CStoreEndpoint, internalRegistry, logger)
	}()

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			logger.Error("dicomshield terminated unexpectedly", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("dicomshield shutdown complete")
}

func runListener(ctx context.Context, name string, listenerCfg config.ListenerConfig, handler interfaces.ServiceHandler, logger *slog.Logger) error {
	address := fmt.Sprintf(":%d", listenerCfg.Port)
	logger.Info("starting listener", "listener", name, "ae_title", listenerCfg.AET, "address", address)

	err := server.ListenAndServe(ctx, address, listenerCfg.AET, handler, server.WithLogger(logger))
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	default:
		return fmt.Errorf("%s listener: %w", name, err)
	}
}

func healthCheckUpstream(ctx context.Context, upstream *associator.Associator) error {
	assoc, err := upstream.AssociateForStorage(ctx, types.VerificationSOPClass)
	if err != nil {
		return err
	}
	defer assoc.Close()
	return nil
}

func logLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
