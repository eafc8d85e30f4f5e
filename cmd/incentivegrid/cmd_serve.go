// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/incentivegrid/incentivegrid/pkg/observability"
	"github.com/incentivegrid/incentivegrid/services/eligibility"
	"github.com/incentivegrid/incentivegrid/services/eligibility/catalog"
	"github.com/incentivegrid/incentivegrid/services/eligibility/lookup"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the eligibility HTTP API",
		Long: `Serves the evaluation API on the given port. The catalog directory is
watched for changes and reloaded atomically; a load failure keeps the
previous catalog serving. Without --catalog the embedded starter
catalog is used.`,
		RunE: runServe,
	}

	servePort       int
	serveCatalogDir string
	serveLookupFile string
	serveLookupURL  string
	serveDebug      bool
)

func init() {
	f := serveCmd.Flags()
	f.IntVar(&servePort, "port", 8080, "Port to listen on")
	f.StringVar(&serveCatalogDir, "catalog", "", "Directory of catalog YAML files (embedded catalog when empty)")
	f.StringVar(&serveLookupFile, "lookup", "", "YAML file of geographic designations")
	f.StringVar(&serveLookupURL, "lookup-url", "", "Base URL of a designation mapping service")
	f.BoolVar(&serveDebug, "debug", false, "Enable Gin debug mode and request logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger("eligibility")
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.Init(ctx, observability.DefaultTelemetryConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdown(context.Background())
	metrics := observability.InitMetrics()

	cat := catalog.New(logger.Slog())
	if serveCatalogDir != "" {
		if err := cat.LoadDir(serveCatalogDir); err != nil {
			return fmt.Errorf("load catalog %s: %w", serveCatalogDir, err)
		}
		go func() {
			if err := cat.Watch(ctx); err != nil {
				logger.Error("catalog watcher stopped", "error", err)
			}
		}()
	} else {
		if err := cat.LoadEmbedded(); err != nil {
			return fmt.Errorf("load embedded catalog: %w", err)
		}
	}
	metrics.RecordCatalogReload(true, len(cat.Programs()))
	logger.Info("catalog loaded",
		"programs", len(cat.Programs()),
		"version", cat.Version()[:12])

	lk, err := buildLookup()
	if err != nil {
		return err
	}

	engine := eligibility.NewEngine(lk, logger.Slog())
	handlers := eligibility.NewHandlers(engine, cat, logger.Slog())

	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if serveDebug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware("incentivegrid"))
	router.Use(requestMetrics(metrics))

	eligibility.SetupRoutes(router, handlers)
	if h := observability.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", servePort),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting eligibility server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down eligibility server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildLookup selects the designation source from the serve flags.
// A static file wins over a remote service when both are given.
func buildLookup() (eligibility.DesignationLookup, error) {
	if serveLookupFile != "" {
		static, err := lookup.LoadStatic(serveLookupFile)
		if err != nil {
			return nil, fmt.Errorf("load designations %s: %w", serveLookupFile, err)
		}
		return static, nil
	}
	if serveLookupURL != "" {
		client, err := lookup.NewHTTP(lookup.HTTPConfig{BaseURL: serveLookupURL})
		if err != nil {
			return nil, fmt.Errorf("designation client: %w", err)
		}
		return client, nil
	}
	return nil, nil
}

// requestMetrics records per-request counters and latency.
func requestMetrics(m *observability.APIMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RecordRequest(endpoint, c.Writer.Status() < 500, time.Since(start).Seconds())
	}
}
