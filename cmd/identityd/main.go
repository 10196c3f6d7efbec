// Command identityd serves the identity Engine over HTTP.
//
// Configuration is read from --config (or $IDENTITY_CONFIG), then
// IDENTITY_* environment variables, then flags. See internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/MrEthical07/goIdentity/internal/config"
	"github.com/MrEthical07/goIdentity/internal/httpapi"
	"github.com/MrEthical07/goIdentity/metrics/export/prometheus"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "identityd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("identityd", pflag.ContinueOnError)
	flags := config.RegisterFlags(fs)
	shutdownTimeout := fs.Duration("shutdown-timeout", 15*time.Second, "grace period for in-flight requests")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	file, err := config.Load(flags, nil)
	if err != nil {
		return err
	}
	logger := newLogger(file)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := build(ctx, file, logger)
	if err != nil {
		return err
	}
	defer c.close()

	opts := []httpapi.Option{httpapi.WithLogger(logger)}
	if file.Metrics.Enabled {
		opts = append(opts, httpapi.WithMetrics(prometheus.NewPrometheusExporter(c.engine).Handler()))
	}
	for name, check := range c.checks {
		opts = append(opts, httpapi.WithHealthCheck(name, check))
	}

	srv := &http.Server{
		Addr:              file.Listen,
		Handler:           httpapi.New(c.engine, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", file.Listen, "store", file.Store.Backend, "publisher", file.Publisher.Kind)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
