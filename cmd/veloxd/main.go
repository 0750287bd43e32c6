// veloxd serves a static file tree over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/ksid"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/velox-web/velox/internal/httpio"
	"github.com/velox-web/velox/internal/serve"
)

func mainImpl() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	addr := flag.String("http", ":8080", "listen address")
	root := flag.String("root", ".", "directory to serve")
	base := flag.String("base", "", "URL prefix consumed before path resolution")
	secure := flag.Bool("secure", false, "offer brotli by default (TLS deployments)")
	noCache := flag.Bool("no-cache", false, "disable the in-memory artifact cache")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()
	if args := flag.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}

	initLogging(*logLevel)

	h, err := serve.New(*root, serve.Options{
		Base:    *base,
		Secure:  *secure,
		NoCache: *noCache,
	})
	if err != nil {
		return err
	}
	slog.Info("serving", "root", h.Root(), "base", *base)
	return listenAndServe(ctx, *addr, h)
}

// initLogging configures slog with tint for colored, concise output.
func initLogging(level string) {
	ll := &slog.LevelVar{}
	switch level {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
		// default
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	}
	slog.SetDefault(slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})))
}

// listenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func listenAndServe(ctx context.Context, addr string, h *serve.Handler) error {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := ksid.NewID()
		res, req := httpio.Wrap(w, r)
		defer res.Close()
		h.Serve(res, req)
		slog.Info("http",
			"m", r.Method,
			"p", r.URL.Path,
			"s", res.Status(),
			"d", time.Since(start).Round(time.Millisecond),
			"b", res.Offset(),
			"id", id,
		)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		// Use Background because the parent ctx is already cancelled.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		shutdownCancel()
	}()
	slog.Info("listening", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		return nil
	}
	return err
}

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "veloxd: %v\n", err)
		os.Exit(1)
	}
}
