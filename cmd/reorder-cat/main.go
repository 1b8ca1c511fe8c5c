// Command reorder-cat moves bytes between stdin and stdout over a multipath
// session: chunks of one stream are spread over several QUIC connections and
// put back in order on the receiving side.
//
//	reorder-cat -listen :4433 > out.bin
//	reorder-cat -connect 127.0.0.1:4433 -paths 4 < in.bin
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"
	"github.com/s-anzie/reorder"
	"github.com/s-anzie/reorder/internal/config"
	"github.com/s-anzie/reorder/internal/logger"
	tlsutil "github.com/s-anzie/reorder/internal/utils/tls"
)

func main() {
	listen := flag.String("listen", "", "address to accept sessions on")
	connect := flag.String("connect", "", "address to send stdin to")
	paths := flag.Int("paths", 0, "number of QUIC connections per session (overrides config)")
	configPath := flag.String("config", "", "YAML configuration file")
	metricsAddr := flag.String("metrics", "", "Prometheus listen address (overrides config)")
	flag.Parse()

	if (*listen == "") == (*connect == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -listen or -connect is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath, *paths, *metricsAddr)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	level, _ := logger.ParseLevel(cfg.Log.Level)
	// logs go to stderr, stdout carries the stream
	lg := logger.NewLoggerWithOutput(level, os.Stderr).WithComponent("REORDER_CAT")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &reorder.SessionOptions{Logger: lg}
	if cfg.Metrics.Listen != "" {
		opts.Metrics = serveMetrics(cfg.Metrics, lg)
	}

	if *listen != "" {
		err = runServer(ctx, *listen, cfg, opts, lg)
	} else {
		err = runClient(ctx, *connect, cfg, opts, lg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("reorder-cat failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig(path string, paths int, metricsAddr string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv("REORDER"); err != nil {
		return nil, err
	}
	if paths > 0 {
		cfg.Transport.Paths = paths
	}
	if metricsAddr != "" {
		cfg.Metrics.Listen = metricsAddr
	}
	return cfg, cfg.Validate()
}

func serveMetrics(mc config.MetricsConfig, lg logger.Logger) *reorder.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := reorder.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle(mc.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		lg.Info("Serving metrics", "addr", mc.Listen, "path", mc.Path)
		if err := http.ListenAndServe(mc.Listen, mux); err != nil {
			lg.Error("metrics server stopped", "err", err)
		}
	}()
	return m
}

func runServer(ctx context.Context, addr string, cfg *config.Config, opts *reorder.SessionOptions, lg logger.Logger) error {
	tlsConf, err := tlsutil.GenerateTLSConfig(cfg.Transport.ALPN)
	if err != nil {
		return err
	}
	ln, err := reorder.ListenAddrWithOptions(addr, tlsConf, cfg, opts)
	if err != nil {
		return err
	}
	defer ln.Close()
	lg.Info("Listening", "addr", ln.Addr())

	var stdout sync.Mutex
	for {
		sess, err := ln.Accept(ctx)
		if err != nil {
			if errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return err
		}
		go serveSession(ctx, sess, &stdout, lg)
	}
}

// serveSession copies every stream of sess to stdout, one stream at a time,
// and closes the session when the peer has nothing left to send.
func serveSession(ctx context.Context, sess reorder.Session, stdout *sync.Mutex, lg logger.Logger) {
	slg := lg.WithSession(sess.SessionID().String())
	slg.Info("Session accepted", "remote", sess.RemoteAddr(), "paths", sess.Paths())

	st, err := sess.AcceptStream(ctx)
	if err != nil {
		slg.Warn("No stream", "err", err)
		sess.CloseWithError(1, "no stream")
		return
	}

	start := time.Now()
	stdout.Lock()
	n, err := io.Copy(os.Stdout, st)
	stdout.Unlock()
	if err != nil {
		slg.LogError(err, "Stream copy failed", "bytes", n)
		sess.CloseWithError(1, err.Error())
		return
	}
	slg.LogPerformance("stream", time.Since(start), "bytes", n, "paths", sess.Paths())
	sess.CloseWithError(0, "received")
}

func runClient(ctx context.Context, addr string, cfg *config.Config, opts *reorder.SessionOptions, lg logger.Logger) error {
	sess, err := reorder.DialAddrWithOptions(ctx, addr, tlsutil.ClientTLSConfig(cfg.Transport.ALPN), cfg, opts)
	if err != nil {
		return err
	}
	defer sess.CloseWithError(0, "client exit")

	st, err := sess.OpenStream()
	if err != nil {
		return err
	}
	start := time.Now()
	n, err := io.Copy(st, os.Stdin)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := st.Close(); err != nil {
		return err
	}
	lg.LogPerformance("send", time.Since(start), "bytes", n, "paths", sess.Paths())

	// the server closes the session once it has read everything
	select {
	case <-sess.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
