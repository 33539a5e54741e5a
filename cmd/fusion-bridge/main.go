// fusion-bridge synchronizes camera, depth, scan and odometry topics into
// fused observations for a mapping or visualisation consumer, and forwards
// operator commands to the mapping core.
package main

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/fusion-bridge/internal/bridge"
	"github.com/banshee-data/fusion-bridge/internal/command"
	"github.com/banshee-data/fusion-bridge/internal/httputil"
	"github.com/banshee-data/fusion-bridge/internal/metrics"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
	"github.com/banshee-data/fusion-bridge/internal/tf"
	"github.com/banshee-data/fusion-bridge/internal/timeutil"
	"github.com/banshee-data/fusion-bridge/internal/transport"
	"github.com/banshee-data/fusion-bridge/internal/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("fusion-bridge: %v", err)
	}
}

func run(args []string) error {
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if opts.version {
		fmt.Println(version.String("fusion-bridge"))
		return nil
	}

	cfg, err := opts.resolveConfig()
	if err != nil {
		return err
	}
	monitoring.SetLogWriters(opts.logWriters())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	if err := m.Register(); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr, err := transport.Build(ctx, cfg, transport.NewLogger())
	if err != nil {
		return fmt.Errorf("building %s transport: %w", cfg.GetTransport(), err)
	}

	tree := tf.NewBuffer(tf.DefaultCacheTime)
	namespace := cfg.GetTopicNamespace()
	sink := transport.NewSink(tr.Publisher, namespace)
	b := bridge.New(bridge.Config{
		Topology:      cfg.Topology(),
		FrameID:       cfg.PrefixedFrameID(),
		OdomFrameID:   cfg.PrefixedOdomFrameID(),
		MaxInterval:   cfg.GetSyncMaxInterval(),
		EmitterBuffer: cfg.GetEmitterBuffer(),
	}, tf.NewResolver(tree, cfg.GetWaitForTransform()), sink, timeutil.RealClock{}, m)
	sink.SetSession(b.Session())

	srcOpts := transport.SourceOptions{
		Namespace: namespace,
		Tree:      tree,
		OdomTF:    cfg.GetOdomTF(),
		Status:    sink,
		Metrics:   m,
	}
	if addr := cfg.GetGRPCAddress(); addr != "" {
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			b.Close()
			_ = tr.Close()
			return fmt.Errorf("connecting to mapping core at %s: %w", addr, err)
		}
		defer conn.Close()
		srcOpts.Commands = command.NewDispatcher(command.NewGRPCCaller(conn, cfg.GetGRPCService()), sink, command.Options{
			CameraNodeName: cfg.GetCameraNodeName(),
			OnReset:        b.Reset,
			Metrics:        m,
		})
		monitoring.Diagf("[Main] commands forwarded to %s", addr)
	}

	source := transport.NewSource(tr.Subscriber, b, srcOpts)
	if err := source.Start(ctx); err != nil {
		b.Close()
		_ = tr.Close()
		return err
	}

	var wg sync.WaitGroup
	if listen := cfg.GetMetricsListen(); listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveMetrics(ctx, listen, newMux(registry, b, tree))
		}()
	}

	monitoring.Opsf("[Main] %s running (transport=%s, namespace=%q)", version.String("fusion-bridge"), cfg.GetTransport(), namespace)
	<-ctx.Done()
	monitoring.Opsf("[Main] shutting down...")

	if err := tr.Close(); err != nil {
		monitoring.Opsf("[Main] transport close error: %v", err)
	}
	source.Wait()
	b.Close()
	wg.Wait()
	monitoring.Opsf("[Main] graceful shutdown complete")
	return nil
}

// status is the /status document.
type status struct {
	bridge.Status
	TFFrames int `json:"tf_frames"`
}

// newMux serves prometheus metrics and the bridge status snapshot.
func newMux(registry *prometheus.Registry, b *bridge.Bridge, tree *tf.Buffer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.Handle("/status", httputil.SnapshotHandler(func() any {
		return status{Status: b.Status(), TFFrames: tree.Frames()}
	}))
	return mux
}

func serveMetrics(ctx context.Context, listen string, handler http.Handler) {
	server := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Opsf("[Main] metrics server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Opsf("[Main] metrics server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Opsf("[Main] metrics server force close error: %v", err)
		}
	}
}
