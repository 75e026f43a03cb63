// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command furui is the container-aware eBPF TC policy enforcer: it
// loads the classifier collection, attaches it to every managed
// container's veth, and keeps SOCKET_POLICY/ICMP_POLICY in sync with
// a YAML allow-list as containers and the policy file itself change.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cilium/ebpf"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/furui/internal/container"
	"grimm.is/furui/internal/ebpf/loader"
	"grimm.is/furui/internal/ebpf/programs"
	"grimm.is/furui/internal/eventdrain"
	"grimm.is/furui/internal/logging"
	"grimm.is/furui/internal/maps"
	"grimm.is/furui/internal/metrics"
	"grimm.is/furui/internal/netutil"
	"grimm.is/furui/internal/policy"
	"grimm.is/furui/internal/policywatch"
	"grimm.is/furui/internal/procscan"
	"grimm.is/furui/internal/runtime"
)

func main() {
	if os.Getuid() != 0 {
		fmt.Fprintln(os.Stderr, "furui: must run as root (loading eBPF programs requires CAP_BPF/CAP_NET_ADMIN)")
		os.Exit(1)
	}

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "furui:", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: opts.logLevel, JSON: opts.logJSON})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("furui exited with error", "error", err)
		os.Exit(1)
	}
}

// options is the parsed CLI surface.
type options struct {
	policyPath         string
	containerEngine    string
	dockerSocket       string
	containerdSocket   string
	containerdNS       string
	metricsAddr        string
	logLevel           logging.Level
	logJSON            bool
	disableProcessScan bool
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("furui", flag.ContinueOnError)

	containerEngine := fs.String("container-engine", "docker", "container runtime to watch: docker or containerd (kubernetes-cri is an alias for containerd)")
	dockerSocket := fs.String("docker-socket", "/var/run/docker.sock", "Docker daemon unix socket")
	containerdSocket := fs.String("containerd-socket", "/run/containerd/containerd.sock", "containerd unix socket")
	containerdNamespace := fs.String("containerd-namespace", "", "containerd namespace to watch (default k8s.io)")
	metricsAddr := fs.String("metrics-addr", ":9090", "address to serve Prometheus /metrics on")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logFmt := fs.String("log-fmt", "text", "log format: text or json")
	noProcScan := fs.Bool("no-proc-scan", false, "disable the best-effort /proc listening-socket scan on container start")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if fs.NArg() != 1 {
		return options{}, fmt.Errorf("usage: furui [flags] <policy-file>")
	}

	level, err := parseLevel(*logLevel)
	if err != nil {
		return options{}, err
	}

	if *containerEngine == "kubernetes-cri" {
		*containerEngine = "containerd"
	}
	if *containerEngine != "docker" && *containerEngine != "containerd" {
		return options{}, fmt.Errorf("-container-engine must be docker, containerd or kubernetes-cri, got %q", *containerEngine)
	}

	return options{
		policyPath:         fs.Arg(0),
		containerEngine:    *containerEngine,
		dockerSocket:       *dockerSocket,
		containerdSocket:   *containerdSocket,
		containerdNS:       *containerdNamespace,
		metricsAddr:        *metricsAddr,
		logLevel:           level,
		logJSON:            *logFmt == "json",
		disableProcessScan: *noProcScan,
	}, nil
}

func parseLevel(s string) (logging.Level, error) {
	switch s {
	case "debug":
		return logging.LevelDebug, nil
	case "info":
		return logging.LevelInfo, nil
	case "warn":
		return logging.LevelWarn, nil
	case "error":
		return logging.LevelError, nil
	default:
		return 0, fmt.Errorf("-log-level must be one of debug, info, warn, error, got %q", s)
	}
}

// run wires every component and blocks until a signal arrives,
// mirroring original_source's lib.rs start(opt) sequencing: runtime
// engine, then the eBPF loader, then registry, then compiled policy,
// then the three background loops (events, container watcher, policy
// file watcher).
func run(ctx context.Context, opts options, logger *logging.Logger) error {
	engine, err := newEngine(opts, logger)
	if err != nil {
		return fmt.Errorf("construct container engine: %w", err)
	}

	m := metrics.New()
	if err := m.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	serveMetrics(opts.metricsAddr, logger)

	l, err := loader.New(logger)
	if err != nil {
		return fmt.Errorf("load classifier: %w", err)
	}
	defer func() {
		if err := l.Close(); err != nil {
			logger.Error("failed to close loader", "error", err)
		}
	}()

	classifierMaps := maps.New(l.Maps())

	registry := container.NewRegistry()
	compiler := policy.NewCompiler(registry)

	applier := &policyApplier{
		path:     opts.policyPath,
		compiler: compiler,
		maps:     classifierMaps,
		metrics:  m,
		logger:   logger.WithComponent("policy"),
	}

	var discoverer container.PortDiscoverer
	if !opts.disableProcessScan {
		discoverer = procscan.NewScanner()
	}

	watcher := container.NewWatcher(engine, registry, l, discoverer, applier, classifierMaps, logger.WithComponent("container"), netutil.ResolveVeth, netutil.NetnsInode)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start container engine: %w", err)
	}
	if err := watcher.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap running containers: %w", err)
	}

	if err := applier.Reload(ctx); err != nil {
		return fmt.Errorf("apply initial policy: %w", err)
	}

	sink := &eventSink{maps: classifierMaps, metrics: m, logger: logger.WithComponent("events")}
	drain, err := eventdrain.New(eventRings(l.Maps()), sink, m, logger.WithComponent("eventdrain"))
	if err != nil {
		return fmt.Errorf("open event drain: %w", err)
	}

	pw := policywatch.New(opts.policyPath, applier.Reload, logger.WithComponent("policywatch"))

	go drain.Run(ctx)
	go watcher.Run(ctx)
	go func() {
		if err := pw.Run(ctx); err != nil {
			logger.Error("policy watcher exited", "error", err)
		}
	}()

	logger.Info("furui started", "policy_path", opts.policyPath, "container_engine", opts.containerEngine)
	waitForSignal(ctx, logger)
	return nil
}

// eventRings names each perf-event-array map by the ring identifiers
// internal/eventdrain dispatches on.
func eventRings(cm programs.ClassifierMaps) map[eventdrain.Ring]*ebpf.Map {
	return map[eventdrain.Ring]*ebpf.Map{
		eventdrain.RingIngressSocket: cm.IngressEvents,
		eventdrain.RingEgressSocket:  cm.EgressEvents,
		eventdrain.RingIngressICMP:   cm.IngressICMPEvents,
		eventdrain.RingEgressICMP:    cm.EgressICMPEvents,
		eventdrain.RingBind:          cm.BindEvents,
		eventdrain.RingConnect:       cm.ConnectEvents,
		eventdrain.RingClose:         cm.CloseEvents,
	}
}

func newEngine(opts options, logger *logging.Logger) (runtime.Engine, error) {
	switch opts.containerEngine {
	case "containerd":
		return runtime.NewContainerdEngine(opts.containerdSocket, opts.containerdNS, logger.WithComponent("containerd"))
	default:
		return runtime.NewDockerEngine(opts.dockerSocket, logger.WithComponent("docker")), nil
	}
}

func serveMetrics(addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server exited", "error", err)
		}
	}()
}

func waitForSignal(ctx context.Context, logger *logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}
}
