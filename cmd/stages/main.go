// Command stages builds a pipeline of ready-made units over a pool of integer
// buffers and sends every buffer around the loop a number of times.
//
// Defaults come from STAGES_* environment variables and can be overridden
// with flags:
//
//	stages -pipeline roundtrip -buffers 10 -cycles 3
//	stages -config pipeline.yaml -profile -metrics-addr :9090
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ygrebnov/stages"
	"github.com/ygrebnov/stages/internal/config"
	"github.com/ygrebnov/stages/internal/logging"
	"github.com/ygrebnov/stages/metrics"
	"github.com/ygrebnov/stages/units"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "stages: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("stages", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Definition, "config", cfg.Definition, "YAML pipeline definition file")
	fs.StringVar(&cfg.Pipeline, "pipeline", cfg.Pipeline, fmt.Sprintf("prebuilt pipeline %v", config.PrebuiltNames()))
	fs.IntVar(&cfg.Buffers, "buffers", cfg.Buffers, "number of buffers in the head pool")
	fs.IntVar(&cfg.Cycles, "cycles", cfg.Cycles, "number of trips every buffer makes")
	fs.BoolVar(&cfg.LogDev, "debug", cfg.LogDev, "debug level console logging")
	fs.BoolVar(&cfg.Profile, "profile", cfg.Profile, "print per-stage timings")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "stages: %v\n", err)
		return 1
	}

	logCfg := logging.Config{Level: cfg.LogLevel, Development: cfg.LogDev}
	if cfg.LogDev {
		logCfg.Level = "debug"
	}
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(stderr, "stages: logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	def, err := definition(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "stages: %v\n", err)
		return 1
	}

	var provider metrics.Provider = metrics.NewNoopProvider()
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		provider = metrics.NewPrometheusProvider(reg, "")
		srv := serveMetrics(cfg.MetricsAddr, reg, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	e := env{out: stdout, log: log, metrics: provider, errBuffer: cfg.ErrorsBuffer, profile: cfg.Profile}
	p, err := e.build(def, cfg.Buffers)
	if err != nil {
		fmt.Fprintf(stderr, "stages: building pipeline %q: %v\n", def.Name, err)
		return 1
	}

	errsDone := make(chan struct{})
	go func() {
		defer close(errsDone)
		for err := range p.Errors() {
			id, _ := stages.ExtractStageID(err)
			in, _ := stages.ExtractInstance(err)
			log.Warn("unit error", zap.Int("stage", id), zap.Int("instance", in), zap.Error(err))
		}
	}()

	code := cycle(ctx, p, cfg.Cycles, log, stderr)
	if err := p.Close(); err != nil && code == 0 {
		fmt.Fprintf(stderr, "stages: %v\n", err)
		code = 1
	}
	<-errsDone

	if cfg.Profile {
		printProfile(stdout, p.ProfileReport())
	}
	return code
}

// definition picks the YAML definition when one is given, the prebuilt
// pipeline otherwise.
func definition(cfg *config.Config) (*config.PipelineDef, error) {
	if cfg.Definition != "" {
		return config.LoadPipeline(cfg.Definition)
	}
	return config.Prebuilt(cfg.Pipeline)
}

func cycle(ctx context.Context, p *stages.Pipeline[units.Item], cycles int, log *zap.Logger, stderr io.Writer) int {
	n, err := p.Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "stages: starting pipeline: %v\n", err)
		return 1
	}
	log.Info("pipeline started", zap.String("id", p.ID()), zap.Int("instances", n))

	for i := 0; i < cycles; i++ {
		if ctx.Err() != nil {
			log.Info("interrupted", zap.Int("cycles", i))
			return 130
		}
		start := time.Now()
		if err := p.Cycle(nil); err != nil {
			fmt.Fprintf(stderr, "stages: cycle %d: %v\n", i, err)
			return 1
		}
		log.Debug("cycle done", zap.Int("cycle", i), zap.Duration("took", time.Since(start)))
	}
	return 0
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}

func printProfile(w io.Writer, report []stages.StageProfile) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tCOUNT\tTOTAL\tMEAN\tMIN\tMAX")
	for _, sp := range report {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", sp.StageID, sp.Count, sp.Total, sp.Mean, sp.Min, sp.Max)
	}
	_ = tw.Flush()
}
