// Command valuation is a demo/integration entrypoint wiring the model
// registry through the result shaper into a single run_valuation call
// against a toy loan package, the way the teacher's cmd/ binaries wire a
// service's layers end to end for local smoke testing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wyfcoding/mortgage-kernel/async"
	"github.com/wyfcoding/mortgage-kernel/cache"
	"github.com/wyfcoding/mortgage-kernel/config"
	"github.com/wyfcoding/mortgage-kernel/internal/kernel"
	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/registry"
	"github.com/wyfcoding/mortgage-kernel/logging"
	"github.com/wyfcoding/mortgage-kernel/metrics"
	"github.com/wyfcoding/mortgage-kernel/retry"
	"github.com/wyfcoding/mortgage-kernel/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file; defaults built in when omitted")
	packagePath := flag.String("package", "", "path to a JSON loan package; a single sample loan is used when omitted")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		if err := config.Load(*configPath, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, "load config:", err)
			os.Exit(1)
		}
	}

	logger := logging.NewFromConfig(logging.Config{
		Service: cfg.Server.Name, Module: "valuation",
		Level: cfg.Log.Level, File: cfg.Log.File,
		MaxSize: cfg.Log.MaxSize, MaxBackups: cfg.Log.MaxBackups, MaxAge: cfg.Log.MaxAge, Compress: cfg.Log.Compress,
		Remote: logging.RemoteConfig(cfg.Log.Remote),
	})
	defer logger.Close()

	m := metrics.NewMetrics(cfg.Server.Name)
	m.RegisterBuildInfo(cfg.Server.Name, cfg.Version)
	if cfg.Metrics.Enabled {
		stopMetrics := m.ExposeHttp(cfg.Metrics.Addr)
		defer stopMetrics()
	}

	// The model registry load (artifact directory walk + JSON parse) and the
	// hazard cache construction are independent; run the registry load on
	// async.Future while the cache is built on this goroutine, then join.
	managerFuture := async.NewFuture(func(_ context.Context) (*registry.Manager, error) {
		return registry.NewManager(cfg.Model.ArtifactRoot, cfg.Model.CurveVariant)
	})

	kernelOpts := []kernel.Option{kernel.WithLogger(logger)}
	hc, cacheErr := cache.NewBigCache(cfg.Cache.TTL, cfg.Cache.MaxSizeMB)
	if cacheErr != nil {
		logger.Error("init hazard cache, proceeding without memoization", "error", cacheErr)
	} else {
		defer hc.Close()
		kernelOpts = append(kernelOpts, kernel.WithHazardCache(hc))
	}

	manager, err := managerFuture.Get(context.Background())
	if err != nil {
		logger.Error("load model registry", "error", err)
		os.Exit(1)
	}

	k := kernel.New(manager, cfg.Valuation.WorkerPoolSize, m, kernelOpts...)
	defer k.Close()

	var stopReload func()
	if cfg.Model.WatchForReload {
		stopReload = startReloadJob(logger, k, cfg, m)
		defer stopReload()
	}

	pkg, err := loadPackage(*packagePath)
	if err != nil {
		logger.Error("load loan package", "error", err)
		os.Exit(1)
	}

	simCfg := loan.SimulationConfig{
		Draws:        cfg.Valuation.DefaultDraws,
		DiscountRate: cfg.Valuation.DiscountRate,
		Sigma:        cfg.Valuation.ShockSigma,
		Rho:          cfg.Valuation.ShockRho,
		SeasoningRampR: cfg.Valuation.SeasoningRampMonths,
		PrepaySource: loan.PrepaySourceKMWithFlatDefault,
		FlatCDR:      0.02,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Valuation.ValuationTimeout)
	defer cancel()

	result, err := k.RunValuation(ctx, pkg, simCfg)
	if err != nil {
		logger.Error("run valuation", "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

// startReloadJob periodically triggers Kernel.Reload at cfg.Model.ReloadInterval
// through the shared scheduler, the same job runner background artifact
// sweeps and cache eviction would use.
func startReloadJob(logger *logging.Logger, k *kernel.Kernel, cfg config.Config, m *metrics.Metrics) func() {
	sched := scheduler.NewSchedulerWithMetrics(logger, m)
	err := sched.AddJob(scheduler.JobConfig{
		Name:        "registry-reload",
		Interval:    cfg.Model.ReloadInterval,
		Timeout:     30 * time.Second,
		RetryConfig: retry.DefaultRetryConfig(),
		Enabled:     true,
	}, func(ctx context.Context) error {
		if err := k.Reload(cfg.Model.ArtifactRoot, cfg.Model.CurveVariant); err != nil {
			return err
		}
		logger.Info("registry reloaded", "artifact_root", cfg.Model.ArtifactRoot)
		return nil
	})
	if err != nil {
		logger.Error("schedule registry reload job", "error", err)
		return func() {}
	}

	sched.Start(context.Background())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sched.Stop(ctx); err != nil {
			logger.Error("stop scheduler", "error", err)
		}
	}
}

func loadPackage(path string) (loan.Package, error) {
	if path == "" {
		return samplePackage(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return loan.Package{}, err
	}
	var pkg loan.Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return loan.Package{}, err
	}
	return pkg, nil
}

func samplePackage() loan.Package {
	return loan.Package{
		ID: "demo-pool",
		Loans: []loan.Loan{
			{
				ID: "demo-1", UPB: 250000, NoteRate: 0.065,
				OriginalTerm: 360, RemainingTerm: 300, AgeMonths: 60,
				CreditScore: 712, LTV: 0.78, PropertyValue: 320000,
			},
		},
	}
}
