package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/posservice/posd/internal/compute"
	"github.com/posservice/posd/internal/config"
	"github.com/posservice/posd/internal/logging"
	"github.com/posservice/posd/internal/provider"
	"github.com/posservice/posd/internal/rpc"
	"github.com/posservice/posd/internal/scheduler"
	"github.com/posservice/posd/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the PoS data generation service",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = "config.yaml"
	}
	file, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := file.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	domainCfg, err := file.DomainConfig()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New("info")

	adapter := compute.NewScryptProvider(defaultFleet())
	registry, err := provider.Build(adapter, file.UseCPUProviders)
	if err != nil {
		return fmt.Errorf("build provider registry: %w", err)
	}
	if registry.Len() == 0 {
		return fmt.Errorf("no compute providers available (use_cpu_providers=%v)", file.UseCPUProviders)
	}
	pool := provider.NewPool(registry.IDs())

	sched := scheduler.New(adapter, pool, registry.All(), domainCfg, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)

	server := rpc.NewServer(sched, logger)
	httpSrv := &http.Server{Addr: file.Addr(), Handler: server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", file.Addr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		// Workers only observe abort requests between cycles (spec.md §9),
		// so shutdown waits for whichever cycle is currently in flight
		// rather than killing it outright.
		_ = sched.Wait()
		return nil
	case err := <-errCh:
		return fmt.Errorf("rpc server: %w", err)
	}
}

// defaultFleet is the synthetic provider set enumerated at startup. A real
// deployment would enumerate actual CUDA/Vulkan/CPU hardware here; that
// enumeration is the one piece spec.md §1 explicitly leaves external to
// the core.
func defaultFleet() []types.Provider {
	return []types.Provider{
		{ID: 0, Model: "cpu0", Class: types.ClassCPU},
		{ID: 1, Model: "cuda0", Class: types.ClassCUDA},
		{ID: 2, Model: "cuda1", Class: types.ClassCUDA},
	}
}
