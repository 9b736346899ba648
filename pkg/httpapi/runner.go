package httpapi

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
	"github.com/core-tools/hsu-shuriken-go/pkg/manager"
)

// RunOptions selects the configuration for a standalone API daemon.
// Root and Port override the loaded configuration when set.
type RunOptions struct {
	ConfigFile string
	Root       string
	Port       int
}

// Run loads the tool configuration, builds the manager and serves the
// HTTP API until a shutdown signal arrives or /api/stop is called.
func Run(opts RunOptions, logger logging.Logger) error {
	logger.Infof("Shuriken API daemon starting...")
	logger.Infof("Platform: OS=%s, Arch=%s, CPUs=%d, Go=%s",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())

	config, err := loadConfig(opts.ConfigFile, logger)
	if err != nil {
		return err
	}
	if opts.Root != "" {
		config.Manager.Root = opts.Root
	}
	if opts.Port > 0 {
		config.Manager.HTTPPort = opts.Port
	}
	if err := manager.ValidateConfig(config); err != nil {
		return err
	}

	mgr, err := manager.NewManager(manager.ManagerOptions{
		Root:            config.Manager.Root,
		GracefulTimeout: config.Manager.StopTimeout,
	}, logger)
	if err != nil {
		return err
	}

	server, err := NewServer(mgr, config.Manager.HTTPPort, logger)
	if err != nil {
		return err
	}
	if err := server.Start(context.Background()); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	logger.Infof("Shuriken API daemon is ready")

	select {
	case received := <-sig:
		logger.Infof("Shuriken API daemon received signal: %v", received)
	case <-server.Done():
		logger.Infof("Shuriken API daemon shutdown requested over HTTP")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return err
	}

	logger.Infof("Shuriken API daemon stopped")
	return nil
}

func loadConfig(configFile string, logger logging.Logger) (*manager.Config, error) {
	if configFile == "" {
		config, err := manager.DefaultConfig()
		if err != nil {
			return nil, err
		}
		logger.Infof("Using default configuration, root: %s", config.Manager.Root)
		return config, nil
	}

	config, err := manager.LoadConfigFromFile(configFile)
	if err != nil {
		return nil, errors.NewIOError("failed to load configuration", err).
			WithContext("config_file", configFile)
	}
	logger.Infof("Configuration loaded from %s", configFile)
	return config, nil
}
