package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JonMunkholm/lacvalidator/internal/bridge"
	"github.com/JonMunkholm/lacvalidator/internal/config"
	"github.com/JonMunkholm/lacvalidator/internal/core"
	"github.com/JonMunkholm/lacvalidator/internal/export"
	"github.com/JonMunkholm/lacvalidator/internal/logging"
	"github.com/JonMunkholm/lacvalidator/internal/runtime"
	"github.com/JonMunkholm/lacvalidator/internal/storage"
	"github.com/JonMunkholm/lacvalidator/internal/telemetry"
)

// loadConfig loads configuration and sets up logging to logs.
func loadConfig(logs io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.SetupWriter(logs, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func newCapturer(cfg *config.Config) telemetry.Capturer {
	if !cfg.Telemetry.Enabled {
		return telemetry.Nop{}
	}
	return telemetry.NewLogCapturer(cfg.Telemetry.Environment, cfg.Runtime.RuleEngineRelease)
}

// newWorker wires the runtime host, orchestrator and exporter behind a
// bridge worker. The caller owns the returned host.
func newWorker(cfg *config.Config) (*bridge.Worker, *runtime.Host, error) {
	plan, err := runtime.PlanFromConfig(cfg.Runtime)
	if err != nil {
		return nil, nil, err
	}

	launcher := runtime.Launcher{
		Interpreter:    cfg.Runtime.Interpreter,
		ContainerImage: cfg.Runtime.ContainerImage,
	}
	launcher.Probe(runtime.OsCommandExecutor{})

	store, err := storage.New(cfg.Export)
	if err != nil {
		return nil, nil, fmt.Errorf("export storage: %w", err)
	}

	capturer := newCapturer(cfg)
	host := runtime.NewHost(plan, launcher.Start)
	orchestrator := core.NewOrchestrator(host, capturer)
	exporter := export.New(host, store, capturer)

	return bridge.NewWorker(host, orchestrator, exporter), host, nil
}

// newClient returns a bridge client whose worker runs in-process or as a
// child process, per BRIDGE_WORKER_MODE. closeFn stops the worker.
func newClient(cfg *config.Config) (*bridge.Client, func(), error) {
	var (
		spawn bridge.Spawner
		host  *runtime.Host
	)

	switch strings.ToLower(cfg.Bridge.Mode) {
	case "subprocess":
		exe, err := os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("locate executable: %w", err)
		}
		spawn = bridge.Subprocess(exe, "worker")
	default:
		worker, h, err := newWorker(cfg)
		if err != nil {
			return nil, nil, err
		}
		spawn = bridge.InProcess(worker)
		host = h
	}

	client := bridge.NewClient(spawn, bridge.WithCallTimeout(cfg.Bridge.CallTimeout))
	closeFn := func() {
		_ = client.Close()
		if host != nil {
			_ = host.Close()
		}
	}
	return client, closeFn, nil
}
