//go:build !no_automation

package main

import (
	"log/slog"

	"dynaudio-go-home/internal/amp"
	"dynaudio-go-home/internal/automation"
	"dynaudio-go-home/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(devices *amp.Manager, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(devices, scriptMgr, logger)
	engine.Start()

	return &autoStopper{engine: engine}, []web.ServerOption{
		web.WithAutomation(engine, scriptMgr),
	}
}
