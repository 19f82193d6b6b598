//go:build no_automation

package main

import (
	"log/slog"

	"dynaudio-go-home/internal/amp"
	"dynaudio-go-home/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *amp.Manager, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
