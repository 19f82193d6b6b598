//go:build no_mqtt

package main

import (
	"log/slog"

	"dynaudio-go-home/internal/amp"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *amp.Manager, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
