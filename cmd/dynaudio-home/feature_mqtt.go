//go:build !no_mqtt

package main

import (
	"log/slog"

	"dynaudio-go-home/internal/amp"
	mqttbridge "dynaudio-go-home/internal/mqtt"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(devices *amp.Manager, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	bridge, err := mqttbridge.NewBridge(devices, mqttbridge.Config{
		Broker:          cfg.MQTT.Broker,
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		Retired:         cfg.MQTT.Retired,
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	bridge.Start()
	return &mqttStopper{bridge: bridge}
}
