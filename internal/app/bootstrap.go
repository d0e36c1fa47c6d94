package app

import (
	"tabsleep/internal/config"
	"tabsleep/internal/runtime/supervisor"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var (
	NewSupervisor     = supervisor.New
	WithLogger        = supervisor.WithLogger
	WithCancelOnError = supervisor.WithCancelOnError
)

var (
	SummarizeConfigChange = config.SummarizeConfigChange
	RestartRequired       = config.RestartRequired
)
