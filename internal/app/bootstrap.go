package app

import (
	"broadcastbot/internal/config"
	"broadcastbot/internal/runtime/supervisor"
	"broadcastbot/internal/transport/telegram/router"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

var SummarizeConfigChange = config.SummarizeConfigChange

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

type SupervisorRegistry = router.SupervisorRegistry

var NewSupervisor = supervisor.NewSupervisor

var NewSupervisorRegistry = router.NewSupervisorRegistry

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError
