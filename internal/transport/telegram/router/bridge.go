package router

import "broadcastbot/internal/runtime/supervisor"

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.NewSupervisor

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

type RestartOption = supervisor.RestartOption

var WithRestartBackoff = supervisor.WithRestartBackoff

var WithPublishFirstError = supervisor.WithPublishFirstError

var WithStopOnCleanExit = supervisor.WithStopOnCleanExit
