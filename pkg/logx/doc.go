// Package logx is the structured logging layer of broadcastbot.
//
// A small wrapper (logx.Logger) sits on top of zerolog so that:
//   - console output stays readable (short timestamp and caller)
//   - the file sink is JSON and rotated by lumberjack
//   - an optional Telegram sink forwards warnings to an ops chat, rate limited
package logx
