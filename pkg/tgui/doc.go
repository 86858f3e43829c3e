// Package tgui holds small Telegram UI helpers used by the bot's command
// handlers: inline keyboards, "scope:action:payload" callback data and an
// HTML message builder that escapes by default.
package tgui
