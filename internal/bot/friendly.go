package bot

import (
	"context"
	"errors"
	"fmt"

	"broadcastbot/internal/schedule"
	kit "broadcastbot/internal/transport"
	"broadcastbot/internal/transport/telegram/router"
	logx "broadcastbot/pkg/logx"
	"broadcastbot/pkg/tgui"
)

const scheduleUsage = "/schedule YYYY-MM-DD HH:MM <none|daily|weekly|monthly> message"

// friendly turns an operation error into owner-facing text. Internal error
// strings never reach recipient groups; only owners see this.
func friendly(err error, usage string) string {
	var spec *schedule.SpecError
	var pe *schedule.PersistenceError
	switch {
	case errors.As(err, &spec):
		msg := "⚠️ " + tgui.Esc(spec.Error()).String()
		if usage != "" {
			msg += "\nUsage: " + tgui.Code(usage).String()
		}
		return msg
	case errors.As(err, &pe):
		return fmt.Sprintf("⚠️ Storage is unavailable; the change may not be saved (%s).", tgui.Esc(pe.Op))
	case errors.Is(err, context.DeadlineExceeded):
		return "⚠️ Timed out, try again."
	default:
		return "⚠️ Something went wrong. Check the logs."
	}
}

// replyErr logs err and answers the request with its friendly form.
func (b *Bot) replyErr(ctx context.Context, req *router.Request, err error, usage string) error {
	req.Logger.Warn("command failed", logx.Err(err))
	_, sendErr := req.Reply(ctx, friendly(err, usage), htmlOpt())
	return sendErr
}

func htmlOpt() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
}
