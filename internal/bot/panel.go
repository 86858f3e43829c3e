package bot

import (
	"context"
	"strconv"

	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	"broadcastbot/internal/transport/telegram/router"
	"broadcastbot/pkg/tgui"
)

func (b *Bot) panelMessage() tgui.Message {
	kb := tgui.NewInline().
		Row(tgui.Btn("📋 Groups", tgui.Data("panel", "groups", "")), tgui.Btn("📊 Stats", tgui.Data("panel", "stats", ""))).
		Row(tgui.Btn("📝 New Schedule", tgui.Data("panel", "new", "")), tgui.Btn("🗓 Jobs", tgui.Data("panel", "jobs", ""))).
		Row(tgui.Btn("🚀 Instant Broadcast", tgui.Data("panel", "broadcast", ""))).
		Row(tgui.Btn("❌ Cancel All", tgui.Data("panel", "cancel_all", "")), tgui.Btn("🩺 Status", tgui.Data("panel", "status", ""))).
		Row(tgui.Btn("ℹ️ Help", tgui.Data("panel", "help", "")))
	return tgui.New().Title("⚙️", "Owner Panel").Inline(kb).Build()
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	send := func(render func(ctx context.Context) tgui.Message) router.CallbackHandlerFunc {
		return func(ctx context.Context, req *router.Request, _ string) error {
			_, err := render(ctx).Send(ctx, b.ad, req.Chat)
			return err
		}
	}
	return []router.CallbackRoute{
		{Scope: "panel", Action: "groups", Handle: send(b.groupsMessage)},
		{Scope: "panel", Action: "stats", Handle: send(b.statsMessage)},
		{Scope: "panel", Action: "jobs", Handle: send(func(context.Context) tgui.Message { return b.jobsMessage(0) })},
		{Scope: "panel", Action: "status", Handle: send(func(context.Context) tgui.Message { return b.statusMessage() })},
		{Scope: "panel", Action: "new", Handle: func(ctx context.Context, req *router.Request, _ string) error {
			return b.startWizard(ctx, req)
		}},
		{Scope: "panel", Action: "broadcast", Handle: b.cbBroadcastHint},
		{Scope: "panel", Action: "help", Handle: b.cbHelp},
		{Scope: "panel", Action: "cancel_all", Handle: b.cbCancelAllConfirm},

		{Scope: "jobs", Action: "cancel_all", Handle: b.cbCancelAll},
		{Scope: "jobs", Action: "dismiss", Handle: b.cbDismiss},
		{Scope: "jobs", Action: "page", Handle: b.cbJobsPage},
		{Scope: "job", Action: "cancel", Handle: b.cbCancelJob},

		{Scope: "wiz", Action: "rec", Handle: b.cbWizardRecurrence},
		{Scope: "wiz", Action: "confirm", Handle: b.cbWizardConfirm},
		{Scope: "wiz", Action: "abort", Handle: b.cbWizardAbort},
	}
}

func callbackRef(req *router.Request) kit.MessageRef {
	cb := req.Update.Callback
	return kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
}

func (b *Bot) cbBroadcastHint(ctx context.Context, req *router.Request, _ string) error {
	_, err := req.Reply(ctx, "🚀 Use /broadcast <text>, or reply to a photo, video, document or GIF with /broadcast_media [caption].", nil)
	return err
}

func (b *Bot) cbHelp(ctx context.Context, req *router.Request, _ string) error {
	msg := tgui.New().
		Title("ℹ️", "Help").
		Line("Schedule: " + scheduleUsage).
		Line("Step by step: /newschedule (leave with /abort)").
		Line("Send now: /broadcast, /broadcast_media").
		Line("Manage: /jobs, /cancel <id>, /cancel_all").
		Line("Full list: /help")
	_, err := msg.Build().Send(ctx, b.ad, req.Chat)
	return err
}

func (b *Bot) cbCancelAllConfirm(ctx context.Context, req *router.Request, _ string) error {
	n := len(b.sched.ListJobs())
	if n == 0 {
		_, err := req.Reply(ctx, "Nothing is scheduled.", nil)
		return err
	}
	msg := tgui.New().
		Title("❌", "Cancel all schedules?").
		Line(strconv.Itoa(n) + " scheduled broadcasts will be removed.").
		Inline(tgui.Confirm("jobs", "cancel_all", "", "Yes, cancel all", "Keep")).
		Build()
	_, err := msg.Send(ctx, b.ad, req.Chat)
	return err
}

func (b *Bot) cbCancelAll(ctx context.Context, req *router.Request, _ string) error {
	n, err := b.sched.CancelAll(ctx)
	if err != nil {
		return b.replyErr(ctx, req, err, "")
	}
	b.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ChatID, Action: "cancel_all", OK: n})
	return b.ad.EditText(ctx, callbackRef(req), "✅ All schedules cleared ("+strconv.Itoa(n)+" cancelled).", nil)
}

func (b *Bot) cbDismiss(ctx context.Context, req *router.Request, _ string) error {
	return b.ad.EditText(ctx, callbackRef(req), "👌 Nothing changed.", nil)
}

func (b *Bot) cbJobsPage(ctx context.Context, req *router.Request, payload string) error {
	page, _ := strconv.Atoi(payload)
	return b.jobsMessage(page).Edit(ctx, b.ad, callbackRef(req), req.Chat)
}

func (b *Bot) cbCancelJob(ctx context.Context, req *router.Request, payload string) error {
	if payload == "" {
		return nil
	}
	return b.cancelJob(ctx, req, payload)
}
