package bot

import (
	"context"
	"strings"
	"time"

	"broadcastbot/internal/schedule"
	"broadcastbot/internal/services/scheduler"
	"broadcastbot/internal/session"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	"broadcastbot/internal/transport/telegram/router"
	logx "broadcastbot/pkg/logx"
	"broadcastbot/pkg/tgui"
)

type WizardStep int

const (
	StepWhen WizardStep = iota
	StepRecurrence
	StepContent
	StepConfirm
)

// Wizard is the state of one /newschedule conversation.
type Wizard struct {
	Step       WizardStep
	FireAt     time.Time
	WallTime   string
	Recurrence schedule.Recurrence
	Text       string
	Media      string
}

func (b *Bot) cmdNewSchedule(ctx context.Context, req *router.Request) error {
	return b.startWizard(ctx, req)
}

func (b *Bot) startWizard(ctx context.Context, req *router.Request) error {
	if req.Message != nil && req.Message.IsGroup() {
		_, err := req.Reply(ctx, "Open a private chat with me to use the wizard.", nil)
		return err
	}
	b.sessions.Put(sessionKey(req.Chat.ChatID, req.FromID), &Wizard{Step: StepWhen})
	loc := b.sched.Clock().Location()
	msg := tgui.New().
		Title("📝", "New schedule (1/4)").
		Line("When should it go out? Send YYYY-MM-DD HH:MM").
		RawLine("Timezone: " + tgui.Code(loc.String()).String() + ", now " + tgui.Esc(fmtWhen(time.Now(), loc)).String()).
		Line("Send /abort to leave.")
	_, err := msg.Build().Send(ctx, b.ad, req.Chat)
	return err
}

func (b *Bot) cmdAbort(ctx context.Context, req *router.Request) error {
	text := "Nothing to abort."
	if b.sessions.Delete(sessionKey(req.Chat.ChatID, req.FromID)) {
		text = "👌 Wizard closed, nothing was scheduled."
	}
	_, err := req.Reply(ctx, text, nil)
	return err
}

// Fallback handles non-command messages: it advances a running wizard and
// ignores everything else.
func (b *Bot) Fallback(ctx context.Context, req *router.Request) error {
	if req.Message == nil || req.Message.ChatKind != kit.ChatPrivate || !req.IsOwner {
		return nil
	}
	key := sessionKey(req.Chat.ChatID, req.FromID)
	w, ok := b.sessions.Get(key)
	if !ok {
		return nil
	}
	input := strings.TrimSpace(req.Text)

	switch w.Step {
	case StepWhen:
		at, wall, err := b.sched.Clock().ParseFireAtWall(input)
		if err != nil {
			return b.replyErr(ctx, req, err, "YYYY-MM-DD HH:MM")
		}
		w.FireAt, w.WallTime = at, wall
		w.Step = StepRecurrence
		b.sessions.Put(key, w)
		return b.askRecurrence(ctx, req.Chat, at)

	case StepRecurrence:
		rec, err := schedule.ParseRecurrence(input)
		if err != nil {
			return b.replyErr(ctx, req, err, "none, daily, weekly or monthly")
		}
		return b.setRecurrence(ctx, req.Chat, key, w, rec)

	case StepContent:
		w.Text = input
		if req.Message.Media != nil {
			w.Media = req.Message.Media.Ref()
		}
		if w.Text == "" && w.Media == "" {
			_, err := req.Reply(ctx, "Send some text, or a photo, video, document or GIF with an optional caption.", nil)
			return err
		}
		w.Step = StepConfirm
		b.sessions.Put(key, w)
		return b.askConfirm(ctx, req.Chat, w)

	case StepConfirm:
		switch strings.ToLower(input) {
		case "yes", "y", "ok", "confirm":
			return b.finishWizard(ctx, req, key, w)
		case "no", "n", "abort", "cancel":
			b.sessions.Delete(key)
			_, err := req.Reply(ctx, "👌 Wizard closed, nothing was scheduled.", nil)
			return err
		}
		_, err := req.Reply(ctx, "Reply yes to schedule or no to discard.", nil)
		return err
	}
	return nil
}

func (b *Bot) askRecurrence(ctx context.Context, to kit.ChatTarget, at time.Time) error {
	kb := tgui.NewInline().
		Row(tgui.Btn("Once", tgui.Data("wiz", "rec", string(schedule.RecurNone))), tgui.Btn("Daily", tgui.Data("wiz", "rec", string(schedule.RecurDaily)))).
		Row(tgui.Btn("Weekly", tgui.Data("wiz", "rec", string(schedule.RecurWeekly))), tgui.Btn("Monthly", tgui.Data("wiz", "rec", string(schedule.RecurMonthly)))).
		Row(tgui.Btn("✖️ Abort", tgui.Data("wiz", "abort", "")))
	msg := tgui.New().
		Title("📝", "New schedule (2/4)").
		KV("fires at", fmtWhen(at, b.sched.Clock().Location())).
		Line("Repeat? Tap a button or send none, daily, weekly or monthly.").
		Inline(kb)
	_, err := msg.Build().Send(ctx, b.ad, to)
	return err
}

func (b *Bot) setRecurrence(ctx context.Context, to kit.ChatTarget, key session.Key, w *Wizard, rec schedule.Recurrence) error {
	w.Recurrence = rec
	w.Step = StepContent
	b.sessions.Put(key, w)
	msg := tgui.New().
		Title("📝", "New schedule (3/4)").
		Line("Now send the message. Text, or a photo, video, document or GIF with a caption.")
	_, err := msg.Build().Send(ctx, b.ad, to)
	return err
}

func (b *Bot) askConfirm(ctx context.Context, to kit.ChatTarget, w *Wizard) error {
	preview := schedule.Job{Text: w.Text, Media: w.Media}.Summary(200)
	kb := tgui.NewInline().Row(
		tgui.Btn("✅ Schedule", tgui.Data("wiz", "confirm", "")),
		tgui.Btn("✖️ Abort", tgui.Data("wiz", "abort", "")),
	)
	msg := tgui.New().
		Title("📝", "New schedule (4/4)").
		KV("fires at", fmtWhen(w.FireAt, b.sched.Clock().Location())).
		KV("repeats", string(w.Recurrence)).
		KV("media", yesNo(w.Media != "")).
		Line(preview).
		Line("Schedule it? Tap a button or reply yes / no.").
		Inline(kb)
	_, err := msg.Build().Send(ctx, b.ad, to)
	return err
}

func (b *Bot) finishWizard(ctx context.Context, req *router.Request, key session.Key, w *Wizard) error {
	id, err := b.sched.Add(ctx, scheduler.Draft{
		FireAt:     w.FireAt,
		WallTime:   w.WallTime,
		Recurrence: w.Recurrence,
		Text:       w.Text,
		Media:      w.Media,
		CreatedBy:  req.FromID,
	})
	if err != nil {
		// Keep the session so the owner can retry the confirmation.
		return b.replyErr(ctx, req, err, "")
	}
	b.sessions.Delete(key)
	req.Logger.Info("wizard scheduled job", logx.String("job", id))
	b.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ChatID, Action: "schedule", JobID: id})
	return b.replyScheduled(ctx, req.Chat, id)
}

// wizardFor loads the wizard for a callback and checks it is at step.
func (b *Bot) wizardFor(ctx context.Context, req *router.Request, step WizardStep) (session.Key, *Wizard, bool) {
	key := sessionKey(req.Chat.ChatID, req.FromID)
	w, ok := b.sessions.Get(key)
	if !ok || w.Step != step {
		_, _ = req.Reply(ctx, "That wizard has expired. Start again with /newschedule.", nil)
		return key, nil, false
	}
	return key, w, true
}

func (b *Bot) cbWizardRecurrence(ctx context.Context, req *router.Request, payload string) error {
	key, w, ok := b.wizardFor(ctx, req, StepRecurrence)
	if !ok {
		return nil
	}
	rec, err := schedule.ParseRecurrence(payload)
	if err != nil {
		return b.replyErr(ctx, req, err, "")
	}
	return b.setRecurrence(ctx, req.Chat, key, w, rec)
}

func (b *Bot) cbWizardConfirm(ctx context.Context, req *router.Request, _ string) error {
	key, w, ok := b.wizardFor(ctx, req, StepConfirm)
	if !ok {
		return nil
	}
	return b.finishWizard(ctx, req, key, w)
}

func (b *Bot) cbWizardAbort(ctx context.Context, req *router.Request, _ string) error {
	b.sessions.Delete(sessionKey(req.Chat.ChatID, req.FromID))
	return b.ad.EditText(ctx, callbackRef(req), "👌 Wizard closed, nothing was scheduled.", nil)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
