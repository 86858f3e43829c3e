package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"broadcastbot/internal/schedule"
	"broadcastbot/internal/services/broadcast"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	"broadcastbot/internal/transport/telegram/router"
	logx "broadcastbot/pkg/logx"
	"broadcastbot/pkg/tgui"
)

const jobsPageSize = 8

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "start",
			Description: "register this chat and say hello",
			Usage:       "/start",
			Access:      router.AccessEveryone,
			Handle:      b.cmdStart,
		},
		{
			Route:       "panel",
			Description: "owner control panel",
			Usage:       "/panel",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdPanel,
		},
		{
			Route:       "schedule",
			Description: "schedule a broadcast",
			Usage:       scheduleUsage,
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdSchedule,
		},
		{
			Route:       "newschedule",
			Aliases:     []string{"new_schedule"},
			Description: "schedule a broadcast step by step",
			Usage:       "/newschedule",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdNewSchedule,
		},
		{
			Route:       "abort",
			Description: "leave the schedule wizard",
			Usage:       "/abort",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdAbort,
		},
		{
			Route:       "jobs",
			Aliases:     []string{"list"},
			Description: "list scheduled broadcasts",
			Usage:       "/jobs [page]",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdJobs,
		},
		{
			Route:       "cancel",
			Description: "cancel a scheduled broadcast",
			Usage:       "/cancel <id or id prefix>",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdCancel,
		},
		{
			Route:       "cancel all",
			Description: "cancel every scheduled broadcast",
			Usage:       "/cancel_all",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdCancelAll,
		},
		{
			Route:       "broadcast",
			Description: "send a message to every group now",
			Usage:       "/broadcast <text>",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdBroadcast,
		},
		{
			Route:       "broadcast_media",
			Description: "send the replied media to every group now",
			Usage:       "/broadcast_media [caption] (reply to a photo, video, document or GIF)",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdBroadcastMedia,
		},
		{
			Route:       "groups",
			Description: "list recipient groups",
			Usage:       "/groups",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdGroups,
		},
		{
			Route:       "stats",
			Description: "groups, users and scheduled jobs",
			Usage:       "/stats",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdStats,
		},
		{
			Route:       "status",
			Description: "scheduler and delivery status",
			Usage:       "/status",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdStatus,
		},
	}
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	if req.Message != nil && req.Message.IsGroup() {
		_, err := req.Reply(ctx, "🤖 Ready. This group will receive broadcasts.", nil)
		return err
	}
	text := "🤖 Broadcast bot ready."
	if req.IsOwner {
		text += "\nUse /panel for owner controls or /help for commands."
	}
	_, err := req.Reply(ctx, text, nil)
	return err
}

func (b *Bot) cmdPanel(ctx context.Context, req *router.Request) error {
	_, err := b.panelMessage().Send(ctx, b.ad, req.Chat)
	return err
}

// splitFields returns the first n whitespace-separated fields of s and the
// remainder with its line breaks intact.
func splitFields(s string, n int) ([]string, string) {
	out := make([]string, 0, n)
	rest := strings.TrimLeft(s, " \t\r\n")
	for len(out) < n && rest != "" {
		i := strings.IndexAny(rest, " \t\r\n")
		if i < 0 {
			out = append(out, rest)
			rest = ""
			break
		}
		out = append(out, rest[:i])
		rest = strings.TrimLeft(rest[i:], " \t\r\n")
	}
	return out, rest
}

// mediaOf picks the media attached to the command message itself, or to the
// message it replies to.
func mediaOf(m *kit.Message) string {
	if m == nil {
		return ""
	}
	if m.Media != nil {
		return m.Media.Ref()
	}
	if m.ReplyTo != nil && m.ReplyTo.Media != nil {
		return m.ReplyTo.Media.Ref()
	}
	return ""
}

func (b *Bot) cmdSchedule(ctx context.Context, req *router.Request) error {
	fields, text := splitFields(req.Text, 3)
	media := mediaOf(req.Message)
	if text == "" && req.Message != nil && req.Message.ReplyTo != nil {
		text = req.Message.ReplyTo.Text
	}
	if len(fields) < 3 {
		_, err := req.Reply(ctx, "Usage: "+tgui.Code(scheduleUsage).String(), htmlOpt())
		return err
	}

	id, err := b.sched.Schedule(ctx, fields[0]+" "+fields[1], text, media, fields[2], req.FromID)
	if err != nil {
		return b.replyErr(ctx, req, err, scheduleUsage)
	}
	b.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ChatID, Action: "schedule", JobID: id})
	return b.replyScheduled(ctx, req.Chat, id)
}

func (b *Bot) replyScheduled(ctx context.Context, to kit.ChatTarget, id string) error {
	loc := b.sched.Clock().Location()
	msg := tgui.New().Title("✅", "Scheduled").KV("id", id)
	for _, v := range b.sched.ListJobs() {
		if v.ID == id {
			msg.KV("fires at", fmtWhen(v.FireAt, loc)).KV("repeats", string(v.Recurrence))
			break
		}
	}
	_, err := msg.Inline(tgui.NewInline().Row(tgui.Btn("❌ Cancel", tgui.Data("job", "cancel", id)))).
		Build().Send(ctx, b.ad, to)
	return err
}

func (b *Bot) cmdJobs(ctx context.Context, req *router.Request) error {
	page := 0
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 {
			page = n - 1
		}
	}
	_, err := b.jobsMessage(page).Send(ctx, b.ad, req.Chat)
	return err
}

func (b *Bot) jobsMessage(page int) tgui.Message {
	jobs := b.sched.ListJobs()
	loc := b.sched.Clock().Location()
	if len(jobs) == 0 {
		return tgui.New().Title("📋", "No scheduled broadcasts").Build()
	}
	sub, page, size, _, _, hasPrev, hasNext := tgui.PaginateSlice(jobs, page, jobsPageSize)
	msg := tgui.New().Title("📋", "Scheduled broadcasts").Line(tgui.PageLabel(page, size, len(jobs))).Blank()
	kb := tgui.NewInline()
	btns := make([]tele.Btn, 0, len(sub))
	for _, v := range sub {
		msg.RawLine(jobLine(v, loc))
		btns = append(btns, tgui.Btn("❌ "+shortID(v.ID), tgui.Data("job", "cancel", v.ID)))
	}
	for i := 0; i < len(btns); i += 2 {
		end := min(i+2, len(btns))
		kb.Row(btns[i:end]...)
	}
	var nav []tele.Btn
	if hasPrev {
		nav = append(nav, tgui.Btn("◀️ Prev", tgui.Data("jobs", "page", strconv.Itoa(page-1))))
	}
	if hasNext {
		nav = append(nav, tgui.Btn("Next ▶️", tgui.Data("jobs", "page", strconv.Itoa(page+1))))
	}
	if len(nav) > 0 {
		kb.Row(nav...)
	}
	return msg.Inline(kb).Build()
}

var (
	errNoMatch   = errors.New("no job matches")
	errAmbiguous = errors.New("id prefix is ambiguous")
)

// resolveJob finds the armed job whose id equals or uniquely starts with ref.
func (b *Bot) resolveJob(ref string) (string, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return "", errNoMatch
	}
	var hits []string
	for _, v := range b.sched.ListJobs() {
		if v.ID == ref {
			return v.ID, nil
		}
		if strings.HasPrefix(v.ID, ref) {
			hits = append(hits, v.ID)
		}
	}
	switch len(hits) {
	case 0:
		return "", errNoMatch
	case 1:
		return hits[0], nil
	default:
		return "", errAmbiguous
	}
}

func (b *Bot) cmdCancel(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		_, err := req.Reply(ctx, "Usage: /cancel <id or id prefix>  (see /jobs)", nil)
		return err
	}
	id, err := b.resolveJob(req.Args[0])
	switch {
	case errors.Is(err, errNoMatch):
		_, err = req.Reply(ctx, "⚠️ No scheduled job matches that id. See /jobs.", nil)
		return err
	case errors.Is(err, errAmbiguous):
		_, err = req.Reply(ctx, "⚠️ That prefix matches several jobs; use more characters.", nil)
		return err
	}
	return b.cancelJob(ctx, req, id)
}

func (b *Bot) cancelJob(ctx context.Context, req *router.Request, id string) error {
	if err := b.sched.Cancel(ctx, id); err != nil {
		return b.replyErr(ctx, req, err, "")
	}
	b.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ChatID, Action: "cancel", JobID: id})
	_, err := req.Reply(ctx, "🗑 Cancelled "+tgui.Code(shortID(id)).String(), htmlOpt())
	return err
}

func (b *Bot) cmdCancelAll(ctx context.Context, req *router.Request) error {
	n, err := b.sched.CancelAll(ctx)
	if err != nil {
		return b.replyErr(ctx, req, err, "")
	}
	b.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ChatID, Action: "cancel_all", OK: n})
	_, err = req.Reply(ctx, fmt.Sprintf("✅ All schedules cleared (%d cancelled).", n), nil)
	return err
}

func (b *Bot) cmdBroadcast(ctx context.Context, req *router.Request) error {
	text := strings.TrimSpace(req.Text)
	media := ""
	if req.Message != nil && req.Message.Media != nil {
		media = req.Message.Media.Ref()
	}
	if text == "" && media == "" {
		_, err := req.Reply(ctx, "Usage: /broadcast <text>", nil)
		return err
	}
	return b.startBroadcast(ctx, req, broadcast.Payload{Text: text, Media: media}, "broadcast")
}

func (b *Bot) cmdBroadcastMedia(ctx context.Context, req *router.Request) error {
	media := mediaOf(req.Message)
	if media == "" {
		_, err := req.Reply(ctx, "Reply to a photo, video, document or GIF with /broadcast_media [caption].", nil)
		return err
	}
	caption := strings.TrimSpace(req.Text)
	if caption == "" && req.Message.ReplyTo != nil {
		caption = req.Message.ReplyTo.Text
	}
	return b.startBroadcast(ctx, req, broadcast.Payload{Text: caption, Media: media}, "broadcast_media")
}

// startBroadcast delivers payload to every group in the background and
// reports the outcome to the requesting chat.
func (b *Bot) startBroadcast(ctx context.Context, req *router.Request, payload broadcast.Payload, action string) error {
	ids, err := b.store.GroupIDs(ctx)
	if err != nil {
		return b.replyErr(ctx, req, &schedule.PersistenceError{Op: "list groups", Err: err}, "")
	}
	if len(ids) == 0 {
		_, err := req.Reply(ctx, "No groups registered yet. Add the bot to a group first.", nil)
		return err
	}
	if _, err := req.Reply(ctx, fmt.Sprintf("🚀 Broadcasting to %d groups…", len(ids)), nil); err != nil {
		req.Logger.Warn("broadcast ack failed", logx.Err(err))
	}

	chat, from, log := req.Chat, req.FromID, req.Logger
	b.goBackground(func(bg context.Context) {
		rep := b.bc.Dispatch(bg, broadcast.Request{Recipients: ids, Payload: payload})
		for _, id := range rep.Permanent() {
			if err := b.RemoveGroup(bg, id); err != nil {
				log.Warn("prune failed", logx.Int64("chat_id", id), logx.Err(err))
			}
		}
		log.Info("instant broadcast finished",
			logx.Int("attempted", rep.Attempted),
			logx.Int("succeeded", rep.Succeeded),
			logx.Int("failed", len(rep.Failed)))
		if _, err := b.ad.SendText(bg, chat, "📣 Broadcast finished: "+reportLine(rep), nil); err != nil {
			log.Warn("broadcast summary failed", logx.Err(err))
		}
		b.audit(bg, storage.AuditEntry{
			ActorID: from, ChatID: chat.ChatID, Action: action,
			OK: rep.Succeeded, Fail: len(rep.Failed), TookMS: rep.Took().Milliseconds(),
		})
	})
	return nil
}

func (b *Bot) cmdGroups(ctx context.Context, req *router.Request) error {
	_, err := b.groupsMessage(ctx).Send(ctx, b.ad, req.Chat)
	return err
}

func (b *Bot) groupsMessage(ctx context.Context) tgui.Message {
	groups, err := b.store.ListGroups(ctx)
	if err != nil {
		b.log.Warn("list groups failed", logx.Err(err))
		return tgui.New().RawLine(friendly(&schedule.PersistenceError{Op: "list groups", Err: err}, "")).Build()
	}
	if len(groups) == 0 {
		return tgui.New().Title("📋", "Groups").Line("None yet.").Build()
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].AddedAt.Before(groups[j].AddedAt) })
	msg := tgui.New().Title("📋", fmt.Sprintf("Groups (%d)", len(groups)))
	for i, g := range groups {
		// Telegram messages are capped; a long registry is cut with a count.
		if i == 50 {
			msg.Line(fmt.Sprintf("… and %d more", len(groups)-i))
			break
		}
		title := g.Title
		if title == "" {
			title = "(untitled)"
		}
		msg.RawLine("• " + tgui.Code(strconv.FormatInt(g.ChatID, 10)).String() + " " + tgui.Esc(tgui.TruncRunes(title, 40)).String())
	}
	return msg.Build()
}

func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	_, err := b.statsMessage(ctx).Send(ctx, b.ad, req.Chat)
	return err
}

func (b *Bot) statsMessage(ctx context.Context) tgui.Message {
	groups, gerr := b.store.GroupIDs(ctx)
	users, uerr := b.store.CountUsers(ctx)
	if err := errors.Join(gerr, uerr); err != nil {
		b.log.Warn("stats query failed", logx.Err(err))
		return tgui.New().RawLine(friendly(&schedule.PersistenceError{Op: "stats", Err: err}, "")).Build()
	}
	return tgui.New().
		Title("📊", "Stats").
		KV("groups", strconv.Itoa(len(groups))).
		KV("users", strconv.Itoa(users)).
		KV("schedules", strconv.Itoa(len(b.sched.ListJobs()))).
		Build()
}

func (b *Bot) cmdStatus(ctx context.Context, req *router.Request) error {
	_, err := b.statusMessage().Send(ctx, b.ad, req.Chat)
	return err
}

func (b *Bot) statusMessage() tgui.Message {
	snap := b.sched.Snapshot()
	loc := b.sched.Clock().Location()
	state := "stopped"
	if snap.Running {
		state = "running"
	}
	if snap.Running && !snap.Restored {
		state = "running (restore pending)"
	}

	msg := tgui.New().
		Title("🩺", "Status").
		KV("uptime", durRel(time.Since(b.startedAt))).
		KV("scheduler", state).
		KV("timezone", snap.Timezone).
		KV("tick", snap.TickInterval.String()).
		KV("armed", strconv.Itoa(snap.Armed)).
		KV("firing", strconv.Itoa(snap.Firing)).
		KV("ticks", strconv.FormatUint(snap.Ticks, 10))
	if !snap.NextFireAt.IsZero() {
		msg.KV("next", shortID(snap.NextJobID)+" at "+fmtWhen(snap.NextFireAt, loc))
	}
	if snap.Maintenance != "" {
		msg.KV("maintenance", snap.Maintenance+", next "+fmtWhen(snap.MaintenanceNext, loc))
	}

	if recent := b.bc.Recent(5); len(recent) > 0 {
		msg.Blank().Section("Recent deliveries")
		for _, r := range recent {
			label := "instant"
			if r.JobID != "" {
				label = shortID(r.JobID)
			}
			msg.Line(fmtWhen(r.StartedAt, loc) + " " + label + ": " + reportLine(r))
		}
	}

	if sups := b.sups.Snapshot(); len(sups) > 0 {
		names := make([]string, 0, len(sups))
		for name := range sups {
			names = append(names, name)
		}
		sort.Strings(names)
		msg.Blank().Section("Workers")
		for _, name := range names {
			s := sups[name].Snapshot()
			line := fmt.Sprintf("%s: %d active", name, s.Active)
			if s.FirstError != "" {
				line += ", error: " + tgui.TruncRunes(s.FirstError, 60)
			}
			msg.Line(line)
		}
	}
	return msg.Build()
}
