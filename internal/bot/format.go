package bot

import (
	"fmt"
	"strings"
	"time"

	"broadcastbot/internal/schedule"
	"broadcastbot/internal/services/broadcast"
	"broadcastbot/internal/services/scheduler"
	"broadcastbot/internal/session"
	"broadcastbot/pkg/tgui"
)

const timeLayout = "2006-01-02 15:04 MST"

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fmtWhen(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(timeLayout)
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
}

// reportLine is the one-line delivery outcome shown to owners.
func reportLine(rep broadcast.Report) string {
	line := fmt.Sprintf("%d/%d delivered", rep.Succeeded, rep.Attempted)
	if n := len(rep.Failed); n > 0 {
		line += fmt.Sprintf(", %d failed", n)
		if p := len(rep.Permanent()); p > 0 {
			line += fmt.Sprintf(" (%d removed)", p)
		}
	}
	return line + " in " + rep.Took().Round(time.Millisecond).String()
}

func jobLine(v scheduler.JobView, loc *time.Location) string {
	parts := []string{
		tgui.Code(shortID(v.ID)).String(),
		tgui.Esc(fmtWhen(v.FireAt, loc)).String(),
	}
	if v.Recurrence.Recurring() {
		parts = append(parts, tgui.I(string(v.Recurrence)).String())
	}
	if v.Status != "" && v.Status != schedule.StatusPending {
		parts = append(parts, "["+tgui.Esc(string(v.Status)).String()+"]")
	}
	summary := v.Summary
	if v.HasMedia && v.Summary != "" && !strings.HasPrefix(v.Summary, "[") {
		summary = "📎 " + summary
	}
	return strings.Join(parts, " ") + "\n   " + tgui.Esc(tgui.TruncRunes(summary, 60)).String()
}

func sessionKey(chatID, userID int64) session.Key {
	return session.Key{ChatID: chatID, UserID: userID}
}
