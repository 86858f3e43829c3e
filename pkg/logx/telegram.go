package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	kit "broadcastbot/internal/transport"
)

type telegramItem struct {
	to  kit.ChatTarget
	msg string
}

func (s *Service) startTelegramWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	s.tgCancel = cancel
	s.tgWG.Add(1)
	go func() {
		defer s.tgWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case it := <-s.tgQueue:
				if s.sender == nil {
					continue
				}
				_, _ = s.sender.SendText(ctx, it.to, it.msg, &kit.SendOptions{DisablePreview: true})
			}
		}
	}()
}

// telegramWriter is a zerolog.LevelWriter that never blocks the caller:
// entries over the rate limit or the queue capacity are dropped.
type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	if s == nil {
		return len(p), nil
	}

	s.mu.Lock()
	chatID, threadID, lim, minLevel := s.chatID, s.threadID, s.limiter, s.minLevel
	s.mu.Unlock()

	if chatID == 0 || s.sender == nil || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	msg := formatTelegramJSON(p)
	if msg == "" {
		return len(p), nil
	}

	select {
	case s.tgQueue <- telegramItem{to: kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, msg: msg}:
	default:
	}
	return len(p), nil
}

// formatTelegramJSON renders one zerolog JSON line as "[LEVEL] message" plus
// sorted key=value lines.
func formatTelegramJSON(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), limit))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
