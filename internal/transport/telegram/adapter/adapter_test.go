package adapter

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "broadcastbot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	if got := splitTelegramText("hello", 10, ""); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("short text should stay whole: %q", got)
	}

	lines := strings.Repeat("abcdefghi\n", 10) // 100 runes
	chunks := splitTelegramText(lines, 35, "")
	for _, c := range chunks {
		if len([]rune(c)) > 35 {
			t.Fatalf("chunk too long: %d", len([]rune(c)))
		}
		if strings.HasSuffix(c, "\n") || strings.HasPrefix(c, "\n") {
			t.Fatalf("chunk keeps boundary newline: %q", c)
		}
	}
	if strings.Join(chunks, "\n") != strings.TrimRight(lines, "\n") {
		t.Fatalf("newline split lost content")
	}

	html := strings.Repeat("x", 18) + "<b>bold</b>"
	got := splitTelegramText(html, 20, "HTML")
	if got[0] != strings.Repeat("x", 18) {
		t.Fatalf("html split cut inside a tag: %q", got)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		perm bool
	}{
		{"kicked", tele.ErrKickedFromGroup, true},
		{"blocked", tele.ErrBlockedByUser, true},
		{"chat not found", tele.ErrChatNotFound, true},
		{"migrated", tele.ErrGroupMigrated, true},
		{"wrapped forbidden", fmt.Errorf("send: %w", tele.NewError(403, "Forbidden: bot is not a member of the channel chat")), true},
		{"too many requests", tele.NewError(429, "Too Many Requests: retry after 5"), false},
		{"network", errors.New("dial tcp: i/o timeout"), false},
	}
	for _, tc := range cases {
		if got := kit.IsPermanent(classify(tc.err)); got != tc.perm {
			t.Fatalf("%s: permanent=%v want %v", tc.name, got, tc.perm)
		}
	}
	if classify(nil) != nil {
		t.Fatalf("nil stays nil")
	}
}
