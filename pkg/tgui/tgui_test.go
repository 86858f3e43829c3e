package tgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestBuilderEscapesHTML(t *testing.T) {
	msg := New().
		Title("📋", "Jobs <3").
		KV("text", "a & b").
		Line("<script>").
		Build()

	require.Equal(t, "HTML", msg.Opt.ParseMode)
	require.True(t, msg.Opt.DisablePreview)
	require.Contains(t, msg.Text, "<b>Jobs &lt;3</b>")
	require.Contains(t, msg.Text, "<b>text</b>: a &amp; b")
	require.Contains(t, msg.Text, "&lt;script&gt;")
	require.Empty(t, msg.More)
}

func TestBuilderPages(t *testing.T) {
	msg := New().Line("first").Page().Line("second").Page().Blank().Page().Line("third").Build()
	require.Equal(t, "first", msg.Text)
	require.Equal(t, []string{"second", "third"}, msg.More)
}

func TestCallbackData(t *testing.T) {
	require.Equal(t, "job:cancel:abc", Data("job", "cancel", "abc"))
	require.Equal(t, "panel:home", Data(" panel ", "home", ""))

	_, err := CheckedData("job", "cancel", strings.Repeat("x", 60))
	require.ErrorIs(t, err, ErrCallbackDataTooLong)

	kb := Confirm("jobs", "cancel_all", "", "Yes", "No")
	rm := kb.Markup()
	require.Len(t, rm.InlineKeyboard, 1)
	require.Equal(t, "jobs:cancel_all", rm.InlineKeyboard[0][0].Data)
	require.Equal(t, "jobs:dismiss", rm.InlineKeyboard[0][1].Data)

	grid := Grid2([]tele.Btn{Btn("a", "x:a"), Btn("b", "x:b"), Btn("c", "x:c")})
	require.Len(t, grid.InlineKeyboard, 2)
}

func TestTruncAndPaging(t *testing.T) {
	require.Equal(t, "héll…", TruncRunes("héllo world", 4))
	require.Equal(t, "short", TruncRunes("short", 10))

	items := []int{1, 2, 3, 4, 5}
	sub, _, _, from, to, prev, next := PaginateSlice(items, 1, 2)
	require.Equal(t, []int{3, 4}, sub)
	require.Equal(t, 2, from)
	require.Equal(t, 4, to)
	require.True(t, prev)
	require.True(t, next)

	require.Equal(t, "Page 3/3 • 5-5 of 5", PageLabel(2, 2, 5))
}
