package tgui

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "broadcastbot/internal/transport"
)

// Message is a rendered UI payload: text plus send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions

	// More are follow-up messages sent after the first one, each valid HTML
	// on its own.
	More []string
}

// Send sends the Message via the provided adapter.
// ReplyMarkup is only attached to the first message.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	ref, err := ad.SendText(ctx, to, m.Text, m.Opt)
	if err != nil {
		return ref, err
	}

	// Follow-up messages: never attach markup.
	if len(m.More) > 0 {
		opt2 := *m.Opt
		opt2.ReplyMarkupAdapter = nil
		for _, t := range m.More {
			if strings.TrimSpace(t) == "" {
				continue
			}
			if _, e := ad.SendText(ctx, to, t, &opt2); e != nil {
				return ref, e
			}
		}
	}
	return ref, nil
}

// Edit edits the first message referred by ref. If Message has More parts,
// they are sent as new messages after the edit (Telegram cannot edit multiple
// messages at once).
func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef, to kit.ChatTarget) error {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	if err := ad.EditText(ctx, ref, m.Text, m.Opt); err != nil {
		return err
	}
	if len(m.More) > 0 {
		opt2 := *m.Opt
		opt2.ReplyMarkupAdapter = nil
		for _, t := range m.More {
			if strings.TrimSpace(t) == "" {
				continue
			}
			if _, e := ad.SendText(ctx, to, t, &opt2); e != nil {
				return e
			}
		}
	}
	return nil
}

// Builder is the main ergonomic UI builder.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	parseMode      string
	disablePreview bool
	rm             *tele.ReplyMarkup
	lines          []string
	more           []string

	paging bool
	cur    []string
}

// New creates a new builder with sensible defaults for Telegram.
func New() *Builder {
	return &Builder{parseMode: "HTML", disablePreview: true}
}

// ParseMode overrides Telegram parse mode ("HTML", "Markdown", or empty).
func (b *Builder) ParseMode(mode string) *Builder {
	b.parseMode = strings.TrimSpace(mode)
	return b
}

// DisablePreview sets DisableWebPagePreview.
func (b *Builder) DisablePreview(v bool) *Builder {
	b.disablePreview = v
	return b
}

// Inline attaches an inline keyboard.
func (b *Builder) Inline(kb *Inline) *Builder {
	if kb == nil {
		b.rm = nil
		return b
	}
	b.rm = kb.Markup()
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if strings.EqualFold(b.parseMode, "HTML") {
		if e != "" {
			b.add(Esc(e).String() + " " + wrap("b", Esc(t)).String())
		} else {
			b.add(wrap("b", Esc(t)).String())
		}
		return b
	}
	// plain / markdown
	if e != "" {
		b.add(e + " " + t)
	} else {
		b.add(t)
	}
	return b
}

// Section adds a section header.
func (b *Builder) Section(title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if strings.EqualFold(b.parseMode, "HTML") {
		b.add(wrap("b", Esc(t)).String())
		return b
	}
	b.add(t)
	return b
}

// Line adds a single line, escaping when ParseMode is HTML.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.add("")
		return b
	}
	if strings.EqualFold(b.parseMode, "HTML") {
		b.add(Esc(s).String())
	} else {
		b.add(s)
	}
	return b
}

// RawLine appends a line without escaping. Only use if you know what you're doing.
func (b *Builder) RawLine(s string) *Builder {
	b.add(s)
	return b
}

// Blank inserts an empty line.
func (b *Builder) Blank() *Builder { return b.Line("") }

// Bullets adds bullet lines.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		b.Line("• " + it)
	}
	return b
}

// KV adds a "key: value" row with consistent formatting.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return b
	}
	if strings.EqualFold(b.parseMode, "HTML") {
		// bold key, value escaped.
		b.add("• " + wrap("b", Esc(key)).String() + ": " + Esc(value).String())
		return b
	}
	if value == "" {
		b.add("• " + key)
	} else {
		b.add("• " + key + ": " + value)
	}
	return b
}

// Code adds an inline <code>...</code> line when ParseMode is HTML.
// For non-HTML parse modes it falls back to plain text.
func (b *Builder) Code(s string) *Builder {
	s = strings.TrimSpace(s)
	if s == "" {
		return b
	}
	if strings.EqualFold(b.parseMode, "HTML") {
		// Code() already escapes. Use RawLine to avoid double escaping.
		b.add(Code(s).String())
		return b
	}
	b.add(s)
	return b
}

// Pre adds a preformatted block. For very long content, use PreMulti.
func (b *Builder) Pre(code string) *Builder {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return b
	}
	if strings.EqualFold(b.parseMode, "HTML") {
		b.add(Pre(code).String())
		return b
	}
	// Plain text fallback.
	b.add(code)
	return b
}

// Page starts a follow-up message; lines added afterwards go there.
func (b *Builder) Page() *Builder {
	b.flush()
	b.paging = true
	return b
}

func (b *Builder) flush() {
	if !b.paging {
		return
	}
	if t := strings.Trim(strings.Join(b.cur, "\n"), "\n"); t != "" {
		b.more = append(b.more, t)
	}
	b.cur = nil
}

// Build produces a ready-to-send Message.
func (b *Builder) Build() Message {
	b.flush()
	more := append([]string(nil), b.more...)
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")

	opt := &kit.SendOptions{ParseMode: b.parseMode, DisablePreview: b.disablePreview}
	if b.rm != nil {
		opt.ReplyMarkupAdapter = b.rm
	}
	return Message{Text: text, Opt: opt, More: more}
}

func (b *Builder) add(line string) {
	if b.paging {
		b.cur = append(b.cur, line)
		return
	}
	b.lines = append(b.lines, line)
}
