package adapter

import (
	"context"
	"fmt"
	"hash/fnv"

	tele "gopkg.in/telebot.v4"

	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

// captionLimit is Telegram's cap for media captions.
const captionLimit = 1024

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	if withMarkup {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
			so.ReplyMarkup = rm
		}
	}
	return so
}

// SendText delivers text in as many chunks as needed; markup rides on the first.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(to, opt, i == 0))
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendMedia re-sends an already uploaded file by id. Captions longer than
// Telegram allows are sent as a follow-up text message.
func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, media kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	rest := ""
	if rs := []rune(caption); len(rs) > captionLimit {
		caption, rest = "", string(rs)
	}

	file := tele.File{FileID: media.FileID}
	var what tele.Sendable
	switch media.Kind {
	case kit.MediaPhoto:
		what = &tele.Photo{File: file, Caption: caption}
	case kit.MediaVideo:
		what = &tele.Video{File: file, Caption: caption}
	case kit.MediaAnimation:
		what = &tele.Animation{File: file, Caption: caption}
	case kit.MediaDocument:
		what = &tele.Document{File: file, Caption: caption}
	default:
		return kit.MessageRef{}, kit.Permanent(fmt.Errorf("%w: kind %q", kit.ErrBadMediaRef, media.Kind))
	}

	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptions(to, opt, true))
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
	if rest != "" {
		if _, err := a.SendText(ctx, to, rest, opt); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	to := kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(to, opt, true)); err != nil {
		return classify(err)
	}

	chat := &tele.Chat{ID: ref.ChatID}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, sendOptions(to, opt, false)); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands publishes the command menu, skipping the call when nothing changed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		list = append(list, tele.Command{Text: c.Command, Description: d})
		if len(list) >= 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
