package bot

import (
	"context"
	"time"

	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

const trackTimeout = 3 * time.Second

func isRecipientChat(k kit.ChatKind) bool {
	return k == kit.ChatGroup || k == kit.ChatChannel
}

// Observe keeps the recipient directory and the user registry current. It
// runs for every update before routing.
func (b *Bot) Observe(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m := up.Message
		if m == nil {
			return
		}
		if isRecipientChat(m.ChatKind) {
			b.trackGroup(ctx, m.ChatID, m.ChatTitle, false)
			return
		}
		if m.ChatKind == kit.ChatPrivate && m.FromID != 0 {
			b.trackUser(ctx, m.FromID)
		}
	case kit.UpdateMembership:
		mb := up.Membership
		if mb == nil || !isRecipientChat(mb.ChatKind) {
			return
		}
		if mb.Joined {
			b.trackGroup(ctx, mb.ChatID, mb.ChatTitle, true)
			return
		}
		if err := b.RemoveGroup(ctx, mb.ChatID); err != nil {
			b.log.Warn("group removal failed", logx.Int64("chat_id", mb.ChatID), logx.Err(err))
		}
	}
}

func (b *Bot) trackGroup(ctx context.Context, chatID int64, title string, force bool) {
	if !force {
		if _, ok := b.knownGroups.Load(chatID); ok {
			return
		}
	}
	tctx, cancel := context.WithTimeout(ctx, trackTimeout)
	defer cancel()
	if err := b.store.AddGroup(tctx, chatID, title); err != nil {
		b.log.Warn("group registration failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return
	}
	if _, loaded := b.knownGroups.LoadOrStore(chatID, struct{}{}); !loaded || force {
		b.log.Info("group registered", logx.Int64("chat_id", chatID), logx.String("title", title))
	}
}

// RemoveGroup drops a chat from the recipient directory. The scheduler
// calls it for recipients that failed permanently.
func (b *Bot) RemoveGroup(ctx context.Context, chatID int64) error {
	b.knownGroups.Delete(chatID)
	tctx, cancel := context.WithTimeout(ctx, trackTimeout)
	defer cancel()
	if err := b.store.RemoveGroup(tctx, chatID); err != nil {
		return err
	}
	b.log.Info("group removed", logx.Int64("chat_id", chatID))
	return nil
}

func (b *Bot) trackUser(ctx context.Context, userID int64) {
	if _, ok := b.knownUsers.Load(userID); ok {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, trackTimeout)
	defer cancel()
	if err := b.store.AddUser(tctx, userID); err != nil {
		b.log.Warn("user registration failed", logx.Int64("user_id", userID), logx.Err(err))
		return
	}
	b.knownUsers.Store(userID, struct{}{})
}
