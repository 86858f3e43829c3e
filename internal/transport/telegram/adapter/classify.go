package adapter

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "broadcastbot/internal/transport"
)

// classify marks errors that mean the chat is gone for good: the bot was
// blocked or removed, the chat no longer exists, or a group migrated to a
// supergroup under a new id. Everything else stays retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		return kit.Permanent(err)
	}
	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == 403:
			return kit.Permanent(err)
		case te.Code == 400 && permanentBadRequest(te.Description):
			return kit.Permanent(err)
		}
	}
	return err
}

func permanentBadRequest(desc string) bool {
	d := strings.ToLower(desc)
	return strings.Contains(d, "chat not found") ||
		strings.Contains(d, "upgraded to a supergroup") ||
		strings.Contains(d, "peer_id_invalid")
}
