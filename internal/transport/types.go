package transport

import "context"

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateCallback   UpdateKind = "callback"
	UpdateMembership UpdateKind = "membership"
)

type Update struct {
	Kind       UpdateKind
	Message    *Message
	Callback   *Callback
	Membership *Membership
}

type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
)

type Message struct {
	ID           int
	ChatID       int64
	ChatKind     ChatKind
	ChatTitle    string
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string // message text, or the caption for media messages
	Media        *Media
	ReplyTo      *Message
}

func (m *Message) IsGroup() bool { return m != nil && m.ChatKind == ChatGroup }

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// Membership reports the bot itself joining or leaving a chat.
type Membership struct {
	ChatID    int64
	ChatKind  ChatKind
	ChatTitle string
	ActorID   int64
	Joined    bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, media Media, caption string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
