package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "broadcastbot/internal/runtime/supervisor"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and its helpers; created on Start, cancelled on Stop.
	sup *rtsup.Supervisor

	droppedUpdates uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Supervisor exposes the poll supervisor for /status (nil when stopped).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	onMessage := func(c tele.Context) error {
		if m := toMessage(c.Message()); m != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: m})
		}
		return nil
	}
	for _, ev := range []string{tele.OnText, tele.OnPhoto, tele.OnVideo, tele.OnDocument, tele.OnAnimation} {
		a.bot.Handle(ev, onMessage)
	}

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || cb.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				ThreadID:  m.ThreadID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      cb.Data,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		if mb := toMembership(c.ChatMember()); mb != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMembership, Membership: mb})
		}
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; it is restarted if it ever returns early.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started", logx.Secret("token", a.cfg.Token))
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 60*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))

	sup.Cancel()
	go a.bot.Stop()

	// getUpdates may still be waiting on its long-poll; do not hold shutdown for it.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			a.log.Warn("telegram stop timed out", logx.Err(err))
		case sup.Context().Err() != nil:
			a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
		default:
			a.log.Warn("telegram stop error", logx.Err(err))
		}
	}
	return nil
}

func chatKind(c *tele.Chat) kit.ChatKind {
	if c == nil {
		return kit.ChatPrivate
	}
	switch c.Type {
	case tele.ChatGroup, tele.ChatSuperGroup:
		return kit.ChatGroup
	case tele.ChatChannel, tele.ChatChannelPrivate:
		return kit.ChatChannel
	default:
		return kit.ChatPrivate
	}
}

func toMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	out := &kit.Message{
		ID:        m.ID,
		ChatID:    m.Chat.ID,
		ChatKind:  chatKind(m.Chat),
		ChatTitle: m.Chat.Title,
		ThreadID:  m.ThreadID,
		Text:      m.Text,
		Media:     mediaOf(m),
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
	}
	if out.Media != nil && out.Text == "" {
		out.Text = m.Caption
	}
	if m.ReplyTo != nil {
		out.ReplyTo = toMessage(m.ReplyTo)
	}
	return out
}

func mediaOf(m *tele.Message) *kit.Media {
	switch {
	case m.Photo != nil:
		return &kit.Media{Kind: kit.MediaPhoto, FileID: m.Photo.FileID}
	case m.Animation != nil:
		return &kit.Media{Kind: kit.MediaAnimation, FileID: m.Animation.FileID}
	case m.Video != nil:
		return &kit.Media{Kind: kit.MediaVideo, FileID: m.Video.FileID}
	case m.Document != nil:
		return &kit.Media{Kind: kit.MediaDocument, FileID: m.Document.FileID}
	}
	return nil
}

func toMembership(u *tele.ChatMemberUpdate) *kit.Membership {
	if u == nil || u.Chat == nil || u.NewChatMember == nil {
		return nil
	}
	mb := &kit.Membership{
		ChatID:    u.Chat.ID,
		ChatKind:  chatKind(u.Chat),
		ChatTitle: u.Chat.Title,
	}
	if u.Sender != nil {
		mb.ActorID = u.Sender.ID
	}
	switch u.NewChatMember.Role {
	case tele.Left, tele.Kicked:
		mb.Joined = false
	default:
		mb.Joined = true
	}
	return mb
}
