package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "jobs"
	//   "cancel all"
	Route       string
	Aliases     []string // root-level aliases, e.g. ["cancel_all"]
	Description string
	Usage       string
	Access      Access

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackAccess controls who can trigger an inline-button callback.
// Default is owner-only.
type CallbackAccess int

const (
	CallbackAccessOwnerOnly CallbackAccess = iota
	CallbackAccessEveryone
)

// CallbackRoute handles callback data of the form "scope:action[:payload]".
type CallbackRoute struct {
	Scope       string
	Action      string
	Description string
	Access      CallbackAccess
	Timeout     time.Duration
	Handle      CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	Message *kit.Message // nil for callbacks
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched command path tokens (for message updates)
	Command string   // route, callback key, or "" for fallback messages
	Args    []string
	// Text is everything after the command word, line breaks intact.
	Text    string
	Payload string // callback payload (raw string)

	// Parsed arguments
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
	IsOwner bool
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// Observer sees every update before routing. It runs on the dispatch loop
// and must return quickly.
type Observer func(ctx context.Context, up kit.Update)

type Config struct {
	Workers        int           // default 4
	QueueSize      int           // default 256
	HandlerTimeout time.Duration // default for commands without Timeout; 0 disables
}

type CommandManager struct {
	mu sync.RWMutex

	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute // scope -> action -> route

	owners   []int64
	observer Observer
	fallback HandlerFunc

	log     logx.Logger
	adapter kit.Adapter
	cfg     Config

	supervisors *SupervisorRegistry
	appSup      *Supervisor

	runMu   sync.Mutex
	running bool
	sup     *Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64, cfg Config) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	// copy to avoid callers mutating the slice after construction
	ownCopy := append([]int64(nil), owners...)
	return &CommandManager{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		log:       log,
		adapter:   adapter,
		cfg:       cfg,
		owners:    ownCopy,
		jobs:      make(chan func(), cfg.QueueSize),
	}
}

// SetSupervisors registers the worker pool supervisor in reg while the
// dispatch loop runs; app, when set, owns the menu update goroutine.
func (m *CommandManager) SetSupervisors(reg *SupervisorRegistry, app *Supervisor) {
	m.mu.Lock()
	m.supervisors = reg
	m.appSup = app
	m.mu.Unlock()
}

func (m *CommandManager) SetObserver(fn Observer) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// SetFallback installs the handler for non-command messages.
func (m *CommandManager) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// Supervisor returns the command manager's internal supervisor (nil if not running).
func (m *CommandManager) Supervisor() *Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

func (m *CommandManager) Owners() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

func (m *CommandManager) IsOwner(id int64) bool {
	return isOwner(id, m.Owners())
}

func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	// always inject help
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show commands",
		Usage:       "/help [cmd] [sub...]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			text := m.helpText(req.Args, req.IsOwner)
			_, err := req.Reply(ctx, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	}
	cmds = append(cmds, helper)

	root := newRoot()
	alias := map[string]*cmdNode{}
	menuCandidates := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		menuCandidates = append(menuCandidates, c)

		leaf := root.find(route)
		// Multi-token routes also answer to their Telegram-safe menu name
		// ("cancel all" -> /cancel_all). The canonical single token is never
		// aliased, or it would short-circuit subcommand traversal.
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			if len(route) > 1 || menu != route[0] {
				if _, exists := alias[menu]; !exists {
					alias[menu] = leaf
				}
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		s := strings.TrimSpace(r.Scope)
		a := strings.TrimSpace(r.Action)
		if s == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[s] == nil {
			cb[s] = map[string]CallbackRoute{}
		}
		cb[s][a] = r
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	app := m.appSup
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	// Best-effort Telegram /menu autocomplete update (non-blocking).
	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(root, menuCandidates)
		run := func(parent context.Context) {
			ctx, cancel := context.WithTimeout(parent, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}
		if app != nil {
			app.Go0("telegram.menu.update", run)
		} else {
			go run(context.Background())
		}
	}
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.cfg.Workers

	sup := NewSupervisor(ctx,
		WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.mu.RLock()
	reg := m.supervisors
	m.mu.RUnlock()
	reg.Set("telegram.router", sup)

	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// Mark as not running before closing so enqueue can degrade gracefully.
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			WithPublishFirstError(true),
			WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		// Wait briefly for workers to drain.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		reg.Delete("telegram.router")
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	m.mu.RLock()
	obs := m.observer
	m.mu.RUnlock()
	if obs != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in update observer", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			obs(root, up)
		}()
	}

	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateCallback:
		m.routeCallback(root, up)
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		m.routeFallback(root, up)
		return
	}

	word, rest := splitCommandText(text)
	parts := tokenizeCommandLine(rest)
	args := append([]string{}, parts...)

	// snapshot registry
	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	// alias as root-level shortcut
	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		cmd := *leaf.cmd
		pos, flags, bools := parseFlags(args)
		m.enqueueCommand(root, up, cmd, splitRoute(cmd.Route), pos, args, rest, flags, bools)
		return
	}

	cur, ok := rootNode.child(word)
	if !ok {
		// Groups see commands meant for other bots; only answer in private.
		if !msg.IsGroup() {
			_, _ = m.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, "Unknown command. Try /help", nil)
		}
		return
	}
	path := []string{word}
	for len(args) > 0 {
		nxt := args[0]
		if strings.HasPrefix(nxt, "-") { // flags start, stop subcommand traversal
			break
		}
		child, ok := cur.child(nxt)
		if !ok {
			break
		}
		cur = child
		path = append(path, strings.ToLower(nxt))
		args = args[1:]
		rest = dropFirstToken(rest)
	}

	// Container node without handler: show help for that path
	if cur.cmd == nil {
		txt := m.helpText(path, m.IsOwner(msg.FromID))
		_, _ = m.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, txt, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		return
	}

	cmd := *cur.cmd
	pos, flags, bools := parseFlags(args)
	m.enqueueCommand(root, up, cmd, path, pos, args, rest, flags, bools)
}

func dropFirstToken(s string) string {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		return strings.TrimLeft(s[i:], " \t\r\n")
	}
	return ""
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Message: up.Message,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Adapter: m.adapter,
		IsOwner: m.IsOwner(from),
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int("thread_id", chat.ThreadID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (m *CommandManager) chain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	if timeout <= 0 {
		timeout = m.cfg.HandlerTimeout
	}
	return Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, path, args, raw []string, text string, flags map[string]string, bools map[string]bool) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	req := m.newRequest(up, chat, msg.FromID, cmd.Route)

	if cmd.Access == AccessOwnerOnly && !req.IsOwner {
		req.Logger.Debug("owner-only command refused")
		if !msg.IsGroup() {
			_, _ = m.adapter.SendText(root, chat, "This command is only available to the bot owner.", nil)
		}
		return
	}

	req.Path = path
	req.Args = args
	req.RawArgs = raw
	req.Text = text
	req.Flags = flags
	req.BoolFlags = bools

	final := m.chain(cmd.Handle, cmd.Timeout)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, chat, "Busy, try again in a moment.", nil)
	}
}

func (m *CommandManager) routeFallback(root context.Context, up kit.Update) {
	m.mu.RLock()
	fb := m.fallback
	m.mu.RUnlock()
	if fb == nil {
		return
	}
	msg := up.Message
	req := m.newRequest(up, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, msg.FromID, "")
	req.Text = msg.Text
	final := m.chain(fb, 0)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		req.Logger.Warn("fallback dropped; worker queue full")
	}
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		return
	}
	scope, action := parts[0], parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	m.cbMu.RLock()
	route, ok := m.callbacks[scope][action]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	req := m.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "cb:"+scope+":"+action)
	req.Payload = payload
	if route.Access == CallbackAccessOwnerOnly && !req.IsOwner {
		_ = m.adapter.AnswerCallback(root, cb.ID, "forbidden")
		return
	}

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := m.chain(h, route.Timeout)
	if !m.tryEnqueue(func() {
		_ = final(root, req)
		// stop the "loading" spinner
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
	}) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "busy")
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
