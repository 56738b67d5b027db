// Package bot serves the interactive Telegram side: commands, menu buttons
// and inline callbacks on top of the subscriber store and the live schedule.
package bot

import (
	"context"
	"errors"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/subscribers"
	"schedbot/internal/timetable"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type Config struct {
	Cooldown       time.Duration // per-user, for /today and /teacher; default 5s
	MaxExtraGroups int           // display only; the store enforces it
	Workers        int
	HandlerTimeout time.Duration
	CacheTTL       time.Duration // how long an interactive fetch is reused
}

func (c Config) withDefaults() Config {
	if c.Cooldown == 0 {
		c.Cooldown = 5 * time.Second
	}
	if c.MaxExtraGroups <= 0 {
		c.MaxExtraGroups = subscribers.DefaultMaxExtraGroups
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Minute
	}
	return c
}

type Deps struct {
	Adapter kit.Adapter
	Store   subscribers.Store
	Fetcher Fetcher
	// Interval reports the monitor poll period shown to users. Optional.
	Interval func() time.Duration
}

// Command is one slash command.
type Command struct {
	Name        string
	Description string
	Usage       string
	// Heavy commands fetch the page and share the per-user cooldown.
	Heavy  bool
	Handle HandlerFunc
}

// Request carries one update through the handler chain.
type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	Username string
	Command  string
	Args     []string
	// Payload is the callback data after its prefix; Source is the message
	// holding the pressed button.
	Payload string
	Source  kit.MessageRef
	ReqID   string
	Logger  logx.Logger
}

// ArgText joins the arguments the way users type multi-word names.
func (r *Request) ArgText() string { return strings.TrimSpace(strings.Join(r.Args, " ")) }

type callbackRoute struct {
	prefix bool
	handle HandlerFunc
}

type Bot struct {
	adapter  kit.Adapter
	store    subscribers.Store
	sched    *scheduleCache
	interval func() time.Duration
	log      logx.Logger
	cfg      Config

	cool *cooldown

	cmds      map[string]Command
	order     []string
	callbacks map[string]callbackRoute
	cbOrder   []string // prefixes, longest first
}

func New(deps Deps, cfg Config, log logx.Logger) *Bot {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		adapter:  deps.Adapter,
		store:    deps.Store,
		sched:    newScheduleCache(deps.Fetcher, cfg.CacheTTL, log),
		interval: deps.Interval,
		log:      log,
		cfg:      cfg,
		cool:     newCooldown(cfg.Cooldown),
	}
	b.register()
	return b
}

func (b *Bot) register() {
	b.cmds = map[string]Command{}
	for _, c := range b.commands() {
		b.cmds[c.Name] = c
		b.order = append(b.order, c.Name)
	}
	b.callbacks = map[string]callbackRoute{}
	for data, h := range b.callbackHandlers() {
		b.callbacks[data] = callbackRoute{handle: h}
	}
	for prefix, h := range b.callbackPrefixes() {
		b.callbacks[prefix] = callbackRoute{prefix: true, handle: h}
		b.cbOrder = append(b.cbOrder, prefix)
	}
	sort.Slice(b.cbOrder, func(i, j int) bool { return len(b.cbOrder[i]) > len(b.cbOrder[j]) })
}

// Commands lists the registered commands in menu order.
func (b *Bot) Commands() []Command {
	out := make([]Command, 0, len(b.order))
	for _, n := range b.order {
		out = append(out, b.cmds[n])
	}
	return out
}

// MenuCommands is the list published to Telegram's command menu.
func (b *Bot) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(b.order))
	for _, c := range b.Commands() {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// SetCooldown changes the per-user cooldown at runtime.
func (b *Bot) SetCooldown(d time.Duration) { b.cool.SetEvery(d) }

// Prime hands the bot a fresh snapshot so interactive requests can skip a fetch.
func (b *Bot) Prime(snap *timetable.Snapshot) { b.sched.Put(snap) }

func (b *Bot) pollInterval() time.Duration {
	if b.interval != nil {
		if d := b.interval(); d > 0 {
			return d
		}
	}
	return 15 * time.Minute
}

// Run dispatches updates to a bounded worker pool until ctx is done or
// updates is closed. Workers drain queued jobs before Run returns.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(b.log.With(logx.String("comp", "bot.dispatch"))),
		rtsup.WithCancelOnError(false),
	)
	jobs := make(chan kit.Update, 256)
	var closeOnce sync.Once
	closeJobs := func() { closeOnce.Do(func() { close(jobs) }) }

	for i := 0; i < b.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for up := range jobs {
				b.runJob(c, idx, up)
			}
			return nil
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	b.log.Info("bot dispatcher started", logx.Int("workers", b.cfg.Workers), logx.Int("queue_cap", cap(jobs)))

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		b.log.Info("bot dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case jobs <- up:
			default:
				b.log.Warn("bot queue full, update dropped", logx.String("kind", string(up.Kind)))
				b.rejectBusy(ctx, up)
			}
		}
	}
}

func (b *Bot) runJob(ctx context.Context, worker int, up kit.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in bot job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	_ = b.Handle(ctx, up)
}

func (b *Bot) rejectBusy(ctx context.Context, up kit.Update) {
	switch {
	case up.Callback != nil:
		_ = b.adapter.AnswerCallback(ctx, up.Callback.ID, "Бот занят, попробуй ещё раз")
	case up.Message != nil:
		_, _ = b.adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID}, "⏳ Бот занят, попробуй ещё раз", nil)
	}
}

// Handle routes and executes one update synchronously.
func (b *Bot) Handle(ctx context.Context, up kit.Update) error {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			return b.handleMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			return b.handleCallback(ctx, up)
		}
	}
	return nil
}

func (b *Bot) newRequest(up kit.Update, chatID, fromID int64, command string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: chatID},
		FromID:  fromID,
		Command: command,
		ReqID:   rid,
		Logger: b.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chatID),
			logx.Int64("from_id", fromID),
		),
	}
}

func (b *Bot) handleMessage(ctx context.Context, up kit.Update) error {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)

	var (
		h    HandlerFunc
		name string
		args []string
	)
	switch {
	case strings.HasPrefix(text, "/"):
		parts := strings.Fields(text)
		name = strings.ToLower(strings.TrimPrefix(parts[0], "/"))
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}
		args = parts[1:]
		cmd, ok := b.cmds[name]
		if !ok {
			_, err := b.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, "🤔 Неизвестная команда. Список команд: /help", nil)
			return err
		}
		h = cmd.Handle
		if cmd.Heavy {
			h = b.withCooldown(h)
		}
	default:
		name = "button"
		h = b.handleButton
		args = []string{text}
	}

	req := b.newRequest(up, msg.ChatID, msg.FromID, name)
	req.Username = msg.FromUsername
	if req.Username == "" {
		req.Username = msg.FromName
	}
	req.Args = args
	if err := b.store.EnsureUser(ctx, msg.FromID, req.Username); err != nil {
		req.Logger.Warn("ensure user failed", logx.Err(err))
	}
	return b.exec(ctx, h, req)
}

func (b *Bot) handleCallback(ctx context.Context, up kit.Update) error {
	cb := up.Callback
	data := strings.TrimSpace(cb.Data)

	var (
		route   callbackRoute
		payload string
		found   bool
	)
	if r, ok := b.callbacks[data]; ok && !r.prefix {
		route, found = r, true
	} else {
		for _, p := range b.cbOrder {
			if strings.HasPrefix(data, p) {
				route, payload, found = b.callbacks[p], strings.TrimPrefix(data, p), true
				break
			}
		}
	}
	if !found {
		b.log.Debug("unknown callback", logx.String("data", data))
		return b.adapter.AnswerCallback(ctx, cb.ID, "")
	}

	req := b.newRequest(up, cb.ChatID, cb.FromID, "cb:"+data)
	req.Payload = payload
	req.Source = kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	err := b.exec(ctx, route.handle, req)
	// stop the client's loading indicator
	_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
	return err
}

func (b *Bot) exec(ctx context.Context, h HandlerFunc, req *Request) error {
	final := Chain(h,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(b.cfg.HandlerTimeout),
	)
	err := final(ctx, req)
	if err != nil && ctx.Err() == nil {
		_, _ = b.adapter.SendText(ctx, req.Chat, "⚠️ Что-то пошло не так, попробуй позже", nil)
	}
	return err
}

func (b *Bot) withCooldown(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if ok, wait := b.cool.Allow(req.FromID); !ok {
			req.Logger.Warn("rate limited", logx.Duration("wait", wait))
			return b.reply(ctx, req, "⏱️ Подожди "+strconv.Itoa(waitSeconds(wait))+" сек. перед следующим запросом", nil)
		}
		return next(ctx, req)
	}
}

// reply sends HTML text to the request's chat.
func (b *Bot) reply(ctx context.Context, req *Request, text string, kb *kit.Keyboard) error {
	_, err := b.adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{
		ParseMode:      tele.ModeHTML,
		DisablePreview: true,
		Keyboard:       kb,
	})
	return err
}

// schedule loads the current snapshot. ok=false means the user was already
// told there is nothing to show.
func (b *Bot) schedule(ctx context.Context, req *Request) (*timetable.Snapshot, bool, error) {
	snap, err := b.sched.Get(ctx)
	switch {
	case err == nil:
		return snap, true, nil
	case errors.Is(err, timetable.ErrUnavailable):
		return nil, false, b.reply(ctx, req, textNotPublished, nil)
	default:
		return nil, false, err
	}
}
