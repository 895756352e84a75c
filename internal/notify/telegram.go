package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"alarmd/internal/config"
	logx "alarmd/pkg/logx"
)

// TelegramSink mirrors alarm notifications to a Telegram chat. Alarm
// payloads carry Stop / Snooze inline buttons; button presses are fed back
// through the service's action stream.
type TelegramSink struct {
	cfg config.TelegramConfig
	log logx.Logger
	bot *tele.Bot

	// actions receives (alarmID, actionID) for every button press.
	actions func(alarmID, actionID string)

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func NewTelegramSink(cfg config.TelegramConfig, actions func(alarmID, actionID string), log logx.Logger) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if actions == nil {
		actions = func(string, string) {}
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{cfg: cfg, log: log, bot: b, actions: actions}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

// Start begins long-polling for button presses. Idempotent.
func (t *TelegramSink) Start(ctx context.Context) {
	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		return
	}
	t.running = true
	rctx, cancel := context.WithCancel(ctx)
	t.runCancel = cancel
	t.runWG.Add(1)
	t.runMu.Unlock()

	t.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		action, alarmID, ok := parseCallback(cb.Data)
		if !ok {
			return c.Respond()
		}
		t.actions(alarmID, action)
		return c.Respond(&tele.CallbackResponse{Text: ackText(action)})
	})

	go func() {
		defer t.runWG.Done()
		go func() {
			<-rctx.Done()
			t.bot.Stop()
		}()
		t.log.Info("telegram polling started")
		t.bot.Start() // blocks until Stop
	}()
}

// Stop halts polling. Bounded by a short grace window so shutdown never
// hangs on a Telegram long-poll.
func (t *TelegramSink) Stop(ctx context.Context) {
	t.runMu.Lock()
	cancel := t.runCancel
	t.runCancel = nil
	wasRunning := t.running
	t.running = false
	t.runMu.Unlock()

	if !wasRunning {
		return
	}
	if cancel != nil {
		cancel()
	}
	go t.bot.Stop()

	done := make(chan struct{})
	go func() {
		t.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		t.log.Info("telegram polling stopped")
	case <-ctx.Done():
	case <-timer.C:
		t.log.Warn("telegram stop grace elapsed; continuing shutdown")
	}
}

func (t *TelegramSink) Send(ctx context.Context, p Payload) error {
	_ = ctx // telebot has no per-call context; sends are bounded by its HTTP client
	chat := &tele.Chat{ID: t.cfg.ChatID}
	opts := &tele.SendOptions{ThreadID: t.cfg.ThreadID}

	if p.IsAlarm && p.AlarmID != "" {
		markup := &tele.ReplyMarkup{}
		stop := markup.Data("Stop", "a", ActionStop+"|"+p.AlarmID)
		snooze := markup.Data("Snooze 5m", "a", ActionSnooze+"|"+p.AlarmID)
		markup.Inline(markup.Row(stop, snooze))
		opts.ReplyMarkup = markup
	}

	_, err := t.bot.Send(chat, formatText(p), opts)
	return err
}

func formatText(p Payload) string {
	var b strings.Builder
	if p.IsAlarm {
		b.WriteString("⏰ ")
	}
	b.WriteString(p.Title)
	if p.Body != "" {
		b.WriteString("\n")
		b.WriteString(p.Body)
	}
	return b.String()
}

// parseCallback splits "action|alarmID" button data. telebot prefixes
// callback data with "\f<unique>|", which Data() strips on the way in, but
// the payload we set is the trailing segment either way.
func parseCallback(data string) (action, alarmID string, ok bool) {
	data = strings.TrimPrefix(data, "\f")
	if i := strings.IndexByte(data, '|'); i >= 0 {
		head, tail := data[:i], data[i+1:]
		// Drop the telebot unique segment if present ("a|stop|id").
		if head == "a" {
			data = tail
			if j := strings.IndexByte(data, '|'); j >= 0 {
				head, tail = data[:j], data[j+1:]
			} else {
				return "", "", false
			}
		}
		switch head {
		case ActionStop, ActionSnooze:
			if tail == "" {
				return "", "", false
			}
			return head, tail, true
		}
	}
	return "", "", false
}

func ackText(action string) string {
	if action == ActionSnooze {
		return "Snoozed for 5 minutes"
	}
	return "Alarm stopped"
}
