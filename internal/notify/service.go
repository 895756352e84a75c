package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"alarmd/internal/eventbus"
	logx "alarmd/pkg/logx"
)

// ErrClosed is returned by ScheduleAt after Close.
var ErrClosed = errors.New("notify service closed")

const sendTimeout = 10 * time.Second

type pendingNote struct {
	timer   *time.Timer
	payload Payload
	at      time.Time
}

// Service owns the timer wheel for scheduled notifications and fans
// deliveries out to the configured sinks.
//
// Scheduling is purely in-memory: on restart the daemon re-schedules every
// enabled alarm from the store, so timers never need to survive a process.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	sinks   []Sink
	pending map[Handle]*pendingNote
	closed  bool

	events chan Event
}

func NewService(log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		bus:     bus,
		pending: map[Handle]*pendingNote{},
		events:  make(chan Event, 64),
	}
}

// AddSink registers an outbound surface. Safe to call before or after
// scheduling starts.
func (s *Service) AddSink(sink Sink) {
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

// Events is the inbound stream: fired notifications and user responses.
// The channel is never closed; consumers select on their own context.
func (s *Service) Events() <-chan Event { return s.events }

// ScheduleAt arms one notification for the given wall-clock time and returns
// its handle. A time in the past fires on the next timer tick.
func (s *Service) ScheduleAt(ctx context.Context, at time.Time, p Payload) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	h := Handle(uuid.NewString())
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	note := &pendingNote{payload: p, at: at}
	note.timer = time.AfterFunc(delay, func() { s.fire(h) })
	s.pending[h] = note

	s.log.Debug("notification scheduled",
		logx.String("handle", string(h)),
		logx.String("alarm", p.AlarmID),
		logx.Int("repeat", p.Repeat),
		logx.Time("at", at))
	return h, nil
}

// Cancel disarms one handle. Cancelling an already-fired or unknown handle
// is a no-op; callers never need to track which handles have fired.
func (s *Service) Cancel(h Handle) bool {
	s.mu.Lock()
	note, ok := s.pending[h]
	if ok {
		note.timer.Stop()
		delete(s.pending, h)
	}
	s.mu.Unlock()
	return ok
}

// CancelAll disarms every pending notification and returns how many were
// still armed.
func (s *Service) CancelAll() int {
	s.mu.Lock()
	n := len(s.pending)
	for h, note := range s.pending {
		note.timer.Stop()
		delete(s.pending, h)
	}
	s.mu.Unlock()
	return n
}

// Armed reports whether a handle is still pending (not yet fired or
// cancelled).
func (s *Service) Armed(h Handle) bool {
	s.mu.Lock()
	_, ok := s.pending[h]
	s.mu.Unlock()
	return ok
}

// Pending returns how many notifications are currently armed.
func (s *Service) Pending() int {
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	return n
}

// Alert delivers an immediate, unscheduled message to all sinks. Used as
// the non-audio fallback when playback cannot be established.
func (s *Service) Alert(title, body string) {
	s.deliver(Payload{Title: title, Body: body})
}

// EmitAction injects a user response into the event stream. Sinks call this
// from their inbound handlers (e.g. a Telegram callback button).
func (s *Service) EmitAction(alarmID, actionID string) {
	s.publish(Event{
		Kind:     KindAction,
		Payload:  Payload{AlarmID: alarmID},
		ActionID: actionID,
		At:       time.Now(),
	})
}

// Close disarms all timers and rejects further scheduling. Delivery of a
// notification that already fired may still complete.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	for h, note := range s.pending {
		note.timer.Stop()
		delete(s.pending, h)
	}
	s.mu.Unlock()
}

func (s *Service) fire(h Handle) {
	s.mu.Lock()
	note, ok := s.pending[h]
	if ok {
		delete(s.pending, h)
	}
	s.mu.Unlock()
	if !ok {
		// Cancelled between timer fire and lock acquisition.
		return
	}

	s.deliver(note.payload)
	s.publish(Event{Kind: KindFired, Handle: h, Payload: note.payload, At: time.Now()})
}

func (s *Service) deliver(p Payload) {
	s.mu.Lock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	for _, sink := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := sink.Send(ctx, p)
		cancel()
		if err != nil {
			s.log.Warn("notification delivery failed",
				logx.String("sink", sink.Name()),
				logx.String("alarm", p.AlarmID),
				logx.Err(err))
		}
	}
}

func (s *Service) publish(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Warn("notification event dropped (consumer slow)",
			logx.String("alarm", e.Payload.AlarmID))
	}
	if s.bus != nil && e.Kind == KindFired {
		s.bus.Publish(eventbus.Event{Type: "notify.fired", Time: e.At, Data: e.Payload})
	}
}
