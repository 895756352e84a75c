package notify

import (
	"context"

	logx "alarmd/pkg/logx"
)

// LogSink writes every delivery to the structured log. It is always
// registered so a daemon with no outbound surface still records firings.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Send(ctx context.Context, p Payload) error {
	_ = ctx
	l.log.Info("notification",
		logx.String("title", p.Title),
		logx.String("body", p.Body),
		logx.String("alarm", p.AlarmID),
		logx.Bool("is_alarm", p.IsAlarm),
		logx.Bool("snooze", p.Snooze),
		logx.Int("repeat", p.Repeat))
	return nil
}
