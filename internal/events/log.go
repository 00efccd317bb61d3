package events

import "log/slog"

// LogEmitter writes every event to the structured log.
type LogEmitter struct {
	Logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger uses slog's default.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{Logger: logger}
}

func (l *LogEmitter) Emit(ev Event) {
	attrs := []any{
		"event_id", ev.ID,
		"market_id", ev.MarketID,
	}
	if ev.Account != "" {
		attrs = append(attrs, "account", ev.Account)
	}
	if ev.From != "" {
		attrs = append(attrs, "from", ev.From, "to", ev.To, "side", string(ev.Side))
	}
	if ev.Outcome != "" {
		attrs = append(attrs, "outcome", string(ev.Outcome))
	}
	if !ev.Amount.IsZero() {
		attrs = append(attrs, "amount", ev.Amount.String())
	}
	l.Logger.Info(ev.Type, attrs...)
}
