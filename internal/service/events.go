package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// publisher wraps the optional signal bus and audit log. Both are side
// effects: failures are logged and never returned to the caller.
type publisher struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
	prefix string
}

func (p publisher) publish(ctx context.Context, channel, eventType string, payload any) {
	if p.bus == nil {
		return
	}
	data, err := json.Marshal(domain.Event{Type: eventType, Payload: payload})
	if err != nil {
		p.logger.WarnContext(ctx, p.prefix+": marshal event failed",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.bus.Publish(ctx, channel, data); err != nil {
		p.logger.WarnContext(ctx, p.prefix+": publish failed",
			slog.String("channel", channel),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

func (p publisher) record(ctx context.Context, event string, detail map[string]any) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Log(ctx, event, detail); err != nil {
		p.logger.WarnContext(ctx, p.prefix+": audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
