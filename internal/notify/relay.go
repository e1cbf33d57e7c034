package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// Relay listens on the signal bus and turns milestone events into
// notifications.
type Relay struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

func NewRelay(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{bus: bus, notifier: notifier, logger: logger.With(slog.String("component", "notify_relay"))}
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	markets, err := r.bus.Subscribe(ctx, domain.ChannelMarkets)
	if err != nil {
		return fmt.Errorf("notify relay: subscribe markets: %w", err)
	}
	impact, err := r.bus.Subscribe(ctx, domain.ChannelImpact)
	if err != nil {
		return fmt.Errorf("notify relay: subscribe impact: %w", err)
	}

	for markets != nil || impact != nil {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-markets:
			if !ok {
				markets = nil
				continue
			}
			r.handle(ctx, msg)
		case msg, ok := <-impact:
			if !ok {
				impact = nil
				continue
			}
			r.handle(ctx, msg)
		}
	}
	return nil
}

func (r *Relay) handle(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.WarnContext(ctx, "bad event payload", slog.String("error", err.Error()))
		return
	}
	if !r.notifier.Allows(env.Type) {
		return
	}
	title, message, ok := format(env)
	if !ok {
		return
	}
	if err := r.notifier.Notify(ctx, env.Type, title, message); err != nil {
		r.logger.WarnContext(ctx, "notify failed",
			slog.String("event", env.Type),
			slog.String("error", err.Error()),
		)
	}
}

func format(env envelope) (title, message string, ok bool) {
	switch env.Type {
	case domain.EventMarketBootstrapped, domain.EventMarketClosed, domain.EventMarketResolved:
		var m domain.MarketSnapshot
		if json.Unmarshal(env.Payload, &m) != nil {
			return "", "", false
		}
		switch env.Type {
		case domain.EventMarketBootstrapped:
			return "Market opened",
				fmt.Sprintf("#%d %s\nfirst trade placed, pool %.2f (A %.1f%% / B %.1f%%)",
					m.ID, m.Question, m.TotalFunds, m.PriceA*100, m.PriceB*100), true
		case domain.EventMarketClosed:
			return "Market closed", fmt.Sprintf("#%d %s\npool %.2f", m.ID, m.Question, m.TotalFunds), true
		default:
			winner := m.OptionA
			if m.Winner == domain.OptionB {
				winner = m.OptionB
			}
			return "Market resolved", fmt.Sprintf("#%d %s\nwinner: %s", m.ID, m.Question, winner), true
		}
	case domain.EventGoalReached:
		var p struct {
			Scope string             `json:"scope"`
			Stats domain.ImpactStats `json:"stats"`
		}
		if json.Unmarshal(env.Payload, &p) != nil {
			return "", "", false
		}
		return "Monthly impact goal reached",
			fmt.Sprintf("scope %s: %.2f donated of %.2f (%d donations)",
				p.Scope, p.Stats.TotalDonated, p.Stats.MonthlyGoal, p.Stats.TotalDonations), true
	}
	return "", "", false
}
