package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kiniela/internal/cache/local"
	"github.com/alanyoungcy/kiniela/internal/domain"
)

type fakeSender struct {
	mu     sync.Mutex
	titles []string
	err    error
	sent   chan string
}

func newFakeSender() *fakeSender { return &fakeSender{sent: make(chan string, 16)} }

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	f.titles = append(f.titles, title)
	f.mu.Unlock()
	select {
	case f.sent <- title:
	default:
	}
	return f.err
}

func (f *fakeSender) Name() string { return "fake" }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := newFakeSender()
	n := NewNotifier([]Sender{s}, []string{domain.EventGoalReached}, nil)

	require.NoError(t, n.Notify(context.Background(), domain.EventMarketUpdated, "x", "y"))
	require.NoError(t, n.Notify(context.Background(), domain.EventGoalReached, "goal", "y"))
	assert.Equal(t, []string{"goal"}, s.titles)
}

func TestNotifier_CollectsSenderErrors(t *testing.T) {
	bad := newFakeSender()
	bad.err = errors.New("boom")
	good := newFakeSender()
	n := NewNotifier([]Sender{bad, good}, nil, nil)

	err := n.Notify(context.Background(), "any", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, good.titles, 1)
}

func TestRelay_ForwardsMilestones(t *testing.T) {
	bus := local.NewBus(0)
	s := newFakeSender()
	n := NewNotifier([]Sender{s}, nil, nil)
	relay := NewRelay(bus, n, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	// Subscriptions are registered synchronously at the start of Run.
	require.Eventually(t, func() bool {
		publish(t, bus, domain.ChannelMarkets, domain.EventMarketUpdated, domain.MarketSnapshot{ID: 1})
		publish(t, bus, domain.ChannelMarkets, domain.EventMarketBootstrapped, domain.MarketSnapshot{ID: 1, Question: "Q?"})
		select {
		case title := <-s.sent:
			return title == "Market opened"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, time.Second, 10*time.Millisecond)

	publish(t, bus, domain.ChannelImpact, domain.EventGoalReached, map[string]any{
		"scope": domain.ImpactScopeGlobal,
		"stats": domain.ImpactStats{TotalDonated: 501, MonthlyGoal: 500},
	})
	deadline := time.After(time.Second)
	for got := false; !got; {
		select {
		case title := <-s.sent:
			got = title == "Monthly impact goal reached"
		case <-deadline:
			t.Fatal("goal notification not sent")
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func publish(t *testing.T, bus domain.SignalBus, channel, typ string, payload any) {
	t.Helper()
	data, err := json.Marshal(domain.Event{Type: typ, Payload: payload})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), channel, data))
}

func TestFormat_ResolvedUsesWinnerText(t *testing.T) {
	payload, _ := json.Marshal(domain.MarketSnapshot{ID: 3, Question: "Q?", OptionA: "Yes", OptionB: "No", Winner: domain.OptionB})
	title, msg, ok := format(envelope{Type: domain.EventMarketResolved, Payload: payload})
	require.True(t, ok)
	assert.Equal(t, "Market resolved", title)
	assert.Contains(t, msg, "winner: No")

	_, _, ok = format(envelope{Type: domain.EventPurchaseCompleted})
	assert.False(t, ok)
}

func TestTelegramSender_PostsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Hi", "there"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Hi*\nthere", got["text"])
}

func TestDiscordSender_ReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
