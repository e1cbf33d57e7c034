package pricing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

func freshMarket() domain.Market {
	return domain.Market{ID: 1, Question: "q", OptionA: "yes", OptionB: "no", State: domain.MarketStateUninitialized}
}

func TestApply_BootstrapSeedsOppositeSide(t *testing.T) {
	c := NewCurve(DefaultInitialPool)
	m := freshMarket()

	fill, err := c.Apply(&m, "alice", domain.OptionA, 10, time.Now())
	require.NoError(t, err)

	assert.True(t, fill.Bootstrap)
	assert.InDelta(t, 20, fill.Shares, 1e-9)
	assert.InDelta(t, 20, m.SharesA, 1e-9)
	assert.InDelta(t, 200, m.SharesB, 1e-9)
	assert.InDelta(t, 110, m.TotalFunds, 1e-9)
	assert.Equal(t, domain.MarketStateActive, m.State)

	priceA, priceB := m.Prices()
	assert.InDelta(t, 0.0909, priceA, 1e-4)
	assert.InDelta(t, 0.9091, priceB, 1e-4)

	h := m.Holding("alice")
	assert.InDelta(t, 20, h.SharesA, 1e-9)
	assert.Zero(t, h.SharesB)
	assert.InDelta(t, 10, h.Invested, 1e-9)
}

func TestApply_SecondPurchaseUsesSteadyState(t *testing.T) {
	c := NewCurve(DefaultInitialPool)
	m := freshMarket()
	_, err := c.Apply(&m, "alice", domain.OptionA, 10, time.Now())
	require.NoError(t, err)

	fill, err := c.Apply(&m, "bob", domain.OptionA, 5, time.Now())
	require.NoError(t, err)

	assert.False(t, fill.Bootstrap)
	assert.InDelta(t, 55, fill.Shares, 1e-9)
	assert.InDelta(t, 75, m.SharesA, 1e-9)
	assert.InDelta(t, 200, m.SharesB, 1e-9)
	assert.InDelta(t, 115, m.TotalFunds, 1e-9)
	assert.InDelta(t, 55, m.Holding("bob").SharesA, 1e-9)
}

func TestApply_RejectsClosedAndResolved(t *testing.T) {
	c := NewCurve(DefaultInitialPool)
	for _, st := range []domain.MarketState{domain.MarketStateClosed, domain.MarketStateResolved} {
		m := freshMarket()
		m.State = st
		_, err := c.Apply(&m, "alice", domain.OptionA, 10, time.Now())
		require.ErrorIs(t, err, domain.ErrMarketNotActive)
		assert.Zero(t, m.TotalFunds)
		assert.Nil(t, m.Holdings)
	}
}

func TestQuote_RejectsBadInput(t *testing.T) {
	c := NewCurve(DefaultInitialPool)
	m := freshMarket()

	for _, amt := range []float64{0, -1} {
		_, err := c.Quote(m, domain.OptionA, amt)
		require.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
	_, err := c.Quote(m, domain.Option("X"), 1)
	require.ErrorIs(t, err, domain.ErrInvalidOption)
}

func TestApply_PricesStayNormalized(t *testing.T) {
	c := NewCurve(DefaultInitialPool)
	rng := rand.New(rand.NewSource(42))
	m := freshMarket()

	var funds float64
	for i := 0; i < 500; i++ {
		opt := domain.OptionA
		if rng.Intn(2) == 1 {
			opt = domain.OptionB
		}
		amt := 1 + rng.Float64()*50
		before := m.TotalFunds
		fill, err := c.Apply(&m, "u", opt, amt, time.Now())
		require.NoError(t, err)

		if fill.Bootstrap {
			require.Zero(t, i, "bootstrap fired twice")
			funds = amt + DefaultInitialPool
		} else {
			funds += amt
			assert.InDelta(t, before+amt, m.TotalFunds, 1e-6)
		}

		a, b := m.Prices()
		require.GreaterOrEqual(t, a, 0.0)
		require.LessOrEqual(t, a, 1.0)
		require.GreaterOrEqual(t, b, 0.0)
		require.LessOrEqual(t, b, 1.0)
		require.InDelta(t, 1.0, a+b, 1e-9)
	}
	assert.InDelta(t, funds, m.TotalFunds, 1e-6)
}

func TestPotentialWinnings(t *testing.T) {
	m := domain.Market{SharesA: 20, SharesB: 200, State: domain.MarketStateActive}
	h := domain.Holding{SharesA: 20, Invested: 10}
	// 20 / (20/220) = 220
	assert.InDelta(t, 210, PotentialWinnings(m, h), 1e-9)
	assert.Zero(t, PotentialWinnings(m, domain.Holding{}))
}
