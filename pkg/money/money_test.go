package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_Add(t *testing.T) {
	a := New(100*Precision, "USD")
	b := New(-30*Precision, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(70*Precision), sum.Amount)
	assert.Equal(t, "USD", sum.Currency)
}

func TestMoney_AddCurrencyMismatch(t *testing.T) {
	a := New(100*Precision, "USD")
	b := New(100*Precision, "EUR")

	_, err := a.Add(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	// 零值 Money 参与运算同样报错，不会静默按 0 处理
	_, err = a.Add(Money{})
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMoney_Sign(t *testing.T) {
	assert.Equal(t, 1, New(1, "USD").Sign())
	assert.Equal(t, -1, New(-1, "USD").Sign())
	assert.Equal(t, 0, Zero("USD").Sign())
}

func TestTickEconomics_PnL(t *testing.T) {
	// MNQ: 0.25 点一个 tick，每 tick 0.50 USD
	mnq := TickEconomics{
		Symbol:    "MNQ",
		TickSize:  25_000_000,
		TickValue: 50_000_000,
		Currency:  "USD",
	}

	// 多头 2 张，上涨 10 点 = 40 ticks → 2 * 40 * 0.5 = 40 USD
	pnl, err := mnq.PnL(10*Precision, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(40*Precision), pnl.Amount)

	// 空头 2 张，上涨 10 点 → -40 USD
	pnl, err = mnq.PnL(10*Precision, -2)
	require.NoError(t, err)
	assert.Equal(t, int64(-40*Precision), pnl.Amount)
}

func TestTickEconomics_MissingParams(t *testing.T) {
	bad := TickEconomics{Symbol: "ES", TickSize: 0, TickValue: 0}

	_, err := bad.PnL(Precision, 1)
	assert.ErrorIs(t, err, ErrNoTickEconomics)
}
