package rules

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskd.com/pkg/event"
	"riskd.com/pkg/money"
	"riskd.com/pkg/pnl"
	"riskd.com/pkg/timer"
)

var testID atomic.Int64

func nextTestID() int64 { return testID.Add(1) }

func usd(units int64) money.Money {
	return money.New(units*money.Precision, "USD")
}

func pnlEvent(account string, ts time.Time) *event.RiskEvent {
	return &event.RiskEvent{
		ID:        nextTestID(),
		Type:      event.OrderFilled,
		AccountID: account,
		Symbol:    "MNQ",
		Timestamp: ts,
	}
}

// =============================================================================
// DailyLossRule
// =============================================================================

func TestDailyLossRule_ExactBoundaryTriggers(t *testing.T) {
	r, err := NewDailyLossRule(usd(-1000), ActionFlatten)
	require.NoError(t, err)

	// 正好打到 -1000.0 也算违规 (<=)
	snap := &Snapshot{AccountID: "ACC-1", DailyRealized: usd(-1000)}
	verdict, err := r.Evaluate(pnlEvent("ACC-1", time.Now()), snap)
	require.NoError(t, err)
	require.NotNil(t, verdict)

	assert.Equal(t, ActionFlatten, verdict.Action)
	assert.Equal(t, int64(-1000*money.Precision), verdict.Context["daily_pnl"])
}

func TestDailyLossRule_AboveLimitNoVerdict(t *testing.T) {
	r, err := NewDailyLossRule(usd(-1000), ActionFlatten)
	require.NoError(t, err)

	snap := &Snapshot{AccountID: "ACC-1", DailyRealized: usd(-999)}
	verdict, err := r.Evaluate(pnlEvent("ACC-1", time.Now()), snap)
	require.NoError(t, err)
	assert.Nil(t, verdict)
}

func TestDailyLossRule_IgnoresNonPnLEvents(t *testing.T) {
	r, err := NewDailyLossRule(usd(-1000), ActionFlatten)
	require.NoError(t, err)

	ev := &event.RiskEvent{
		ID: nextTestID(), Type: event.PositionOpened,
		AccountID: "ACC-1", Symbol: "MNQ", Timestamp: time.Now(),
	}
	snap := &Snapshot{AccountID: "ACC-1", DailyRealized: usd(-5000)}
	verdict, err := r.Evaluate(ev, snap)
	require.NoError(t, err)
	assert.Nil(t, verdict, "position events must not trigger the loss rule")
}

func TestDailyLossRule_ConstructorValidation(t *testing.T) {
	_, err := NewDailyLossRule(usd(1000), ActionFlatten)
	assert.Error(t, err, "positive limit must be rejected")
	_, err = NewDailyLossRule(usd(0), ActionFlatten)
	assert.Error(t, err, "zero limit must be rejected")
}

// =============================================================================
// DailyRealizedProfitRule
// =============================================================================

func TestDailyRealizedProfitRule_LocksUntilReset(t *testing.T) {
	r, err := NewDailyRealizedProfitRule(usd(2000), ActionPause)
	require.NoError(t, err)

	snap := &Snapshot{AccountID: "ACC-1", DailyRealized: usd(2000)}
	verdict, err := r.Evaluate(pnlEvent("ACC-1", time.Now()), snap)
	require.NoError(t, err)
	require.NotNil(t, verdict)

	require.NotNil(t, verdict.Lockout)
	assert.True(t, verdict.Lockout.UntilReset)
}

// =============================================================================
// MaxPositionRule / MaxContractsPerInstrumentRule
// =============================================================================

func TestMaxPositionRule_PerInstrument(t *testing.T) {
	r, err := NewMaxPositionRule(5, true, ActionReject)
	require.NoError(t, err)

	// MNQ 到 6 张，另一个合约 2 张: 只裁定 MNQ
	snap := &Snapshot{
		AccountID: "ACC-1",
		Positions: []*pnl.Position{
			{AccountID: "ACC-1", Symbol: "MNQ", Size: 6},
			{AccountID: "ACC-1", Symbol: "MES", Size: 2},
		},
	}
	ev := &event.RiskEvent{
		ID: nextTestID(), Type: event.PositionUpdated,
		AccountID: "ACC-1", Symbol: "MNQ", Size: 6, Timestamp: time.Now(),
	}

	verdict, err := r.Evaluate(ev, snap)
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.Equal(t, "MNQ", verdict.Context["symbol"])
	assert.Contains(t, verdict.Message, "6")
	assert.Contains(t, verdict.Message, "5")

	// MES 的事件不违规
	ev.Symbol = "MES"
	ev.Size = 2
	verdict, err = r.Evaluate(ev, snap)
	require.NoError(t, err)
	assert.Nil(t, verdict)
}

func TestMaxPositionRule_PortfolioTotal(t *testing.T) {
	r, err := NewMaxPositionRule(7, false, ActionReject)
	require.NoError(t, err)

	// 空头也按绝对值计入组合总张数
	snap := &Snapshot{
		AccountID: "ACC-1",
		Positions: []*pnl.Position{
			{Symbol: "MNQ", Size: 6},
			{Symbol: "MES", Size: -2},
		},
	}
	ev := &event.RiskEvent{
		ID: nextTestID(), Type: event.PositionUpdated,
		AccountID: "ACC-1", Symbol: "MES", Size: -2, Timestamp: time.Now(),
	}

	verdict, err := r.Evaluate(ev, snap)
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.Equal(t, int64(8), verdict.Context["total"])
}

func TestMaxContractsPerInstrumentRule(t *testing.T) {
	r, err := NewMaxContractsPerInstrumentRule(map[string]int64{"MNQ": 5}, ActionReject)
	require.NoError(t, err)

	snap := &Snapshot{
		AccountID: "ACC-1",
		Positions: []*pnl.Position{
			{Symbol: "MNQ", Size: -6},
			{Symbol: "MES", Size: 9}, // 未配置上限，不受约束
		},
	}

	ev := &event.RiskEvent{
		ID: nextTestID(), Type: event.PositionUpdated,
		AccountID: "ACC-1", Symbol: "MNQ", Size: -6, Timestamp: time.Now(),
	}
	verdict, err := r.Evaluate(ev, snap)
	require.NoError(t, err)
	require.NotNil(t, verdict)

	ev.Symbol = "MES"
	verdict, err = r.Evaluate(ev, snap)
	require.NoError(t, err)
	assert.Nil(t, verdict)
}

func TestMaxPositionRule_ConstructorValidation(t *testing.T) {
	_, err := NewMaxPositionRule(0, true, ActionReject)
	assert.Error(t, err)
	_, err = NewMaxContractsPerInstrumentRule(map[string]int64{"MNQ": -1}, ActionReject)
	assert.Error(t, err)
}

// =============================================================================
// NoStopLossGraceRule
// =============================================================================

func newGraceFixture(t *testing.T, grace time.Duration) (*NoStopLossGraceRule, *timer.Manager) {
	timers := timer.NewManager(timer.DefaultConfig(), nextTestID)
	timers.Start(context.Background())
	t.Cleanup(timers.Stop)

	r, err := NewNoStopLossGraceRule(grace, timers, ActionFlatten)
	require.NoError(t, err)
	return r, timers
}

func TestGraceRule_FlattensWhenNoStopObserved(t *testing.T) {
	r, timers := newGraceFixture(t, 20*time.Millisecond)

	ev := &event.RiskEvent{
		ID: nextTestID(), Type: event.PositionOpened,
		AccountID: "ACC-1", Symbol: "MNQ", Size: 2, Timestamp: time.Now(),
	}
	_, err := r.Evaluate(ev, &Snapshot{AccountID: "ACC-1"})
	require.NoError(t, err)

	select {
	case firing := <-timers.Fired():
		verdict := r.OnGraceExpired(firing)
		require.NotNil(t, verdict)
		assert.Equal(t, ActionFlatten, verdict.Action)
		assert.Contains(t, verdict.Message, "MNQ")
	case <-time.After(2 * time.Second):
		t.Fatal("grace timer did not fire")
	}
}

func TestGraceRule_StopOrderCancelsGrace(t *testing.T) {
	r, timers := newGraceFixture(t, 30*time.Millisecond)

	open := &event.RiskEvent{
		ID: nextTestID(), Type: event.PositionOpened,
		AccountID: "ACC-1", Symbol: "MNQ", Size: 2, Timestamp: time.Now(),
	}
	_, err := r.Evaluate(open, &Snapshot{AccountID: "ACC-1"})
	require.NoError(t, err)

	stop := &event.RiskEvent{
		ID: nextTestID(), Type: event.StopOrderPlaced,
		AccountID: "ACC-1", Symbol: "MNQ", Timestamp: time.Now(),
	}
	_, err = r.Evaluate(stop, &Snapshot{AccountID: "ACC-1"})
	require.NoError(t, err)

	select {
	case firing := <-timers.Fired():
		t.Fatalf("grace timer fired after stop placed: %+v", firing)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGraceRule_RearmFromPersistedOpenedAt(t *testing.T) {
	r, timers := newGraceFixture(t, 50*time.Millisecond)

	// 崩溃恢复: 开仓 30ms 前落库，剩余宽限约 20ms
	positions := []*pnl.Position{
		{AccountID: "ACC-1", Symbol: "MNQ", Size: 2, OpenedAt: time.Now().Add(-30 * time.Millisecond).UnixMilli()},
	}
	r.Rearm(positions, time.Now())

	select {
	case firing := <-timers.Fired():
		verdict := r.OnGraceExpired(firing)
		require.NotNil(t, verdict)
	case <-time.After(2 * time.Second):
		t.Fatal("rearmed grace timer did not fire")
	}
}

// =============================================================================
// Set: 隔离、顺序、严重度
// =============================================================================

type panicRule struct{ base }

func (r *panicRule) Evaluate(ev *event.RiskEvent, snap *Snapshot) (*Verdict, error) {
	panic("boom")
}

type errorRule struct{ base }

func (r *errorRule) Evaluate(ev *event.RiskEvent, snap *Snapshot) (*Verdict, error) {
	return nil, errors.New("broken rule")
}

func TestSet_IsolatesFaultyRules(t *testing.T) {
	lossRule, err := NewDailyLossRule(usd(-1000), ActionFlatten)
	require.NoError(t, err)

	set := NewSet(
		&panicRule{base{name: "panicky", enabled: true}},
		&errorRule{base{name: "broken", enabled: true}},
		lossRule,
	)

	snap := &Snapshot{AccountID: "ACC-1", DailyRealized: usd(-1500)}
	verdicts, faults := set.EvaluateAll(pnlEvent("ACC-1", time.Now()), snap)

	// 坏规则不拖垮好规则
	require.Len(t, verdicts, 1)
	assert.Equal(t, "daily_loss", verdicts[0].RuleName)

	require.Len(t, faults, 2)
	assert.Equal(t, "panicky", faults[0].RuleName)
	assert.True(t, strings.Contains(faults[0].Err.Error(), "panicked"))
	assert.Equal(t, "broken", faults[1].RuleName)
}

func TestSet_DisabledRulesSkipped(t *testing.T) {
	lossRule, err := NewDailyLossRule(usd(-1000), ActionFlatten)
	require.NoError(t, err)
	lossRule.SetEnabled(false)

	set := NewSet(lossRule)
	snap := &Snapshot{AccountID: "ACC-1", DailyRealized: usd(-9999)}
	verdicts, faults := set.EvaluateAll(pnlEvent("ACC-1", time.Now()), snap)
	assert.Empty(t, verdicts)
	assert.Empty(t, faults)
}

func TestMostSevere(t *testing.T) {
	verdicts := []*Verdict{
		{Action: ActionAlert},
		{Action: ActionFlatten},
		{Action: ActionReject},
	}
	assert.Equal(t, ActionFlatten, MostSevere(verdicts))
	assert.Equal(t, ActionAlert, MostSevere(nil))
}

func TestSet_AdminMutationDuringEvaluation(t *testing.T) {
	// 管理面改开关改参数，事件面持续评估，-race 下必须干净
	lossRule, err := NewDailyLossRule(usd(-1000), ActionFlatten)
	require.NoError(t, err)
	perInst, err := NewMaxContractsPerInstrumentRule(map[string]int64{"MNQ": 5}, ActionReject)
	require.NoError(t, err)
	set := NewSet(lossRule, perInst)

	now := time.Now()
	ev := pnlEvent("ACC-1", now)
	snap := &Snapshot{
		AccountID:     "ACC-1",
		TradingDay:    "2026-03-02",
		DailyRealized: usd(-1200),
		Positions:     []*pnl.Position{{AccountID: "ACC-1", Symbol: "MNQ", Size: 6}},
		Now:           now,
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			lossRule.SetEnabled(i%2 == 0)
			_ = lossRule.SetLimit(usd(int64(-1000 - i%7)))
			_ = perInst.SetLimit("MNQ", int64(4+i%3))
		}
	}()
	go func() {
		defer wg.Done()
		defer close(stop)
		for i := 0; i < 5000; i++ {
			set.EvaluateAll(ev, snap)
		}
	}()
	wg.Wait()

	// 收尾后规则仍可正常裁定
	lossRule.SetEnabled(true)
	verdicts, faults := set.EvaluateAll(ev, snap)
	assert.Empty(t, faults)
	assert.NotEmpty(t, verdicts)
}
