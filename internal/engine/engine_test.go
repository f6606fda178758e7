package engine

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"elastic-dca/internal/ident"
	"elastic-dca/internal/state"
	"elastic-dca/internal/store"
	"elastic-dca/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e := New(Config{GracePeriod: 5 * time.Second}, state.Default(), st, nil, nil, logger, "")
	e.now = func() time.Time { return clk.now }
	return e, clk
}

func mkTick(ask, bid string, positions ...types.Position) types.Tick {
	return types.Tick{
		AccountID: "acct-1",
		Equity:    dec("10000"),
		Balance:   dec("10000"),
		Symbol:    "XAUUSD",
		Ask:       dec(ask),
		Bid:       dec(bid),
		Positions: positions,
	}
}

func pos(comment, volume, price, profit string) types.Position {
	side := "BUY"
	if strings.HasPrefix(comment, "sell_") {
		side = "SELL"
	}
	return types.Position{
		Ticket:  1,
		Type:    side,
		Volume:  dec(volume),
		Price:   dec(price),
		Profit:  dec(profit),
		Comment: comment,
	}
}

func TestAnchorFireAndGapExpansion(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.RowsBuy = []types.GridRow{
		{Index: 0, Lots: dec("0.01")},
		{Index: 1, DollarGap: dec("5"), Lots: dec("0.02")},
	}
	e.st.Runtime.Buy.On = true

	resp := e.applyTick(mkTick("2000", "1999.8"))
	if resp.Action != types.ActionBuy {
		t.Fatalf("tick1 action = %s, want BUY", resp.Action)
	}
	if resp.Volume == nil || !resp.Volume.Equal(dec("0.01")) {
		t.Fatalf("tick1 volume = %v, want 0.01", resp.Volume)
	}
	tag, ok := ident.Parse(resp.Comment)
	if !ok || tag.Side != types.Buy || tag.Index != 0 {
		t.Fatalf("tick1 comment = %q", resp.Comment)
	}
	bs := &e.st.Runtime.Buy
	if bs.SessionID != tag.SessionID() {
		t.Errorf("session %q does not match emitted comment %q", bs.SessionID, resp.Comment)
	}
	if !bs.StartRef.Equal(dec("2000")) {
		t.Errorf("start ref = %s, want anchor entry 2000", bs.StartRef)
	}
	if !bs.EquityAtArm.Equal(dec("10000")) {
		t.Errorf("equity at arm = %s", bs.EquityAtArm)
	}

	// Gap not reached: ask must drop to 1995 before row 1 fires.
	clk.advance(time.Second)
	filled := pos(resp.Comment, "0.01", "2000", "-1")
	if r := e.applyTick(mkTick("1996", "1995.8", filled)); r.Action != types.ActionWait {
		t.Fatalf("gap not reached but action = %s", r.Action)
	}

	clk.advance(time.Second)
	resp2 := e.applyTick(mkTick("1995", "1994.8", filled))
	if resp2.Action != types.ActionBuy {
		t.Fatalf("expansion action = %s, want BUY", resp2.Action)
	}
	if !resp2.Volume.Equal(dec("0.02")) {
		t.Errorf("expansion volume = %s", resp2.Volume)
	}
	tag2, _ := ident.Parse(resp2.Comment)
	if tag2.Index != 1 || tag2.Hash != tag.Hash {
		t.Errorf("expansion comment = %q, want idx1 in session %s", resp2.Comment, bs.SessionID)
	}
	if len(bs.Exec) != 2 {
		t.Errorf("exec map size = %d, want 2", len(bs.Exec))
	}
}

func TestLimitArmedSell(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.SellLimitPrice = dec("1.1000")
	e.st.Settings.RowsSell = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Runtime.Sell.On = true

	if r := e.applyTick(mkTick("1.0952", "1.0950")); r.Action != types.ActionWait {
		t.Fatalf("below limit but action = %s", r.Action)
	}
	ss := &e.st.Runtime.Sell
	if ss.SessionID == "" || !ss.WaitingLimit {
		t.Fatalf("side not waiting on limit: %+v", ss)
	}

	clk.advance(time.Second)
	if r := e.applyTick(mkTick("1.0999", "1.0997")); r.Action != types.ActionWait {
		t.Fatalf("still below limit but action = %s", r.Action)
	}

	clk.advance(time.Second)
	resp := e.applyTick(mkTick("1.1007", "1.1005"))
	if resp.Action != types.ActionSell {
		t.Fatalf("limit crossed but action = %s", resp.Action)
	}
	if ss.WaitingLimit {
		t.Error("waiting_limit survived the cross")
	}
	if !ss.StartRef.Equal(dec("1.1005")) {
		t.Errorf("start ref = %s, want actual bid 1.1005", ss.StartRef)
	}
}

func TestTakeProfitFixedMoneyAndClosingDrain(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Settings.BuyTPType = types.TPFixedMoney
	e.st.Settings.BuyTPValue = dec("10")
	e.st.Runtime.Buy.On = true

	first := e.applyTick(mkTick("2000", "1999.8"))
	if first.Action != types.ActionBuy {
		t.Fatalf("arm action = %s", first.Action)
	}
	session := e.st.Runtime.Buy.SessionID
	filled := pos(first.Comment, "0.01", "2000", "12")

	clk.advance(time.Second)
	resp := e.applyTick(mkTick("2012", "2011.8", filled))
	if resp.Action != types.ActionCloseAll {
		t.Fatalf("profit over target but action = %s", resp.Action)
	}
	if resp.Comment != session {
		t.Errorf("close comment = %q, want session %q", resp.Comment, session)
	}
	if !e.st.Runtime.Buy.IsClosing {
		t.Error("is_closing not set")
	}

	// Positions still open: keep flushing.
	clk.advance(time.Second)
	if r := e.applyTick(mkTick("2012", "2011.8", filled)); r.Action != types.ActionCloseAll {
		t.Fatalf("still open but action = %s", r.Action)
	}

	// Gone, but inside grace: wait it out, no finalization yet.
	clk.advance(time.Second)
	if r := e.applyTick(mkTick("2012", "2011.8")); r.Action != types.ActionWait {
		t.Fatalf("inside grace but action = %s", r.Action)
	}
	if e.st.Runtime.Buy.SessionID != session {
		t.Fatal("session finalized inside the grace window")
	}

	clk.advance(6 * time.Second)
	if r := e.applyTick(mkTick("2012", "2011.8")); r.Action != types.ActionWait {
		t.Fatalf("drain complete but action = %s", r.Action)
	}
	bs := &e.st.Runtime.Buy
	if bs.SessionID != "" || bs.IsClosing || len(bs.Exec) != 0 {
		t.Errorf("session not finalized: %+v", bs)
	}
	if bs.On {
		t.Error("side stayed on after TP close without cyclic mode")
	}
}

func TestCyclicReArmAfterTakeProfit(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Settings.BuyTPType = types.TPFixedMoney
	e.st.Settings.BuyTPValue = dec("10")
	e.st.Runtime.Buy.On = true
	e.st.Runtime.CyclicOn = true

	first := e.applyTick(mkTick("2000", "1999.8"))
	oldTag, _ := ident.Parse(first.Comment)
	filled := pos(first.Comment, "0.01", "2000", "15")

	clk.advance(time.Second)
	if r := e.applyTick(mkTick("2015", "2014.8", filled)); r.Action != types.ActionCloseAll {
		t.Fatalf("tp action = %s", r.Action)
	}

	clk.advance(10 * time.Second)
	resp := e.applyTick(mkTick("2015", "2014.8"))
	if resp.Action != types.ActionBuy {
		t.Fatalf("cyclic restart action = %s, want BUY", resp.Action)
	}
	newTag, ok := ident.Parse(resp.Comment)
	if !ok || newTag.Index != 0 {
		t.Fatalf("restart comment = %q", resp.Comment)
	}
	if newTag.Hash == oldTag.Hash {
		t.Error("cyclic restart reused the old session hash")
	}
	if !e.st.Runtime.Buy.On {
		t.Error("cyclic restart lost the On switch")
	}
}

func TestSyncShieldSuppression(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Runtime.Buy.On = true

	if r := e.applyTick(mkTick("2000", "1999.8")); r.Action != types.ActionBuy {
		t.Fatalf("arm action = %s", r.Action)
	}
	session := e.st.Runtime.Buy.SessionID

	// 1s later the terminal has not registered the fill yet.
	clk.advance(time.Second)
	if r := e.applyTick(mkTick("2000", "1999.8")); r.Action != types.ActionWait {
		t.Fatalf("in-flight action = %s", r.Action)
	}
	bs := &e.st.Runtime.Buy
	if bs.SessionID != session {
		t.Fatal("session rotated during the grace window")
	}
	if len(bs.Exec) != 1 {
		t.Fatal("optimistic exec entry dropped during the grace window")
	}

	// 5.5s after emission the empty report is believed: external close.
	clk.advance(4500 * time.Millisecond)
	if r := e.applyTick(mkTick("2000", "1999.8")); r.Action != types.ActionWait {
		t.Fatalf("external close tick action = %s", r.Action)
	}
	if bs.SessionID != "" || len(bs.Exec) != 0 {
		t.Errorf("external close did not finalize: %+v", bs)
	}
	if bs.On {
		t.Error("side stayed on after external close without cyclic mode")
	}
}

func TestIdentityConflictLatchesUntilEmergency(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Runtime.Buy.SessionID = "buy_a1b2c3d4"
	e.st.Runtime.Buy.On = true
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}

	alien := pos("buy_deadbeef_idx0", "0.10", "2000", "-5")
	resp := e.applyTick(mkTick("2000", "1999.8", alien))
	if resp.Action != types.ActionWait {
		t.Fatalf("conflict tick action = %s", resp.Action)
	}
	if resp.Error == "" || !e.st.Runtime.IdentityConflict() {
		t.Fatalf("conflict not latched: error=%q status=%q", resp.Error, e.st.Runtime.ErrorStatus)
	}
	if len(e.st.Runtime.Buy.Exec) != 0 {
		t.Error("conflict tick mutated the exec map")
	}

	// Latched: every subsequent tick is a WAIT regardless of content.
	clk.advance(time.Second)
	if r := e.applyTick(mkTick("2000", "1999.8")); r.Action != types.ActionWait || r.Error == "" {
		t.Fatalf("latched tick = %+v", r)
	}

	e.applyControl(types.ControlCommand{EmergencyClose: boolPtr(true)})
	if e.st.Runtime.ErrorStatus != "" {
		t.Errorf("emergency did not clear error status: %q", e.st.Runtime.ErrorStatus)
	}
	if e.st.Runtime.Buy.SessionID != "" {
		t.Error("idle conflicted session should reset immediately on emergency")
	}
}

func TestHedgeIntoOffOpposite(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.BuyHedgeValue = dec("50")
	e.st.Settings.RowsBuy = []types.GridRow{
		{Index: 0, Lots: dec("0.01")},
		{Index: 1, DollarGap: dec("5"), Lots: dec("0.02")},
	}
	e.st.Runtime.Buy.On = true
	e.st.Runtime.Buy.SessionID = "buy_aaaa1111"

	losing := []types.Position{
		pos("buy_aaaa1111_idx0", "0.01", "2000", "-30"),
		pos("buy_aaaa1111_idx1", "0.02", "1995", "-20.1"),
	}
	resp := e.applyTick(mkTick("1990", "1989.8", losing...))
	if resp.Action != types.ActionWait {
		t.Fatalf("hedge trigger tick action = %s, want WAIT", resp.Action)
	}
	if !e.st.Runtime.Buy.HedgeTriggered {
		t.Fatal("hedge lock not set")
	}
	ss := &e.st.Runtime.Sell
	if !ss.On || ss.SessionID == "" || ss.WaitingLimit {
		t.Fatalf("opposite side not force-armed: %+v", ss)
	}
	rows := e.st.Settings.RowsSell
	if len(rows) != 1 || !rows[0].Lots.Equal(dec("0.03")) || !rows[0].Alert {
		t.Fatalf("counter grid = %+v, want single 0.03 alert row", rows)
	}

	clk.advance(time.Second)
	resp2 := e.applyTick(mkTick("1990", "1989.8", losing...))
	if resp2.Action != types.ActionSell {
		t.Fatalf("counter tick action = %s, want SELL", resp2.Action)
	}
	if !resp2.Volume.Equal(dec("0.03")) || !resp2.Alert {
		t.Errorf("counter emission = %+v", resp2)
	}
	tag, _ := ident.Parse(resp2.Comment)
	if tag.Side != types.Sell || tag.Index != 0 {
		t.Errorf("counter comment = %q", resp2.Comment)
	}

	// Locked side never expands again, whatever price does.
	clk.advance(time.Second)
	counterFill := pos(resp2.Comment, "0.03", "1989.8", "0")
	all := append(append([]types.Position{}, losing...), counterFill)
	if r := e.applyTick(mkTick("1900", "1899.8", all...)); r.Action != types.ActionWait {
		t.Fatalf("locked side emitted %s", r.Action)
	}
}

func TestHedgeIntoActiveOppositeSplicesCounterRow(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.BuyHedgeValue = dec("50")
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.03")}}
	e.st.Settings.RowsSell = []types.GridRow{
		{Index: 0, Lots: dec("0.05")},
		{Index: 1, DollarGap: dec("10"), Lots: dec("0.05")},
	}
	e.st.Runtime.Buy.On = true
	e.st.Runtime.Buy.SessionID = "buy_aaaa1111"
	e.st.Runtime.Sell.On = true
	e.st.Runtime.Sell.SessionID = "sell_bbbb2222"

	positions := []types.Position{
		pos("buy_aaaa1111_idx0", "0.03", "2050", "-60"),
		pos("sell_bbbb2222_idx0", "0.05", "2000", "5"),
	}
	resp := e.applyTick(mkTick("2010", "2009.8", positions...))
	if resp.Action != types.ActionWait {
		t.Fatalf("hedge trigger tick action = %s", resp.Action)
	}

	rows := e.st.Settings.RowsSell
	if len(rows) != 3 {
		t.Fatalf("sell grid = %+v, want 3 rows after splice", rows)
	}
	if !rows[1].Lots.Equal(dec("0.03")) || !rows[1].Alert {
		t.Errorf("spliced counter row = %+v", rows[1])
	}
	if !rows[1].DollarGap.Equal(dec("9.9")) {
		t.Errorf("counter gap = %s, want |2000 - 2009.9| = 9.9", rows[1].DollarGap)
	}
	if !rows[2].Lots.Equal(dec("0.05")) || rows[2].Index != 2 {
		t.Errorf("original row not shifted: %+v", rows[2])
	}
	if !e.st.Runtime.Sell.HedgePending {
		t.Fatal("hedge pending flag not set on the counter side")
	}

	clk.advance(time.Second)
	resp2 := e.applyTick(mkTick("2010", "2009.8", positions...))
	if resp2.Action != types.ActionSell {
		t.Fatalf("counter tick action = %s, want SELL", resp2.Action)
	}
	if !resp2.Volume.Equal(dec("0.03")) {
		t.Errorf("counter volume = %s", resp2.Volume)
	}
	tag, _ := ident.Parse(resp2.Comment)
	if tag.Index != 1 || tag.Hash != "bbbb2222" {
		t.Errorf("counter comment = %q", resp2.Comment)
	}
	if e.st.Runtime.Sell.HedgePending {
		t.Error("hedge pending flag survived the emission")
	}
}

func TestOperatorOffDrainsThroughClosing(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Runtime.Buy.On = true

	first := e.applyTick(mkTick("2000", "1999.8"))
	filled := pos(first.Comment, "0.01", "2000", "3")

	e.applyControl(types.ControlCommand{BuySwitch: boolPtr(false)})
	bs := &e.st.Runtime.Buy
	if !bs.IsClosing || bs.On {
		t.Fatalf("operator off with exposure: %+v", bs)
	}

	clk.advance(time.Second)
	resp := e.applyTick(mkTick("2000", "1999.8", filled))
	if resp.Action != types.ActionCloseAll {
		t.Fatalf("drain action = %s", resp.Action)
	}
}

func TestOperatorOffWhileWaitingLimitResetsImmediately(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	e.st.Settings.SellLimitPrice = dec("1.1")
	e.st.Settings.RowsSell = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Runtime.Sell.On = true

	e.applyTick(mkTick("1.05", "1.0498"))
	if e.st.Runtime.Sell.SessionID == "" {
		t.Fatal("side did not arm")
	}

	e.applyControl(types.ControlCommand{SellSwitch: boolPtr(false)})
	ss := &e.st.Runtime.Sell
	if ss.SessionID != "" || ss.IsClosing || ss.WaitingLimit {
		t.Errorf("waiting-limit side should reset on off: %+v", ss)
	}
}

func TestEmergencyCloseDrainsBothSides(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Settings.RowsSell = []types.GridRow{{Index: 0, Lots: dec("0.02")}}
	e.st.Runtime.Buy.On = true
	e.st.Runtime.Sell.On = true
	e.st.Runtime.CyclicOn = true

	buyResp := e.applyTick(mkTick("2000", "1999.8"))
	clk.advance(time.Second)
	buyFill := pos(buyResp.Comment, "0.01", "2000", "0")
	sellResp := e.applyTick(mkTick("2000", "1999.8", buyFill))
	if sellResp.Action != types.ActionSell {
		t.Fatalf("second side did not fire: %s", sellResp.Action)
	}
	sellFill := pos(sellResp.Comment, "0.02", "1999.8", "0")

	e.applyControl(types.ControlCommand{EmergencyClose: boolPtr(true)})
	if e.st.Runtime.CyclicOn {
		t.Error("emergency must clear cyclic mode")
	}
	for _, side := range types.Sides() {
		ss := e.st.Runtime.Side(side)
		if ss.On || !ss.IsClosing {
			t.Errorf("%s after emergency: %+v", side, ss)
		}
	}

	clk.advance(time.Second)
	resp := e.applyTick(mkTick("2000", "1999.8", buyFill, sellFill))
	if resp.Action != types.ActionCloseAll {
		t.Fatalf("drain action = %s", resp.Action)
	}
	if !strings.HasPrefix(resp.Comment, "buy_") {
		t.Errorf("BUY must drain first, comment = %q", resp.Comment)
	}

	// Buy side drained; the sell side flushes next.
	clk.advance(6 * time.Second)
	resp2 := e.applyTick(mkTick("2000", "1999.8", sellFill))
	if resp2.Action != types.ActionCloseAll || !strings.HasPrefix(resp2.Comment, "sell_") {
		t.Fatalf("sell drain = %+v", resp2)
	}

	clk.advance(6 * time.Second)
	if r := e.applyTick(mkTick("2000", "1999.8")); r.Action != types.ActionWait {
		t.Fatalf("post-drain action = %s", r.Action)
	}
	if e.st.Runtime.Buy.SessionID != "" || e.st.Runtime.Sell.SessionID != "" {
		t.Error("sessions survived the emergency drain")
	}
	if e.st.Runtime.Buy.On || e.st.Runtime.Sell.On {
		t.Error("sides re-armed after emergency")
	}
}

func TestEquityPctTargetsEquityAtArm(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Settings.BuyTPType = types.TPEquityPct
	e.st.Settings.BuyTPValue = dec("1") // 1% of equity captured at arm
	e.st.Runtime.Buy.On = true

	first := e.applyTick(mkTick("2000", "1999.8")) // equity 10000 -> target 100
	filled := pos(first.Comment, "0.01", "2000", "120")

	// Equity has since doubled; 1% of current equity would be 200 and the
	// 120 profit would not close. The captured base must be used instead.
	clk.advance(time.Second)
	tick := mkTick("2012", "2011.8", filled)
	tick.Equity = dec("20000")
	resp := e.applyTick(tick)
	if resp.Action != types.ActionCloseAll {
		t.Fatalf("action = %s, want CLOSE_ALL against equity at arm", resp.Action)
	}
}

func TestBuyWinsTieBreakAndDeferredSellFiresNext(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Settings.RowsSell = []types.GridRow{{Index: 0, Lots: dec("0.02")}}
	e.st.Runtime.Buy.On = true
	e.st.Runtime.Sell.On = true

	if r := e.applyTick(mkTick("2000", "1999.8")); r.Action != types.ActionBuy {
		t.Fatalf("tie-break tick action = %s, want BUY", r.Action)
	}
	clk.advance(time.Second)
	if r := e.applyTick(mkTick("2000", "1999.8")); r.Action != types.ActionSell {
		t.Fatalf("deferred side action = %s, want SELL", r.Action)
	}
}

func TestSymbolMismatchRejected(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	e.cfg.Symbol = "XAUUSD"
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Runtime.Buy.On = true

	tick := mkTick("2000", "1999.8")
	tick.Symbol = "EURUSD"
	resp := e.applyTick(tick)
	if resp.Action != types.ActionWait || resp.Error == "" {
		t.Fatalf("mismatched symbol: %+v", resp)
	}
	if e.st.Runtime.Buy.SessionID != "" {
		t.Error("mismatched symbol advanced the state machine")
	}
	if e.st.Market.Symbol == "EURUSD" {
		t.Error("mismatched symbol ingested into the market snapshot")
	}
}

func TestTickPersistsSnapshot(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}
	e.st.Runtime.Buy.On = true

	e.applyTick(mkTick("2000", "1999.8"))
	e.persist()

	loaded, warning, err := e.store.Load()
	if err != nil || warning != "" {
		t.Fatalf("reload: err=%v warning=%q", err, warning)
	}
	if loaded.Runtime.Buy.SessionID != e.st.Runtime.Buy.SessionID {
		t.Error("persisted snapshot lost the session")
	}
	if len(loaded.Runtime.Buy.Exec) != 1 {
		t.Error("persisted snapshot lost the exec map")
	}
}

func TestInvalidSettingsLeavePriorSettings(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	e.st.Settings.RowsBuy = []types.GridRow{{Index: 0, Lots: dec("0.01")}}

	bad := state.UserSettings{
		BuyTPType:  types.TPEquityPct,
		SellTPType: types.TPEquityPct,
		RowsBuy:    []types.GridRow{{Index: 2, Lots: dec("0.01")}},
		RowsSell:   []types.GridRow{},
	}
	if err := e.applySettings(bad); err == nil {
		t.Fatal("non-contiguous rows accepted")
	}
	if len(e.st.Settings.RowsBuy) != 1 || e.st.Settings.RowsBuy[0].Index != 0 {
		t.Errorf("prior settings lost: %+v", e.st.Settings.RowsBuy)
	}
}

func boolPtr(b bool) *bool { return &b }
