package engine

import (
	"github.com/shopspring/decimal"

	"elastic-dca/internal/ident"
	"elastic-dca/pkg/types"
)

// stepHedge checks one side's loss threshold and, on breach, locks that
// side and injects a counter order on the opposite side. The trigger tick
// itself emits WAIT; the counter row fires through the normal expansion
// path on the next heartbeat. Returns true when the trigger fired.
func (e *Engine) stepHedge(side types.Side) bool {
	ss := e.st.Runtime.Side(side)
	cfg := e.st.Settings.Side(side)

	if ss.SessionID == "" || len(ss.Exec) == 0 || ss.IsClosing || ss.HedgeTriggered {
		return false
	}
	if !cfg.HedgeValue.IsPositive() {
		return false
	}

	profit := ss.Exec.TotalProfit()
	if profit.GreaterThan(cfg.HedgeValue.Neg()) {
		return false
	}

	ss.HedgeTriggered = true
	counterLots := ss.Exec.TotalLots()

	e.logger.Warn("hedge triggered",
		"side", side, "session_id", ss.SessionID,
		"loss", profit, "counter_lots", counterLots,
	)
	e.notifier.HedgeTriggered(side, ss.SessionID, profit, counterLots)
	e.emitEvent("hedge_triggered", map[string]any{
		"side": side, "session_id": ss.SessionID,
		"loss": profit, "counter_lots": counterLots,
	})

	opp := side.Opposite()
	os := e.st.Runtime.Side(opp)
	if os.IsClosing {
		// The counter side is already flushing its basket; the losing side
		// stays locked with no injection.
		return true
	}

	if !os.On || len(os.Exec) == 0 {
		e.injectFresh(opp, counterLots)
	} else {
		e.injectCounterRow(opp, counterLots)
	}
	return true
}

// injectFresh starts the opposite side from scratch with a single-row grid
// sized to the full losing volume. The session is armed inline so no limit
// price can delay the counter: row 0 fires on the next heartbeat.
func (e *Engine) injectFresh(side types.Side, lots decimal.Decimal) {
	ss := e.st.Runtime.Side(side)
	ss.ClearSession()
	ss.On = true
	ss.SessionID = ident.SessionID(side, ident.NewHash())
	ss.WaitingLimit = false

	e.st.Settings.SetRows(side, []types.GridRow{{
		Index: 0,
		Lots:  lots,
		Alert: true,
	}})
	e.logger.Info("hedge counter injected on fresh side",
		"side", side, "session_id", ss.SessionID, "lots", lots,
	)
}

// injectCounterRow splices one extra row, sized to the losing volume, into
// an already-accumulating opposite side at its next-to-fire slot; later
// planned rows shift up by one. HedgePending makes the spliced row fire on
// the next heartbeat regardless of which way price is moving.
func (e *Engine) injectCounterRow(side types.Side, lots decimal.Decimal) {
	ss := e.st.Runtime.Side(side)
	rows := append([]types.GridRow(nil), e.st.Settings.Rows(side)...)

	gap := decimal.Zero
	if last, ok := ss.Exec.Last(); ok {
		gap = last.EntryPrice.Sub(e.st.Market.Mid).Abs()
	}

	k := len(ss.Exec)
	counter := types.GridRow{
		Index:     k,
		DollarGap: gap,
		Lots:      lots,
		Alert:     true,
	}
	rows = append(rows[:k:k], append([]types.GridRow{counter}, rows[k:]...)...)
	for i := range rows {
		rows[i].Index = i
	}
	e.st.Settings.SetRows(side, rows)
	ss.HedgePending = true

	e.logger.Info("hedge counter injected into active side",
		"side", side, "session_id", ss.SessionID, "row", k, "lots", lots, "gap", gap,
	)
}
