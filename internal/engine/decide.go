package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"elastic-dca/internal/ident"
	"elastic-dca/internal/journal"
	"elastic-dca/internal/state"
	"elastic-dca/pkg/types"
)

// two is used to derive the mid price from the quote.
var two = decimal.NewFromInt(2)

// applyTick is the per-heartbeat pipeline. It advances the state machines
// and returns exactly one action. Checks run in fixed priority: closing
// drain, hedge trigger, take-profit, external-close detection, expansion.
// The first stage that emits wins the tick; everything later waits for the
// next heartbeat.
func (e *Engine) applyTick(tick types.Tick) types.ActionResponse {
	if e.cfg.Symbol != "" && tick.Symbol != e.cfg.Symbol {
		resp := types.Wait()
		resp.Error = fmt.Sprintf("unexpected symbol %q, engine manages %q", tick.Symbol, e.cfg.Symbol)
		return resp
	}

	now := e.nowUnix()
	e.ingestMarket(tick, now)

	if e.st.Runtime.IdentityConflict() {
		return e.wait()
	}

	if conflict := e.checkIdentity(tick); conflict != "" {
		e.st.Runtime.ErrorStatus = conflict
		e.logger.Error("identity conflict, engine halted", "detail", conflict)
		e.notifier.IdentityConflict(conflict)
		e.emitEvent("identity_conflict", conflict)
		return e.wait()
	}

	counts := e.updateExecMaps(tick, now)

	for _, side := range types.Sides() {
		if resp, emitted := e.stepClosing(side, counts[side], now); emitted {
			return resp
		}
	}

	for _, side := range types.Sides() {
		if e.stepHedge(side) {
			return e.wait()
		}
	}

	for _, side := range types.Sides() {
		if resp, emitted := e.stepTakeProfit(side, tick, now); emitted {
			return resp
		}
	}

	for _, side := range types.Sides() {
		e.stepExternalClose(side, counts[side], now)
	}

	for _, side := range types.Sides() {
		if resp, emitted := e.stepExpansion(side, tick, now); emitted {
			return resp
		}
	}

	return e.wait()
}

// wait returns the no-op response, surfacing any latched error status.
func (e *Engine) wait() types.ActionResponse {
	resp := types.Wait()
	resp.Error = e.st.Runtime.ErrorStatus
	return resp
}

// ingestMarket refreshes the market snapshot from the heartbeat.
func (e *Engine) ingestMarket(tick types.Tick, now float64) {
	m := &e.st.Market
	m.AccountID = tick.AccountID
	m.Symbol = tick.Symbol
	m.Ask = tick.Ask
	m.Bid = tick.Bid
	m.Equity = tick.Equity
	m.Balance = tick.Balance
	m.Positions = tick.Positions

	mid := tick.Ask.Add(tick.Bid).Div(two)
	e.st.RecordPrice(mid, now, e.cfg.HistorySize)
}

// checkIdentity verifies that every managed-looking position on a side
// with an open session carries that session's hash. Foreign comments are
// ignored, as are managed-looking tags on a side with no session. A
// mismatch returns a non-empty conflict description; the caller latches it
// and freezes the loop.
func (e *Engine) checkIdentity(tick types.Tick) string {
	for _, pos := range tick.Positions {
		tag, ok := ident.Parse(pos.Comment)
		if !ok {
			continue
		}
		ss := e.st.Runtime.Side(tag.Side)
		if ss.SessionID != "" && tag.Hash != ss.Hash() {
			return fmt.Sprintf("identity conflict: position %d tagged %q does not match session %s", pos.Ticket, pos.Comment, ss.SessionID)
		}
	}
	return ""
}

// updateExecMaps reconciles each side's execution map against the broker
// position list and returns the per-side managed position counts.
//
// Rows present in the report are upserted with live price/profit. Rows in
// the map but absent from the report are removed, except while an order for
// that side is still inside the grace window: the optimistic entry written
// at emission must survive until the terminal has had time to fill.
func (e *Engine) updateExecMaps(tick types.Tick, now float64) map[types.Side]int {
	counts := map[types.Side]int{}

	seen := map[types.Side]map[int]bool{
		types.Buy:  {},
		types.Sell: {},
	}
	for _, pos := range tick.Positions {
		tag, ok := ident.Parse(pos.Comment)
		if !ok {
			continue
		}
		ss := e.st.Runtime.Side(tag.Side)
		if ss.SessionID == "" || tag.Hash != ss.Hash() {
			continue
		}
		counts[tag.Side]++
		seen[tag.Side][tag.Index] = true

		row := ss.Exec[tag.Index]
		if row.Timestamp.IsZero() {
			row.Timestamp = e.now()
		}
		row.Index = tag.Index
		row.EntryPrice = pos.Price
		row.Lots = pos.Volume
		row.Profit = pos.Profit
		ss.Exec[tag.Index] = row
	}

	for _, side := range types.Sides() {
		ss := e.st.Runtime.Side(side)
		if !ss.InFlight(now, e.grace()) {
			for _, idx := range ss.Exec.Indices() {
				if !seen[side][idx] {
					delete(ss.Exec, idx)
				}
			}
		}
		ss.Exec.Recalculate()
	}
	return counts
}

// stepClosing drains a side that is flushing its basket. While managed
// positions remain it re-emits CLOSE_ALL; once the terminal reports none
// and the grace window has passed, the session is finalized.
func (e *Engine) stepClosing(side types.Side, openCount int, now float64) (types.ActionResponse, bool) {
	ss := e.st.Runtime.Side(side)
	if !ss.IsClosing {
		return types.ActionResponse{}, false
	}

	if openCount > 0 {
		ss.LastOrderSentTS = now
		e.journal.RecordAction(journal.ActionRecord{
			Side: side, Action: types.ActionCloseAll,
			SessionID: ss.SessionID, RowIndex: -1,
			Comment: ss.SessionID, Reason: "closing",
		})
		e.emitEvent("close_all", map[string]any{"side": side, "session_id": ss.SessionID})
		resp := types.ActionResponse{
			Action:  types.ActionCloseAll,
			Comment: ss.SessionID,
			Error:   e.st.Runtime.ErrorStatus,
		}
		return resp, true
	}

	if !ss.InFlight(now, e.grace()) {
		e.finalizeSession(side, "closed")
	}
	return types.ActionResponse{}, false
}

// stepTakeProfit closes the basket once aggregate profit reaches the
// configured target. Hedge-locked sides never take profit.
func (e *Engine) stepTakeProfit(side types.Side, tick types.Tick, now float64) (types.ActionResponse, bool) {
	ss := e.st.Runtime.Side(side)
	cfg := e.st.Settings.Side(side)

	if ss.IsClosing || ss.HedgeTriggered || len(ss.Exec) == 0 || cfg.TPValue.IsZero() {
		return types.ActionResponse{}, false
	}

	target := e.tpTarget(cfg, ss, tick)
	if !target.IsPositive() {
		return types.ActionResponse{}, false
	}

	profit := ss.Exec.TotalProfit()
	if profit.LessThan(target) {
		return types.ActionResponse{}, false
	}

	ss.IsClosing = true
	ss.LastOrderSentTS = now
	e.logger.Info("take profit hit",
		"side", side, "session_id", ss.SessionID,
		"profit", profit, "target", target,
	)
	e.journal.RecordAction(journal.ActionRecord{
		Side: side, Action: types.ActionCloseAll,
		SessionID: ss.SessionID, RowIndex: -1,
		Comment: ss.SessionID, Reason: "take_profit",
	})
	e.notifier.TakeProfit(side, ss.SessionID, profit)
	e.emitEvent("take_profit", map[string]any{
		"side": side, "session_id": ss.SessionID, "profit": profit,
	})
	resp := types.ActionResponse{
		Action:  types.ActionCloseAll,
		Comment: ss.SessionID,
		Error:   e.st.Runtime.ErrorStatus,
	}
	return resp, true
}

// tpTarget resolves the absolute money target for a side.
func (e *Engine) tpTarget(cfg state.SideSettings, ss *state.SideState, tick types.Tick) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	switch cfg.TPType {
	case types.TPEquityPct:
		base := tick.Equity
		if ss.EquityAtArm.IsPositive() {
			base = ss.EquityAtArm
		}
		return base.Mul(cfg.TPValue).Div(hundred)
	case types.TPBalancePct:
		return tick.Balance.Mul(cfg.TPValue).Div(hundred)
	case types.TPFixedMoney:
		return cfg.TPValue
	}
	return decimal.Zero
}

// stepExternalClose detects a basket that vanished without this engine
// asking for it (manual close, stop-out). The session is finalized so the
// side can re-arm.
func (e *Engine) stepExternalClose(side types.Side, openCount int, now float64) {
	ss := e.st.Runtime.Side(side)
	if ss.SessionID == "" || ss.IsClosing || openCount > 0 {
		return
	}
	if ss.LastOrderSentTS == 0 || ss.InFlight(now, e.grace()) {
		return
	}
	e.logger.Warn("positions closed externally", "side", side, "session_id", ss.SessionID)
	e.finalizeSession(side, "external_close")
}

// stepExpansion arms an idle side and fires the next grid row when price
// has moved adversely by the row's gap. Row 0 fires unconditionally once
// armed (and past any limit price); a hedge-injected row fires on the next
// heartbeat regardless of direction.
func (e *Engine) stepExpansion(side types.Side, tick types.Tick, now float64) (types.ActionResponse, bool) {
	ss := e.st.Runtime.Side(side)
	if !ss.On || ss.IsClosing || ss.HedgeTriggered {
		return types.ActionResponse{}, false
	}

	cfg := e.st.Settings.Side(side)
	if len(cfg.Rows) == 0 {
		return types.ActionResponse{}, false
	}

	price := e.entryPrice(side, tick)

	if ss.SessionID == "" {
		ss.SessionID = ident.SessionID(side, ident.NewHash())
		ss.Exec = types.ExecMap{}
		ss.StartRef = decimal.Zero
		ss.EquityAtArm = decimal.Zero
		ss.WaitingLimit = cfg.LimitPrice.IsPositive()
		e.logger.Info("session armed",
			"side", side, "session_id", ss.SessionID,
			"waiting_limit", ss.WaitingLimit,
		)
	}

	if ss.WaitingLimit {
		if !limitCrossed(side, price, cfg.LimitPrice) {
			return types.ActionResponse{}, false
		}
		ss.WaitingLimit = false
	}

	k := len(ss.Exec)
	if k >= len(cfg.Rows) {
		return types.ActionResponse{}, false
	}
	row := cfg.Rows[k]

	fire := false
	reason := "expansion"
	switch {
	case k == 0:
		fire = true
	case ss.HedgePending:
		fire = true
		reason = "hedge"
	default:
		prev := ss.Exec[k-1].EntryPrice
		fire = gapReached(side, price, prev, row.DollarGap)
	}
	if !fire {
		return types.ActionResponse{}, false
	}
	return e.fireRow(side, ss, row, k, price, tick, now, reason), true
}

// fireRow emits the order intent for one grid row and records it
// optimistically in the exec map so duplicate emission is impossible while
// the order is in flight.
func (e *Engine) fireRow(side types.Side, ss *state.SideState, row types.GridRow, k int, price decimal.Decimal, tick types.Tick, now float64, reason string) types.ActionResponse {
	ss.Exec[k] = types.RowExecStats{
		Index:      k,
		EntryPrice: price,
		Lots:       row.Lots,
		Timestamp:  e.now(),
	}
	ss.Exec.Recalculate()
	ss.LastOrderSentTS = now
	ss.HedgePending = false

	if k == 0 {
		ss.StartRef = price
		ss.EquityAtArm = tick.Equity
	}

	comment := ident.Encode(side, ss.Hash(), k)
	e.logger.Info("row fired",
		"side", side, "row", k, "lots", row.Lots,
		"price", price, "comment", comment, "reason", reason,
	)
	e.journal.RecordAction(journal.ActionRecord{
		Side: side, Action: side.OrderAction(),
		SessionID: ss.SessionID, RowIndex: k,
		Volume: row.Lots, Comment: comment, Price: price, Reason: reason,
	})
	if row.Alert {
		e.notifier.RowFilled(side, ss.SessionID, k, row.Lots, price)
	}
	e.emitEvent("row_fired", map[string]any{
		"side": side, "row": k, "lots": row.Lots, "price": price, "reason": reason,
	})

	volume := row.Lots
	return types.ActionResponse{
		Action:  side.OrderAction(),
		Volume:  &volume,
		Comment: comment,
		Alert:   row.Alert,
		Error:   e.st.Runtime.ErrorStatus,
	}
}

// finalizeSession journals the closed session and resets the side. The On
// switch survives only in cyclic mode, so a completed cycle re-arms by
// itself.
func (e *Engine) finalizeSession(side types.Side, reason string) {
	ss := e.st.Runtime.Side(side)
	e.journal.RecordSessionEnd(journal.SessionEnd{
		SessionID:  ss.SessionID,
		Side:       side,
		RowsFilled: len(ss.Exec),
		TotalLots:  ss.Exec.TotalLots(),
		Profit:     ss.Exec.TotalProfit(),
		Reason:     reason,
	})
	e.logger.Info("session finalized",
		"side", side, "session_id", ss.SessionID, "reason", reason,
	)
	e.emitEvent("session_end", map[string]any{
		"side": side, "session_id": ss.SessionID, "reason": reason,
	})
	ss.ClearSession()
	if !e.st.Runtime.CyclicOn {
		ss.On = false
	}
}

// entryPrice is the side of the quote a new order would fill at.
func (e *Engine) entryPrice(side types.Side, tick types.Tick) decimal.Decimal {
	if side == types.Buy {
		return tick.Ask
	}
	return tick.Bid
}

// limitCrossed reports whether price has reached the side's entry limit.
func limitCrossed(side types.Side, price, limit decimal.Decimal) bool {
	if side == types.Buy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

// gapReached reports whether price moved adversely by gap from prev.
func gapReached(side types.Side, price, prev, gap decimal.Decimal) bool {
	if side == types.Buy {
		return price.LessThanOrEqual(prev.Sub(gap))
	}
	return price.GreaterThanOrEqual(prev.Add(gap))
}
