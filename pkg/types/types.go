// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — sides, actions,
// grid rows, the terminal heartbeat payload, and the per-row execution
// statistics. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side identifies one of the two independent halves of the grid.
// The string values double as the comment-tag prefix ("buy_...", "sell_...").
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the counter side, used by the hedge controller.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionType returns the broker-side position type string ("BUY"/"SELL").
func (s Side) PositionType() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// OrderAction returns the order intent emitted when this side fires a row.
func (s Side) OrderAction() Action {
	if s == Buy {
		return ActionBuy
	}
	return ActionSell
}

// Sides lists both sides in deterministic priority order: BUY is always
// processed (and tie-broken) first.
func Sides() [2]Side {
	return [2]Side{Buy, Sell}
}

// Action is the single command returned to the terminal for each heartbeat.
type Action string

const (
	ActionWait     Action = "WAIT"
	ActionBuy      Action = "BUY"
	ActionSell     Action = "SELL"
	ActionCloseAll Action = "CLOSE_ALL"
)

// TPType selects how the basket take-profit target is computed.
// A zero tp_value disables TP regardless of type.
type TPType string

const (
	TPEquityPct  TPType = "equity_pct"  // target = value% of equity captured at row-0 fill
	TPBalancePct TPType = "balance_pct" // target = value% of current balance
	TPFixedMoney TPType = "fixed_money" // target = value (absolute money)
)

// Valid reports whether t is one of the closed set of TP types.
func (t TPType) Valid() bool {
	switch t {
	case TPEquityPct, TPBalancePct, TPFixedMoney:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Grid configuration
// ————————————————————————————————————————————————————————————————————————

// GridRow is one planned entry of the grid. Row 0 is the anchor entry and
// its DollarGap is never read; row k (k ≥ 1) fires once price has moved
// adversely by DollarGap from row k−1's entry price.
type GridRow struct {
	Index     int             `json:"index"`
	DollarGap decimal.Decimal `json:"dollar_gap"`
	Lots      decimal.Decimal `json:"lots"`
	Alert     bool            `json:"alert"` // one-shot UI flag, cleared by the UI
}

// ————————————————————————————————————————————————————————————————————————
// Terminal heartbeat
// ————————————————————————————————————————————————————————————————————————

// Position is one open broker position as reported by the terminal.
// Comment carries the managed tag ("{side}_{hash}_idx{n}") for positions
// opened by this engine; anything else is a foreign position.
type Position struct {
	Ticket  int64           `json:"ticket"`
	Symbol  string          `json:"symbol,omitempty"`
	Type    string          `json:"type"` // "BUY" or "SELL"
	Volume  decimal.Decimal `json:"volume"`
	Price   decimal.Decimal `json:"price"`
	Profit  decimal.Decimal `json:"profit"`
	Comment string          `json:"comment"`
}

// Tick is the heartbeat posted by the terminal every second.
type Tick struct {
	AccountID string          `json:"account_id"`
	Equity    decimal.Decimal `json:"equity"`
	Balance   decimal.Decimal `json:"balance"`
	Symbol    string          `json:"symbol"`
	Ask       decimal.Decimal `json:"ask"`
	Bid       decimal.Decimal `json:"bid"`
	Positions []Position      `json:"positions"`
}

// ActionResponse is the engine's reply to a heartbeat: exactly one action.
// Volume and Comment are set for BUY/SELL emissions; Comment carries the
// side-prefixed session ID for CLOSE_ALL. Error surfaces a latched
// error_status alongside WAIT.
type ActionResponse struct {
	Action  Action           `json:"action"`
	Volume  *decimal.Decimal `json:"volume,omitempty"`
	Comment string           `json:"comment,omitempty"`
	Alert   bool             `json:"alert,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Wait returns the no-op response.
func Wait() ActionResponse {
	return ActionResponse{Action: ActionWait}
}

// ————————————————————————————————————————————————————————————————————————
// Execution map
// ————————————————————————————————————————————————————————————————————————

// RowExecStats is the recorded fill state of one executed grid row.
// Cumulative fields are basket running totals in index order, kept for the UI.
type RowExecStats struct {
	Index            int             `json:"index"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	Lots             decimal.Decimal `json:"lots"`
	Profit           decimal.Decimal `json:"profit"`
	Timestamp        time.Time       `json:"timestamp"`
	CumulativeLots   decimal.Decimal `json:"cumulative_lots"`
	CumulativeProfit decimal.Decimal `json:"cumulative_profit"`
}

// ExecMap maps a grid row index to its execution stats. In memory the keys
// are integers; the JSON form uses stringified indices for compatibility
// with the UI and the persisted snapshot.
//
// Its size equals the next row index to fire for the owning side.
type ExecMap map[int]RowExecStats

// Indices returns the executed row indices in ascending order.
func (m ExecMap) Indices() []int {
	out := make([]int, 0, len(m))
	for idx := range m {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// TotalProfit sums unrealized profit across all executed rows.
func (m ExecMap) TotalProfit() decimal.Decimal {
	total := decimal.Zero
	for _, row := range m {
		total = total.Add(row.Profit)
	}
	return total
}

// TotalLots sums volume across all executed rows.
func (m ExecMap) TotalLots() decimal.Decimal {
	total := decimal.Zero
	for _, row := range m {
		total = total.Add(row.Lots)
	}
	return total
}

// Last returns the highest-index executed row.
func (m ExecMap) Last() (RowExecStats, bool) {
	if len(m) == 0 {
		return RowExecStats{}, false
	}
	idxs := m.Indices()
	return m[idxs[len(idxs)-1]], true
}

// Recalculate refreshes the cumulative lots/profit running totals.
func (m ExecMap) Recalculate() {
	cumLots, cumProfit := decimal.Zero, decimal.Zero
	for _, idx := range m.Indices() {
		row := m[idx]
		cumLots = cumLots.Add(row.Lots)
		cumProfit = cumProfit.Add(row.Profit)
		row.CumulativeLots = cumLots
		row.CumulativeProfit = cumProfit
		m[idx] = row
	}
}

// Clone returns a deep copy.
func (m ExecMap) Clone() ExecMap {
	out := make(ExecMap, len(m))
	for idx, row := range m {
		out[idx] = row
	}
	return out
}

// MarshalJSON emits the map with stringified integer keys.
func (m ExecMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]RowExecStats, len(m))
	for idx, row := range m {
		out[strconv.Itoa(idx)] = row
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the stringified-key form.
func (m *ExecMap) UnmarshalJSON(data []byte) error {
	var raw map[string]RowExecStats
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ExecMap, len(raw))
	for key, row := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("exec map key %q: %w", key, err)
		}
		out[idx] = row
	}
	*m = out
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Control surface
// ————————————————————————————————————————————————————————————————————————

// ControlCommand is the body of POST /api/control. Fields that are present
// are applied in declaration order within a single engine event.
type ControlCommand struct {
	BuySwitch      *bool `json:"buy_switch,omitempty"`
	SellSwitch     *bool `json:"sell_switch,omitempty"`
	Cyclic         *bool `json:"cyclic,omitempty"`
	EmergencyClose *bool `json:"emergency_close,omitempty"`
}
