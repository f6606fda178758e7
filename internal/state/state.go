// Package state holds the engine's single mutable aggregate: user settings,
// per-side runtime, and the last-seen market snapshot.
//
// The aggregate is owned exclusively by the engine's event loop. Everything
// handed to other components (read-model, persistence) is a deep copy taken
// after an event commits, so readers never observe a torn mid-event view.
package state

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"elastic-dca/pkg/types"
)

// HistorySize caps the in-memory mid-price ring served to the UI chart.
const HistorySize = 100

// UserSettings is the full operator configuration, replaced atomically by
// POST /api/update-settings.
type UserSettings struct {
	BuyLimitPrice  decimal.Decimal `json:"buy_limit_price"`
	SellLimitPrice decimal.Decimal `json:"sell_limit_price"`

	BuyTPType   types.TPType    `json:"buy_tp_type"`
	BuyTPValue  decimal.Decimal `json:"buy_tp_value"`
	SellTPType  types.TPType    `json:"sell_tp_type"`
	SellTPValue decimal.Decimal `json:"sell_tp_value"`

	BuyHedgeValue  decimal.Decimal `json:"buy_hedge_value"`
	SellHedgeValue decimal.Decimal `json:"sell_hedge_value"`

	RowsBuy  []types.GridRow `json:"rows_buy"`
	RowsSell []types.GridRow `json:"rows_sell"`
}

// SideSettings is a per-side view over UserSettings.
type SideSettings struct {
	LimitPrice decimal.Decimal
	TPType     types.TPType
	TPValue    decimal.Decimal
	HedgeValue decimal.Decimal
	Rows       []types.GridRow
}

// Side returns the settings slice for one side.
func (s *UserSettings) Side(side types.Side) SideSettings {
	if side == types.Buy {
		return SideSettings{
			LimitPrice: s.BuyLimitPrice,
			TPType:     s.BuyTPType,
			TPValue:    s.BuyTPValue,
			HedgeValue: s.BuyHedgeValue,
			Rows:       s.RowsBuy,
		}
	}
	return SideSettings{
		LimitPrice: s.SellLimitPrice,
		TPType:     s.SellTPType,
		TPValue:    s.SellTPValue,
		HedgeValue: s.SellHedgeValue,
		Rows:       s.RowsSell,
	}
}

// Rows returns the grid rows for one side.
func (s *UserSettings) Rows(side types.Side) []types.GridRow {
	if side == types.Buy {
		return s.RowsBuy
	}
	return s.RowsSell
}

// SetRows replaces the grid rows for one side.
func (s *UserSettings) SetRows(side types.Side, rows []types.GridRow) {
	if side == types.Buy {
		s.RowsBuy = rows
	} else {
		s.RowsSell = rows
	}
}

// SideState is the runtime lifecycle state of one side.
//
// Derived phases: Idle (empty session), WaitingLimit, Armed (accumulating),
// Closing (draining broker positions), HedgeLocked (loss threshold hit,
// expansion frozen).
type SideState struct {
	On             bool            `json:"on"`
	SessionID      string          `json:"session_id"`
	WaitingLimit   bool            `json:"waiting_limit"`
	IsClosing      bool            `json:"is_closing"`
	HedgeTriggered bool            `json:"hedge_triggered"`
	HedgePending   bool            `json:"hedge_pending"`
	Exec           types.ExecMap   `json:"exec_map"`
	StartRef       decimal.Decimal `json:"start_ref"`
	EquityAtArm    decimal.Decimal `json:"equity_at_arm"`

	// LastOrderSentTS is the Sync-Shield clock: UNIX seconds of the most
	// recent order intent emitted for this side, 0 if never.
	LastOrderSentTS float64 `json:"last_order_sent_ts"`
}

// Hash returns the 8-hex session hash, or "" with no session.
func (ss *SideState) Hash() string {
	if i := strings.IndexByte(ss.SessionID, '_'); i >= 0 {
		return ss.SessionID[i+1:]
	}
	return ""
}

// InFlight reports whether an order intent is inside the grace window:
// "no positions" reports from the terminal are disregarded while true.
func (ss *SideState) InFlight(now float64, grace float64) bool {
	return ss.LastOrderSentTS > 0 && now-ss.LastOrderSentTS < grace
}

// ClearSession resets everything tied to the current session. The On switch
// is left untouched so cyclic restarts can re-arm.
func (ss *SideState) ClearSession() {
	ss.SessionID = ""
	ss.WaitingLimit = false
	ss.IsClosing = false
	ss.HedgeTriggered = false
	ss.HedgePending = false
	ss.Exec = types.ExecMap{}
	ss.StartRef = decimal.Zero
	ss.EquityAtArm = decimal.Zero
	ss.LastOrderSentTS = 0
}

// RuntimeState is the global runtime: both sides plus shared controls.
type RuntimeState struct {
	Buy  SideState `json:"buy"`
	Sell SideState `json:"sell"`

	CyclicOn bool `json:"cyclic_on"`

	// ErrorStatus is the single user-visible fault string; empty = healthy.
	// An identity conflict latches here and freezes the decision loop until
	// an emergency close clears it.
	ErrorStatus string `json:"error_status"`
}

// Side returns the mutable state for one side.
func (rt *RuntimeState) Side(side types.Side) *SideState {
	if side == types.Buy {
		return &rt.Buy
	}
	return &rt.Sell
}

// IdentityConflict reports whether the latched error is a position-identity
// conflict (the only fault class that blocks the decision loop).
func (rt *RuntimeState) IdentityConflict() bool {
	return strings.HasPrefix(rt.ErrorStatus, "identity conflict")
}

// PricePoint is one mid-price sample in the UI history ring.
type PricePoint struct {
	Mid decimal.Decimal `json:"mid"`
	TS  float64         `json:"ts"`
}

// MarketSnapshot is the last-seen market view from the terminal heartbeat.
type MarketSnapshot struct {
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Ask       decimal.Decimal `json:"ask"`
	Bid       decimal.Decimal `json:"bid"`
	Mid       decimal.Decimal `json:"mid"`
	Equity    decimal.Decimal `json:"equity"`
	Balance   decimal.Decimal `json:"balance"`
	Direction string          `json:"direction"` // "up", "down", "neutral"

	History []PricePoint `json:"history"`

	// Positions is the raw broker position list from the last heartbeat;
	// kept so the read-model stays honest during an identity conflict.
	Positions []types.Position `json:"positions"`
}

// State is the full persisted aggregate.
type State struct {
	Settings   UserSettings   `json:"settings"`
	Runtime    RuntimeState   `json:"runtime"`
	Market     MarketSnapshot `json:"market"`
	LastUpdate time.Time      `json:"last_update"`
}

// Default returns a fresh state with empty settings and both sides idle.
func Default() *State {
	return &State{
		Settings: UserSettings{
			BuyTPType:  types.TPEquityPct,
			SellTPType: types.TPEquityPct,
			RowsBuy:    []types.GridRow{},
			RowsSell:   []types.GridRow{},
		},
		Runtime: RuntimeState{
			Buy:  SideState{Exec: types.ExecMap{}},
			Sell: SideState{Exec: types.ExecMap{}},
		},
		Market: MarketSnapshot{Direction: "neutral"},
	}
}

// Normalize repairs nil maps/slices after a JSON load so the rest of the
// engine never has to nil-check.
func (s *State) Normalize() {
	if s.Runtime.Buy.Exec == nil {
		s.Runtime.Buy.Exec = types.ExecMap{}
	}
	if s.Runtime.Sell.Exec == nil {
		s.Runtime.Sell.Exec = types.ExecMap{}
	}
	if s.Settings.RowsBuy == nil {
		s.Settings.RowsBuy = []types.GridRow{}
	}
	if s.Settings.RowsSell == nil {
		s.Settings.RowsSell = []types.GridRow{}
	}
	if s.Market.Direction == "" {
		s.Market.Direction = "neutral"
	}
}

// RecordPrice appends a mid-price sample to the history ring and updates
// the direction hint. limit caps the ring; values <= 0 fall back to
// HistorySize.
func (s *State) RecordPrice(mid decimal.Decimal, ts float64, limit int) {
	if limit <= 0 {
		limit = HistorySize
	}
	if n := len(s.Market.History); n > 0 {
		last := s.Market.History[n-1].Mid
		switch mid.Cmp(last) {
		case 1:
			s.Market.Direction = "up"
		case -1:
			s.Market.Direction = "down"
		}
	}
	s.Market.History = append(s.Market.History, PricePoint{Mid: mid, TS: ts})
	if len(s.Market.History) > limit {
		s.Market.History = s.Market.History[len(s.Market.History)-limit:]
	}
	s.Market.Mid = mid
}

// Clone returns a deep copy for the read-model.
func (s *State) Clone() *State {
	out := *s

	out.Settings.RowsBuy = append([]types.GridRow(nil), s.Settings.RowsBuy...)
	out.Settings.RowsSell = append([]types.GridRow(nil), s.Settings.RowsSell...)

	out.Runtime.Buy.Exec = s.Runtime.Buy.Exec.Clone()
	out.Runtime.Sell.Exec = s.Runtime.Sell.Exec.Clone()

	out.Market.History = append([]PricePoint(nil), s.Market.History...)
	out.Market.Positions = append([]types.Position(nil), s.Market.Positions...)

	return &out
}
