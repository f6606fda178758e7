package state

import (
	"fmt"
	"sort"

	"elastic-dca/pkg/types"
)

// ValidateUpdate checks a proposed settings replacement against the current
// runtime. The update is rejected as a whole on the first violation.
//
// Rules:
//   - limit prices, TP values and hedge values must be non-negative
//   - TP types must be one of the closed set
//   - per side, rows must be contiguous 0..n-1 after sorting by index
//   - every row needs lots > 0; rows with index >= 1 need dollar_gap > 0
//   - the grid cannot shrink below the number of already-executed rows
func ValidateUpdate(next *UserSettings, rt *RuntimeState) error {
	if next.BuyLimitPrice.IsNegative() || next.SellLimitPrice.IsNegative() {
		return fmt.Errorf("limit price must be non-negative")
	}
	if next.BuyTPValue.IsNegative() || next.SellTPValue.IsNegative() {
		return fmt.Errorf("tp value must be non-negative")
	}
	if next.BuyHedgeValue.IsNegative() || next.SellHedgeValue.IsNegative() {
		return fmt.Errorf("hedge value must be non-negative")
	}
	if !next.BuyTPType.Valid() {
		return fmt.Errorf("invalid buy_tp_type %q", next.BuyTPType)
	}
	if !next.SellTPType.Valid() {
		return fmt.Errorf("invalid sell_tp_type %q", next.SellTPType)
	}

	for _, side := range types.Sides() {
		rows := next.Rows(side)
		if err := validateRows(side, rows); err != nil {
			return err
		}
		if executed := len(rt.Side(side).Exec); len(rows) < executed {
			return fmt.Errorf("%s grid has %d rows but %d are already executed", side, len(rows), executed)
		}
	}
	return nil
}

func validateRows(side types.Side, rows []types.GridRow) error {
	sorted := append([]types.GridRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	for k, row := range sorted {
		if row.Index != k {
			return fmt.Errorf("%s grid rows must be contiguous from 0, got index %d at position %d", side, row.Index, k)
		}
		if !row.Lots.IsPositive() {
			return fmt.Errorf("%s row %d: lots must be positive", side, row.Index)
		}
		if row.Index >= 1 && !row.DollarGap.IsPositive() {
			return fmt.Errorf("%s row %d: dollar_gap must be positive", side, row.Index)
		}
	}
	return nil
}

// ApplyUpdate commits a validated settings replacement. Rows that have
// already executed in the current session keep their committed dollar_gap
// and lots (the broker position is already open at those terms); only the
// alert flag of an executed row follows the update. Unexecuted rows are
// replaced wholesale.
func ApplyUpdate(cur *UserSettings, next *UserSettings, rt *RuntimeState) {
	merged := *next
	for _, side := range types.Sides() {
		exec := rt.Side(side).Exec
		if len(exec) == 0 {
			continue
		}
		rows := append([]types.GridRow(nil), merged.Rows(side)...)
		sort.Slice(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })
		for i, row := range rows {
			if _, done := exec[row.Index]; !done {
				continue
			}
			for _, old := range cur.Rows(side) {
				if old.Index == row.Index {
					row.DollarGap = old.DollarGap
					row.Lots = old.Lots
					rows[i] = row
					break
				}
			}
		}
		merged.SetRows(side, rows)
	}
	*cur = merged
	cur.normalizeRows()
}

func (s *UserSettings) normalizeRows() {
	sort.Slice(s.RowsBuy, func(i, j int) bool { return s.RowsBuy[i].Index < s.RowsBuy[j].Index })
	sort.Slice(s.RowsSell, func(i, j int) bool { return s.RowsSell[i].Index < s.RowsSell[j].Index })
	if s.RowsBuy == nil {
		s.RowsBuy = []types.GridRow{}
	}
	if s.RowsSell == nil {
		s.RowsSell = []types.GridRow{}
	}
}
