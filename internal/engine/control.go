package engine

import (
	"elastic-dca/internal/state"
	"elastic-dca/pkg/types"
)

// applyControl applies operator switches in field order: buy switch, sell
// switch, cyclic, emergency close.
func (e *Engine) applyControl(cmd types.ControlCommand) {
	if cmd.BuySwitch != nil {
		e.setSwitch(types.Buy, *cmd.BuySwitch)
	}
	if cmd.SellSwitch != nil {
		e.setSwitch(types.Sell, *cmd.SellSwitch)
	}
	if cmd.Cyclic != nil {
		e.st.Runtime.CyclicOn = *cmd.Cyclic
		e.logger.Info("cyclic mode set", "on", *cmd.Cyclic)
	}
	if cmd.EmergencyClose != nil && *cmd.EmergencyClose {
		e.emergencyClose()
	}
	e.emitEvent("control", cmd)
}

// setSwitch turns a side on or off. Turning off a side with live exposure
// moves it to Closing so the basket drains through CLOSE_ALL on following
// heartbeats; a side that never sent an order just resets.
func (e *Engine) setSwitch(side types.Side, on bool) {
	ss := e.st.Runtime.Side(side)
	ss.On = on
	e.logger.Info("side switch set", "side", side, "on", on)

	if on || ss.SessionID == "" || ss.IsClosing {
		return
	}
	if len(ss.Exec) > 0 || ss.LastOrderSentTS > 0 {
		ss.IsClosing = true
		e.logger.Info("side closing on operator off", "side", side, "session_id", ss.SessionID)
	} else {
		// Session is only waiting on a limit price; nothing is open.
		ss.ClearSession()
	}
}

// emergencyClose is the operator's panic button: it clears any latched
// error (including an identity conflict), disables cyclic mode and both
// switches, and drains every side with exposure. Sides with nothing open
// reset immediately.
func (e *Engine) emergencyClose() {
	e.logger.Warn("emergency close requested")
	e.st.Runtime.ErrorStatus = ""
	e.st.Runtime.CyclicOn = false

	for _, side := range types.Sides() {
		ss := e.st.Runtime.Side(side)
		ss.On = false
		if ss.SessionID == "" {
			continue
		}
		if len(ss.Exec) > 0 || ss.LastOrderSentTS > 0 {
			ss.IsClosing = true
			ss.HedgeTriggered = false
			ss.HedgePending = false
		} else {
			ss.ClearSession()
		}
	}
	e.emitEvent("emergency_close", nil)
}

// applySettings validates and commits a settings replacement.
func (e *Engine) applySettings(next state.UserSettings) error {
	if err := state.ValidateUpdate(&next, &e.st.Runtime); err != nil {
		e.logger.Warn("settings update rejected", "error", err)
		return err
	}
	state.ApplyUpdate(&e.st.Settings, &next, &e.st.Runtime)
	e.logger.Info("settings updated",
		"buy_rows", len(e.st.Settings.RowsBuy),
		"sell_rows", len(e.st.Settings.RowsSell),
	)
	e.emitEvent("settings", nil)
	return nil
}
