package api

import (
	"context"

	"elastic-dca/internal/state"
	"elastic-dca/pkg/types"
)

// EngineService is what the HTTP layer needs from the decision engine.
// Every call is serialized by the engine's event loop; handlers just block
// on the reply.
type EngineService interface {
	ProcessTick(ctx context.Context, tick types.Tick) (types.ActionResponse, error)
	UpdateSettings(ctx context.Context, settings state.UserSettings) error
	ApplyControl(ctx context.Context, cmd types.ControlCommand) error
	Snapshot(ctx context.Context) (*state.State, error)
}

// UIData is the consistent read-model snapshot served to the dashboard.
type UIData struct {
	Settings   state.UserSettings   `json:"settings"`
	Runtime    state.RuntimeState   `json:"runtime"`
	Market     state.MarketSnapshot `json:"market"`
	LastUpdate string               `json:"last_update"`
}

// HealthStatus is the GET /api/health payload.
type HealthStatus struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	ErrorStatus string `json:"error_status,omitempty"`
	BuySession  string `json:"buy_session,omitempty"`
	SellSession string `json:"sell_session,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
