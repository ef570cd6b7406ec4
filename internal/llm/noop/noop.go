package noop

import (
	"context"

	"stockcast/internal/interfaces"
)

// Oracle is a stand-in that always replies with an abstaining forecast.
// Useful for dry runs and wiring tests without API keys.
type Oracle struct{}

func New() *Oracle { return &Oracle{} }

var _ interfaces.Oracle = (*Oracle)(nil)

func (*Oracle) Call(_ context.Context, _, _ string) (string, error) {
	return `{"prediction":"Abstain","p_up":0.33,"p_down":0.33,"p_flat":0.34,` +
		`"trade_action":"skip","position_size":0.0,"top_drivers":[],` +
		`"invalidators":["noop oracle"],"reasoning":"noop oracle always abstains"}`, nil
}
