package audits

import (
	"context"
	"math"
	"time"
)

// PollResult is the status polling read model for one supplier.
type PollResult struct {
	Audits      []Audit `json:"audits"`
	AnyInFlight bool    `json:"any_in_flight"`
	// PollInterval is the re-poll period in seconds while AnyInFlight holds.
	PollInterval int `json:"poll_interval"`
}

// Poll reads the supplier's ordered history and reports whether any audit still
// awaits a terminal extraction outcome.
func Poll(ctx context.Context, sys System, supplierID string, interval time.Duration) (*PollResult, error) {
	list, err := sys.List(ctx, supplierID)
	if err != nil {
		return nil, err
	}

	return &PollResult{
		Audits:       list,
		AnyInFlight:  AnyInFlight(list),
		PollInterval: intervalSeconds(interval),
	}, nil
}

// AnyInFlight reports whether any audit in list is pending or processing.
func AnyInFlight(list []Audit) bool {
	for i := range list {
		if list[i].InFlight() {
			return true
		}
	}
	return false
}

func intervalSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
