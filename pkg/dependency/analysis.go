package dependency

import (
	"context"
	"time"

	"github.com/natserract/sfclean/pkg/resource"
)

// Analysis pairs a container with its lookup result and verdict.
type Analysis struct {
	Container resource.Container `json:"container"`
	Result    Result             `json:"result"`
	Verdict   Verdict            `json:"verdict"`
}

// Analyze checks and classifies containers, keeping their order.
func (e *Engine) Analyze(ctx context.Context, containers []resource.Container, now time.Time, progress ProgressFunc) ([]Analysis, error) {
	keys := make([]string, 0, len(containers))
	for _, c := range containers {
		keys = append(keys, c.CustomerKey)
	}

	results, err := e.Check(ctx, keys, progress)
	if err != nil {
		return nil, err
	}

	out := make([]Analysis, 0, len(containers))
	for _, c := range containers {
		res := results[c.CustomerKey]
		v := e.Classify(c, res.All, now)
		if res.Err != nil && v.Status != StatusBlocked {
			v.Status = StatusRequiresReview
			v.Reasons = append(v.Reasons, "dependency lookup failed: "+res.Err.Error())
		}
		out = append(out, Analysis{Container: c, Result: res, Verdict: v})
	}
	return out, nil
}

// Tally counts analyses per status.
func Tally(analyses []Analysis) map[Status]int {
	out := map[Status]int{}
	for _, a := range analyses {
		out[a.Verdict.Status]++
	}
	return out
}
