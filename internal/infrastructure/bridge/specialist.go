package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/Johnsonbros/Zeke-sub000/internal/domain/specialist"
)

// Specialist is a registry entry whose Run implementation is a single
// bridge call: the kernel dispatches to it exactly like any in-process
// agent, but the actual work happens in the external worker the Client
// is configured against.
type Specialist struct {
	specialist.BaseSpecialist
	client *Client
}

// NewSpecialist wires id into client, giving it the declared capabilities
// and handoff targets the registry needs for routing.
func NewSpecialist(id specialist.ID, name, description string, caps []specialist.CapabilityCategory, targets []specialist.ID, client *Client) *Specialist {
	return &Specialist{
		BaseSpecialist: specialist.NewBaseSpecialist(id, name, description, caps, targets),
		client:         client,
	}
}

// Run invokes the bridge and surfaces a failed call as an error, letting
// the kernel's own dispatch loop build the failed AgentResponse — Call
// itself never returns a transport error, only a non-nil error from a
// tripped circuit breaker. Run(utterance, ctx) carries no context.Context
// of its own per the worker contract, so one is derived here bounded by
// whatever time remains on the run's budget.
func (s *Specialist) Run(utterance string, actx *specialist.AgentContext) (string, error) {
	ctx := context.Background()
	if actx.Budget != nil {
		summary := actx.Budget.GetSummary()
		remaining := summary.TimeoutSeconds - summary.ElapsedSeconds
		if remaining > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(remaining*float64(time.Second)))
			defer cancel()
		}
	}

	resp, err := s.client.Call(ctx, s.ID(), actx)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("%s", resp.Error)
	}
	return resp.Content, nil
}
