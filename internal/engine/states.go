package engine

import (
	"github.com/noah-isme/backend-booking/internal/pricing"
	"github.com/noah-isme/backend-booking/internal/selection"
)

// NodeState is the presentation view of one selected node. While a node is
// loading Total keeps the last known value.
type NodeState struct {
	Key     selection.NodeKey     `json:"key"`
	Kind    string                `json:"kind"`
	Parent  selection.NodeKey     `json:"parent,omitempty"`
	Status  selection.PriceStatus `json:"status"`
	Loading bool                  `json:"loading"`
	Total   pricing.Money         `json:"total"`
	Error   string                `json:"error,omitempty"`
}

// NodeStates lists every selected priceable node in key order.
func (s *Session) NodeStates() []NodeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	inputs := s.tree.PriceInputs()
	out := make([]NodeState, 0, len(inputs))
	for _, in := range inputs {
		entry, ok := s.cache.Get(in.Key)
		state := NodeState{
			Key:    in.Key,
			Kind:   in.Kind.String(),
			Parent: in.ParentKey(),
			Status: selection.StatusPending,
		}
		if ok {
			state.Status = entry.Status
			state.Loading = entry.Loading
			state.Total = pricedFrom(entry, true, in.Quantities).Total
			if entry.Err != nil {
				state.Error = "price unavailable"
			}
		}
		out = append(out, state)
	}
	return out
}
