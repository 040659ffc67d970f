// Package strategy holds the trading policies. A policy is a pure decision
// function over price history and the current position; it never touches
// cash, orders, or the exchange.
package strategy

import (
	"github.com/driftlab/drift-trading/internal/types"
)

// Policy decides what to do at one bar. The history slice is ordered
// oldest-first and always ends with the bar under decision. A policy that
// cannot decide returns a Hold intent, never an error.
type Policy interface {
	// Name identifies the policy in logs and results.
	Name() string
	// Decide returns the intent for the latest bar in history.
	Decide(history []types.PriceBar, position types.Position) types.TradeIntent
}

// HoldPolicy never trades. It is the baseline for engine tests and for
// measuring benchmark drift.
type HoldPolicy struct{}

// NewHoldPolicy creates a policy that always holds.
func NewHoldPolicy() *HoldPolicy {
	return &HoldPolicy{}
}

// Name implements Policy.
func (p *HoldPolicy) Name() string {
	return "hold"
}

// Decide implements Policy.
func (p *HoldPolicy) Decide(history []types.PriceBar, position types.Position) types.TradeIntent {
	return types.Hold()
}

var _ Policy = (*HoldPolicy)(nil)
