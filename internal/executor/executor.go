// Package executor turns sized orders into fill results. Each adapter
// variant answers the same question through the same contract: did this
// order fill, and at what price and size.
package executor

import (
	"context"

	"github.com/driftlab/drift-trading/internal/types"
)

// ExecutionAdapter executes one order and reports the outcome. A Rejected
// or Pending outcome is a normal result, not an error; the error return is
// reserved for transport failures that exhausted the retry budget.
type ExecutionAdapter interface {
	Execute(ctx context.Context, order types.Order) (types.FillResult, error)
}
