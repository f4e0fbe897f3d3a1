package emissions

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

// ErrOffsetInvalid wraps every offset validation failure.
var ErrOffsetInvalid = errors.New("invalid offset")

// SumOffsets totals the recorded offset amounts. Missing amounts count as zero.
func SumOffsets(offsets []types.Offset) float64 {
	var total float64
	for _, o := range offsets {
		total += types.Value(o.Amount)
	}
	return total
}

// ValidateOffset checks a new offset before it is sent to the ledger and
// returns the normalised request body.
func ValidateOffset(description string, amount *float64) (types.NewOffset, error) {
	description = strings.TrimSpace(description)
	if description == "" || amount == nil {
		return types.NewOffset{}, fmt.Errorf("%w: description and amount are required", ErrOffsetInvalid)
	}
	a := *amount
	if math.IsNaN(a) || math.IsInf(a, 0) || a <= 0 {
		return types.NewOffset{}, fmt.Errorf("%w: amount must be a positive number", ErrOffsetInvalid)
	}
	return types.NewOffset{Description: description, Amount: a}, nil
}
