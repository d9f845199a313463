package db

import (
	"math"
	"math/big"
	"sort"
)

// SelectPercentile returns the fee at index floor(len(fees) * percentile) of the
// ascending order, clamped to the last element. fees is sorted in place.
func SelectPercentile(fees []*big.Int, percentile float64) (*big.Int, error) {
	if len(fees) == 0 {
		return nil, ErrNoSamples
	}

	sort.Slice(fees, func(i, j int) bool {
		return fees[i].Cmp(fees[j]) < 0
	})

	index := int(math.Floor(float64(len(fees)) * percentile))
	if index >= len(fees) {
		index = len(fees) - 1
	}
	if index < 0 {
		index = 0
	}

	return new(big.Int).Set(fees[index]), nil
}
