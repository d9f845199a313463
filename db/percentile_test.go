package db

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPercentile(t *testing.T) {
	fees := func(values ...int64) []*big.Int {
		out := make([]*big.Int, len(values))
		for i, v := range values {
			out[i] = big.NewInt(v)
		}
		return out
	}

	t.Run("single sample", func(t *testing.T) {
		fee, err := SelectPercentile(fees(7), 0.9)
		require.NoError(t, err)
		assert.Equal(t, "7", fee.String())
	})

	t.Run("compares as integers", func(t *testing.T) {
		// lexical order would pick 9
		fee, err := SelectPercentile(fees(9, 100, 20), 1)
		require.NoError(t, err)
		assert.Equal(t, "100", fee.String())
	})

	t.Run("result is a copy", func(t *testing.T) {
		input := fees(1, 2)
		fee, err := SelectPercentile(input, 0)
		require.NoError(t, err)

		fee.SetInt64(50)
		assert.Equal(t, "1", input[0].String())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := SelectPercentile(nil, 0.5)
		assert.ErrorIs(t, err, ErrNoSamples)
	})
}
