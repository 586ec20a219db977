package comm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReducers(t *testing.T) {
	for _, name := range []string{ReducerRoot, ReducerAllReduce} {
		for _, size := range []int{1, 2, 3, 5, 8} {
			t.Run(fmt.Sprintf("%s/%d ranks", name, size), func(t *testing.T) {
				reducer, err := NewReducer(name)
				require.NoError(t, err)
				group, err := NewLocalGroup(size)
				require.NoError(t, err)

				results := make([][]float64, size)
				errs := runRanks(group.Endpoints(), group.Abort, func(c Communicator) error {
					buf := []float64{float64(c.Rank()), 1, float64(c.Rank() * c.Rank())}
					// Two rounds check that queues are drained between calls.
					for round := 0; round < 2; round++ {
						if err := reducer.Reduce(context.Background(), c, buf); err != nil {
							return err
						}
					}
					results[c.Rank()] = buf
					return nil
				})

				sum, squares := 0.0, 0.0
				for r := 0; r < size; r++ {
					sum += float64(r)
					squares += float64(r * r)
				}
				// The second round reduces the already reduced vector.
				want := []float64{sum * float64(size), float64(size * size), squares * float64(size)}
				for rank := 0; rank < size; rank++ {
					require.NoError(t, errs[rank], "rank %d", rank)
					assert.Equal(t, want, results[rank], "rank %d", rank)
				}
			})
		}
	}
}

func TestNewReducer(t *testing.T) {
	reducer, err := NewReducer("")
	require.NoError(t, err)
	assert.IsType(t, RootReducer{}, reducer)

	reducer, err = NewReducer("AllReduce")
	require.NoError(t, err)
	assert.IsType(t, AllReducer{}, reducer)

	_, err = NewReducer("ring")
	assert.ErrorIs(t, err, ErrUnknownReducer)
}

func TestReduceFailsWhenPeerAborts(t *testing.T) {
	group, err := NewLocalGroup(3)
	require.NoError(t, err)
	errs := runRanks(group.Endpoints(), nil, func(c Communicator) error {
		if c.Rank() == 2 {
			group.Abort()
			return nil
		}
		return AllReducer{}.Reduce(context.Background(), c, []float64{1})
	})
	assert.ErrorIs(t, errs[0], ErrGroupClosed)
	assert.ErrorIs(t, errs[1], ErrGroupClosed)
}
