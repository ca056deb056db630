package position_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/position"
)

func ids(c position.Collection) []string {
	out := make([]string, 0, len(c))
	for _, e := range position.Sorted(c) {
		out = append(out, e.ID)
	}
	return out
}

func seed(n int) position.Collection {
	var c position.Collection
	for i := 1; i <= n; i++ {
		c = append(c, position.Entry{ID: fmt.Sprintf("c%d", i), Position: i})
	}
	return c
}

func TestMoveClampsTarget(t *testing.T) {
	c := seed(3)

	got, err := position.Move(c, "c1", 99)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3", "c1"}, ids(got))

	got, err = position.Move(c, "c3", -4)
	require.NoError(t, err)
	assert.Equal(t, []string{"c3", "c1", "c2"}, ids(got))

	got, err = position.Move(c, "c2", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids(got))
	assert.Empty(t, position.Diff(c, got))
}

func TestMoveDoesNotMutateInput(t *testing.T) {
	c := seed(3)
	_, err := position.Move(c, "c1", 3)
	require.NoError(t, err)
	assert.Equal(t, seed(3), c)
}

func TestInsertAppendsOrShifts(t *testing.T) {
	c := seed(2)

	got, err := position.Insert(c, "new", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "new"}, ids(got))

	got, err = position.Insert(c, "new", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "c1", "c2"}, ids(got))
	assert.Equal(t, map[string]int{"new": 1, "c1": 2, "c2": 3}, position.Diff(c, got))

	_, err = position.Insert(c, "c1", 1)
	require.Error(t, err)
}

func TestRemoveClosesGap(t *testing.T) {
	got, err := position.Remove(seed(4), "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c3", "c4"}, ids(got))
	require.NoError(t, position.Validate(got))

	_, err = position.Remove(seed(1), "nope")
	require.ErrorIs(t, err, position.ErrUnknownEntry)
}

func TestSortedIsStable(t *testing.T) {
	c := position.Collection{{ID: "b", Position: 2}, {ID: "x", Position: 1}, {ID: "a", Position: 2}}
	assert.Equal(t, []string{"x", "b", "a"}, ids(c))
}

func TestRandomOperationsKeepContiguousPositions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := seed(5)
	next := 6
	for i := 0; i < 500; i++ {
		var err error
		switch op := rng.Intn(3); {
		case op == 0 || len(c) == 0:
			c, err = position.Insert(c, fmt.Sprintf("c%d", next), rng.Intn(len(c)+3)-1)
			next++
		case op == 1:
			victim := c[rng.Intn(len(c))].ID
			c, err = position.Move(c, victim, rng.Intn(len(c)+4)-2)
		default:
			victim := c[rng.Intn(len(c))].ID
			c, err = position.Remove(c, victim)
		}
		require.NoError(t, err)
		require.NoError(t, position.Validate(c), "after step %d", i)
	}
}

func TestValidateDetectsGaps(t *testing.T) {
	require.Error(t, position.Validate(position.Collection{{ID: "a", Position: 1}, {ID: "b", Position: 3}}))
	require.Error(t, position.Validate(position.Collection{{ID: "a", Position: 1}, {ID: "b", Position: 1}}))
	require.NoError(t, position.Validate(nil))
}
