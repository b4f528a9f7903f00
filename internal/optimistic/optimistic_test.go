package optimistic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listMutation(list *[]string, remote func(context.Context) (string, error), settled *[]string) Mutation[[]string, string] {
	return Mutation[[]string, string]{
		Snapshot: func() []string { return append([]string(nil), *list...) },
		Apply:    func() { *list = append([]string{"pending"}, *list...) },
		Remote:   remote,
		Rollback: func(s []string) { *list = s },
		Settled:  func(r string) { *settled = append(*settled, r) },
	}
}

func TestMutate_Success(t *testing.T) {
	list := []string{"a"}
	var settled []string
	var seen []string

	res, err := Mutate(context.Background(), listMutation(&list, func(context.Context) (string, error) {
		seen = append([]string(nil), list...)
		return "new", nil
	}, &settled))

	require.NoError(t, err)
	assert.Equal(t, "new", res)
	assert.Equal(t, []string{"pending", "a"}, seen, "local update is visible before the remote call")
	assert.Equal(t, []string{"pending", "a"}, list)
	assert.Equal(t, []string{"new"}, settled)
}

func TestMutate_RollbackOnFailure(t *testing.T) {
	list := []string{"a", "b"}
	var settled []string
	boom := errors.New("boom")

	res, err := Mutate(context.Background(), listMutation(&list, func(context.Context) (string, error) {
		return "", boom
	}, &settled))

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, res)
	assert.Equal(t, []string{"a", "b"}, list)
	assert.Empty(t, settled)
}

func TestMutate_OptionalHooks(t *testing.T) {
	n, err := Mutate(context.Background(), Mutation[struct{}, int]{
		Remote: func(context.Context) (int, error) { return 7, nil },
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
