package drivemover

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intPage struct {
	items []int
	next  string
}

func (p *intPage) PageToken() string { return p.next }

func pagesOf(pages map[string]*intPage, tokens *[]string) func(context.Context, string) (*intPage, error) {
	return func(_ context.Context, token string) (*intPage, error) {
		*tokens = append(*tokens, token)
		return pages[token], nil
	}
}

func TestPaginateConcatenatesInOrder(t *testing.T) {
	pages := map[string]*intPage{
		"":  {items: []int{1, 2}, next: "b"},
		"b": {items: []int{3}, next: "c"},
		"c": {items: []int{4, 5}},
	}
	var tokens []string

	got, err := Paginate(context.Background(), pagesOf(pages, &tokens), func(p *intPage) []int { return p.items })
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	assert.Equal(t, []string{"", "b", "c"}, tokens)
}

func TestPaginateEmptyAndNilPages(t *testing.T) {
	var tokens []string
	got, err := Paginate(context.Background(),
		pagesOf(map[string]*intPage{"": {}}, &tokens),
		func(p *intPage) []int { return p.items })
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, tokens, 1)

	tokens = nil
	got, err = Paginate(context.Background(),
		pagesOf(map[string]*intPage{}, &tokens),
		func(p *intPage) []int { return p.items })
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPaginateErrorDiscardsPartialResult(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	got, err := Paginate(context.Background(),
		func(_ context.Context, token string) (*intPage, error) {
			calls++
			if token == "" {
				return &intPage{items: []int{1}, next: "b"}, nil
			}
			return nil, boom
		},
		func(p *intPage) []int { return p.items })
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, got)
	assert.Equal(t, 2, calls)
}

func TestPaginateStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Paginate(ctx,
		func(_ context.Context, _ string) (*intPage, error) {
			calls++
			cancel()
			return &intPage{items: []int{1}, next: "more"}, nil
		},
		func(p *intPage) []int { return p.items })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
