package agent

import (
	"errors"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCancellableStopsBeforeNextPull(t *testing.T) {
	pulled := 0
	source := iter.Seq2[string, error](func(yield func(string, error) bool) {
		for i := 0; i < 5; i++ {
			pulled++
			if !yield(fmt.Sprint(i), nil) {
				return
			}
		}
	})

	cancelled := false
	var got []string
	for v := range Cancellable(source, func() bool { return cancelled }) {
		got = append(got, v)
		if v == "1" {
			cancelled = true
		}
	}
	require.Equal(t, []string{"0", "1"}, got)
	require.Equal(t, 2, pulled, "nothing is pulled once cancelled")
}

func TestCancellableNeverStartsWhenAlreadyCancelled(t *testing.T) {
	started := false
	source := iter.Seq2[string, error](func(yield func(string, error) bool) {
		started = true
		yield("x", nil)
	})
	for range Cancellable(source, func() bool { return true }) {
		t.Fatal("nothing should be yielded")
	}
	require.False(t, started)
}

func TestCancellablePassesErrors(t *testing.T) {
	boom := errors.New("boom")
	source := iter.Seq2[string, error](func(yield func(string, error) bool) {
		yield("", boom)
	})
	var gotErr error
	for _, err := range Cancellable(source, func() bool { return false }) {
		gotErr = err
	}
	require.ErrorIs(t, gotErr, boom)
}

func TestCancellableDropsElementPulledDuringCancellation(t *testing.T) {
	cancelled := false
	source := iter.Seq2[string, error](func(yield func(string, error) bool) {
		for _, v := range []string{"a", "b", "c"} {
			if v == "b" {
				// cancellation lands while the next element is being produced
				cancelled = true
			}
			if !yield(v, nil) {
				return
			}
		}
	})

	var got []string
	for v := range Cancellable(source, func() bool { return cancelled }) {
		got = append(got, v)
	}
	require.Equal(t, []string{"a"}, got)
}
