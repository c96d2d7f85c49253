package agent

import "iter"

// Cancellable wraps a lazy sequence so that it stops, without pulling another
// element, as soon as cancelled reports true. The check runs before the first
// pull, before every yield and after every yield.
func Cancellable[T any](seq iter.Seq2[T, error], cancelled func() bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if cancelled() {
			return
		}
		for v, err := range seq {
			if cancelled() {
				return
			}
			if !yield(v, err) || cancelled() {
				return
			}
		}
	}
}
