package partition

import (
	"fmt"
	"iter"
	"slices"
)

// Split groups seq into consecutive slices of n elements. Groups are
// yielded as soon as they fill; a final short group carries any remainder.
// An empty sequence yields nothing. Split panics if n < 1.
func Split(seq iter.Seq[string], n int) iter.Seq[[]string] {
	if n < 1 {
		panic(fmt.Sprintf("partition: group size %d must be at least 1", n))
	}
	return func(yield func([]string) bool) {
		acc := make([]string, 0, n)
		for x := range seq {
			acc = append(acc, x)
			if len(acc) == n {
				if !yield(acc) {
					return
				}
				acc = make([]string, 0, n)
			}
		}
		if len(acc) > 0 {
			yield(acc)
		}
	}
}

// SplitSlice is Split over a slice, collected.
func SplitSlice(files []string, n int) [][]string {
	return slices.Collect(Split(slices.Values(files), n))
}

// Count returns the number of groups Split produces for total elements.
func Count(total, n int) int {
	if total <= 0 || n < 1 {
		return 0
	}
	return (total + n - 1) / n
}
