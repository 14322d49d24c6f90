package utils

import (
	"golang.org/x/exp/constraints"
)

// Reduces a sequence to a value given an accumulation function
func Reduce[T any, U any](input []T, foldFunc func(T, U) U) U {
	var result U

	for _, value := range input {
		result = foldFunc(value, result)
	}

	return result
}

// Reduces a sequence by adding up the value returned by a function applied to each item
func Accumulate[T any, U constraints.Ordered](input []T, value func(T) U) U {
	return Reduce(input, func(item T, current U) U {
		return value(item) + current
	})
}
