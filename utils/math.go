package utils

import "golang.org/x/exp/constraints"

// Min 返回两者中较小的一个
func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max 返回两者中较大的一个
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
