package dispatcher

import "golang.org/x/exp/constraints"

// clamp restricts v to [lo, hi], grounded on chinweokwu-MQueue's
// redis_prefetch.go min[T constraints.Ordered] helper, generalized to a
// two-sided bound for the adaptive controller's batch-size/worker-count
// formulas.
func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
