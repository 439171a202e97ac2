package distance

import "gonum.org/v1/gonum/blas/gonum"

var impl = gonum.Implementation{}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return impl.Sdot(len(a), a, 1, b, 1)
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return impl.Snrm2(len(v), v, 1)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	norm := Norm(v)
	if norm == 0 {
		return false
	}
	impl.Sscal(len(v), 1/norm, v, 1)
	return true
}
