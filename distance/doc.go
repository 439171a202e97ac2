// Package distance provides the vector similarity math used by the embedding
// models.
//
// Kernels are backed by the pure-Go BLAS implementation from gonum.
//
// # Usage
//
//	ok := distance.NormalizeL2InPlace(a) && distance.NormalizeL2InPlace(b)
//	sim := distance.Dot(a, b) // cosine similarity of the normalized vectors
package distance
