// Package testutil holds small helpers shared by tests.
package testutil

// Ptr returns a pointer to v, for optional fields such as a case's max
// depth or temperature.
func Ptr[T any](v T) *T { return &v }
