//go:build !unix

package local

// Out-of-space conditions are not distinguished on these platforms; they
// surface as storage i/o failures.
func isNoSpace(error) bool {
	return false
}
