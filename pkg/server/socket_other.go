//go:build !unix

package server

// setSocketOptions leaves the defaults alone. On Windows SO_REUSEADDR lets
// a second process bind the same port, which is not wanted here.
func setSocketOptions(fd uintptr) error {
	return nil
}
