package server

import "syscall"

// reuseAddrControl is the net.ListenConfig hook that applies
// setSocketOptions before bind.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = setSocketOptions(fd)
	}); err != nil {
		return err
	}
	return sockErr
}
