//go:build !linux

package server

func (s *Server) logListenBacklog(addr string) {
	s.log.Infow("TCP server listening", "addr", addr)
}

// Listen queue counters are only exposed through procfs.
func (s *Server) monitorListenOverflows() {
	s.wg.Done()
}
