//go:build linux

package server

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	somaxconnPath = "/proc/sys/net/core/somaxconn"
	netstatPath   = "/proc/net/netstat"

	backlogPollInterval = 10 * time.Second
	lowBacklog          = 1024
)

// logListenBacklog reports the listen address together with the kernel's
// accept queue limit, which caps how many bots can be mid-connect at once.
func (s *Server) logListenBacklog(addr string) {
	raw, err := os.ReadFile(somaxconnPath)
	if err != nil {
		s.log.Infow("TCP server listening", "addr", addr)
		return
	}
	limit, _ := strconv.Atoi(strings.TrimSpace(string(raw)))

	s.log.Infow("TCP server listening", "addr", addr, "somaxconn", limit)
	if limit > 0 && limit < lowBacklog {
		s.log.Warnw("Low listen backlog may drop bursts of connecting bots",
			"somaxconn", limit, "hint", "sudo sysctl -w net.core.somaxconn=4096")
	}
}

// monitorListenOverflows polls TcpExt.ListenOverflows and feeds increases
// into the metrics until the server shuts down.
func (s *Server) monitorListenOverflows() {
	defer s.wg.Done()

	last, err := readListenOverflows()
	if err != nil {
		s.log.Debugw("Listen overflow counter unavailable", "error", err)
		return
	}

	ticker := time.NewTicker(backlogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
		}

		current, err := readListenOverflows()
		if err != nil || current <= last {
			continue
		}
		s.metrics.RecordListenOverflows(current - last)
		s.log.Warnw("Connections rejected by listen backlog overflow",
			"count", current-last, "total", current)
		last = current
	}
}

func readListenOverflows() (uint64, error) {
	f, err := os.Open(netstatPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	counters, err := parseNetstat(f, "TcpExt")
	if err != nil {
		return 0, err
	}
	return counters["ListenOverflows"], nil
}

var errNoSection = errors.New("netstat section not found")

// parseNetstat reads one section of /proc/net/netstat. Each section is a
// header line of counter names followed by a line of values, both prefixed
// with "<section>:".
func parseNetstat(r io.Reader, section string) (map[string]uint64, error) {
	prefix := section + ":"
	var names []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		rest, ok := strings.CutPrefix(scanner.Text(), prefix)
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if names == nil {
			names = fields
			continue
		}

		counters := make(map[string]uint64, len(names))
		for i, name := range names {
			if i >= len(fields) {
				break
			}
			if v, err := strconv.ParseUint(fields[i], 10, 64); err == nil {
				counters[name] = v
			}
		}
		return counters, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errNoSection
}
