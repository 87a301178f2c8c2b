//go:build linux

package server

import (
	"strings"
	"testing"
)

func TestParseNetstat(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		overflows uint64
		wantErr   bool
	}{
		{
			name: "present",
			input: "TcpExt: SyncookiesSent ListenOverflows ListenDrops\n" +
				"TcpExt: 0 42 43\n" +
				"IpExt: InNoRoutes\nIpExt: 0\n",
			overflows: 42,
		},
		{
			name:      "missing column",
			input:     "TcpExt: SyncookiesSent\nTcpExt: 5\n",
			overflows: 0,
		},
		{
			name:      "short value line",
			input:     "TcpExt: SyncookiesSent ListenOverflows\nTcpExt: 5\n",
			overflows: 0,
		},
		{
			name:    "no TcpExt section",
			input:   "IpExt: InNoRoutes\nIpExt: 0\n",
			wantErr: true,
		},
		{
			name:    "header without values",
			input:   "TcpExt: ListenOverflows\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counters, err := parseNetstat(strings.NewReader(tt.input), "TcpExt")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseNetstat() = %v, want error", counters)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseNetstat() error = %v", err)
			}
			if got := counters["ListenOverflows"]; got != tt.overflows {
				t.Fatalf("ListenOverflows = %d, want %d", got, tt.overflows)
			}
		})
	}
}
