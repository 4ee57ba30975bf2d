package cycletime

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/shirou/gopsutil/v3/host"
)

const icon = "⏱ "

// printer writes the human-readable cycle lines
type printer struct {
	mu       sync.Mutex
	out      io.Writer
	hostname string
}

func newPrinter(out io.Writer, hostname string) *printer {
	if out == nil {
		out = os.Stdout
	}
	if hostname == "" {
		hostname = resolveHostname()
	}
	return &printer{out: out, hostname: hostname}
}

// formatLine renders "⏱  <name> on <host>: Took <s> s" or the "Taking ... on average" variant
func formatLine(name, hostname string, seconds float64, average bool) string {
	value := strconv.FormatFloat(seconds, 'f', -1, 64)
	if average {
		return fmt.Sprintf("%s %s on %s: Taking %s s on average", icon, name, hostname, value)
	}
	return fmt.Sprintf("%s %s on %s: Took %s s", icon, name, hostname, value)
}

func (p *printer) print(name string, seconds float64, average bool) {
	line := formatLine(name, p.hostname, seconds, average)

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

// resolveHostname prefers gopsutil's view of the host and falls back to os.Hostname
func resolveHostname() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "unknown"
}
