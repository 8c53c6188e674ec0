package discovery

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// arpEntry is one row read from the system ARP table.
type arpEntry struct {
	IP   string
	MAC  string
	Name string // may be empty, "?", or equal to IP — callers must validate
}

// macPattern matches a colon- or dash-separated MAC address anywhere in a line.
var macPattern = regexp.MustCompile(`(?i)([0-9a-f]{2}[:-]){5}[0-9a-f]{2}`)

// sweepARP shells out to the platform ARP tool and parses its output. `arp -a`
// output is not machine-readable on any platform, so this is a best-effort
// regex scrape rather than a structured parse.
func sweepARP(ctx context.Context) ([]arpEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "arp", "-a")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}

	var entries []arpEntry
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		line := scanner.Text()
		mac := macPattern.FindString(line)
		if mac == "" {
			continue
		}
		ip := extractIP(line)
		if ip == "" {
			continue
		}
		entries = append(entries, arpEntry{
			IP:   ip,
			MAC:  NormalizeMAC(mac),
			Name: extractHostname(line, ip),
		})
	}
	return entries, scanner.Err()
}

var ipPattern = regexp.MustCompile(`\b\d{1,3}(\.\d{1,3}){3}\b`)

func extractIP(line string) string {
	return ipPattern.FindString(line)
}

// extractHostname pulls the leading token off a `arp -a` line, which on
// Linux/macOS is the reported hostname (or "?" when unresolved).
func extractHostname(line, ip string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	candidate := strings.Trim(fields[0], "()")
	if candidate == "" || candidate == "?" || candidate == ip || net.ParseIP(candidate) != nil {
		return ""
	}
	return candidate
}
