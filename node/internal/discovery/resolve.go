package discovery

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"
)

const netbiosTimeout = 2 * time.Second

// resolveHostname implements the fallback chain from the discovery spec: the
// ARP-reported name if it looks valid, else reverse DNS, else NetBIOS, else a
// synthesized placeholder so every device still gets a usable name.
func resolveHostname(ctx context.Context, ip, arpName string) string {
	if isValidName(arpName, ip) {
		return arpName
	}

	if name := reverseDNS(ctx, ip); name != "" {
		return name
	}

	if name := netbiosName(ctx, ip); name != "" {
		return name
	}

	return fmt.Sprintf("device-%s", strings.ReplaceAll(ip, ".", "-"))
}

func isValidName(name, ip string) bool {
	if name == "" || name == "?" {
		return false
	}
	return net.ParseIP(name) == nil && name != ip
}

// reverseDNS performs a PTR lookup and returns the first label of the first
// result, stripped of its trailing domain suffix and dot.
func reverseDNS(ctx context.Context, ip string) string {
	ctx, cancel := context.WithTimeout(ctx, netbiosTimeout)
	defer cancel()

	resolver := net.Resolver{}
	names, err := resolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}

	label := strings.TrimSuffix(names[0], ".")
	if idx := strings.Index(label, "."); idx > 0 {
		label = label[:idx]
	}
	return label
}

var netbiosNamePattern = regexp.MustCompile(`(?m)^\s*([A-Za-z0-9_\-]+)\s*<00>\s*UNIQUE`)

// netbiosName shells out to the platform NetBIOS name query tool. Windows
// ships nbtstat; Linux/macOS rely on Samba's nmblookup (often not installed,
// in which case this simply returns "").
func netbiosName(ctx context.Context, ip string) string {
	ctx, cancel := context.WithTimeout(ctx, netbiosTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "nbtstat", "-A", ip)
	} else {
		cmd = exec.CommandContext(ctx, "nmblookup", "-A", ip)
	}

	out, err := cmd.Output()
	if err != nil {
		return ""
	}

	match := netbiosNamePattern.FindSubmatch(out)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(string(match[1]))
}

// PingHost runs a single on-demand liveness probe against ip, for the
// ping-host command handler.
func PingHost(ctx context.Context, ip string) bool {
	return pingResponsive(ctx, ip)
}

// pingResponsive runs a single platform-appropriate ICMP probe with a 2s
// timeout, shelling out to the system ping binary rather than opening a raw
// socket — this keeps the agent from needing elevated privileges.
func pingResponsive(ctx context.Context, ip string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "ping", "-n", "1", "-w", "2000", ip)
	} else {
		cmd = exec.CommandContext(ctx, "ping", "-c", "1", "-W", "2", ip)
	}

	return cmd.Run() == nil
}
