// Package discovery implements the node agent's periodic network sweep: ARP
// table scrape, hostname resolution, ICMP liveness probe, and merge into the
// local host store. Results are reported upstream through an Emitter so the
// C&C aggregator stays coherent with what the agent sees on its LAN.
package discovery

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/woly-io/woly/node/internal/localdb"
)

const (
	// defaultInterval is how often a full sweep runs in steady state.
	defaultInterval = 5 * time.Minute
	// initialDelay is how long to wait after boot before the first sweep, so
	// the agent's HTTP surface is responsive immediately on startup.
	initialDelay = 5 * time.Second
)

// HostSnapshot is the merged view of one discovered device, reported to an
// Emitter after each device is probed.
type HostSnapshot struct {
	Name           string
	MAC            string
	IP             string
	Status         string // "awake" or "asleep"
	PingResponsive *bool
	Discovered     bool
}

// Emitter is notified of host lifecycle events as the merge step classifies
// them. The node's C&C client implements this to forward events upstream.
type Emitter interface {
	HostDiscovered(ctx context.Context, host HostSnapshot)
	HostUpdated(ctx context.Context, host HostSnapshot)
	HostRemoved(ctx context.Context, name string)
	ScanComplete(ctx context.Context, hostsFound int, duration time.Duration)
}

// Scanner runs the periodic discovery pipeline against a local host store.
type Scanner struct {
	repo     localdb.HostRepository
	emitter  Emitter
	interval time.Duration
	logger   *zap.Logger

	// scanning guards against overlapping sweeps: a manual trigger received
	// while a sweep is already running is a no-op, not a queued second run.
	scanning atomic.Bool
}

// New creates a Scanner. Call Run to start the periodic loop.
func New(repo localdb.HostRepository, emitter Emitter, interval time.Duration, logger *zap.Logger) *Scanner {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scanner{
		repo:     repo,
		emitter:  emitter,
		interval: interval,
		logger:   logger.Named("discovery"),
	}
}

// Run blocks, triggering a sweep after initialDelay and then every interval,
// until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.TriggerScan(ctx)
			timer.Reset(s.interval)
		}
	}
}

// TriggerScan runs one sweep immediately, unless one is already in progress,
// in which case the call is a no-op. Safe to call from the HTTP handler for
// POST /hosts/scan as well as the periodic loop.
func (s *Scanner) TriggerScan(ctx context.Context) {
	if !s.scanning.CompareAndSwap(false, true) {
		s.logger.Debug("scan already in progress, skipping trigger")
		return
	}
	defer s.scanning.Store(false)

	start := time.Now()
	found, err := s.sweep(ctx)
	if err != nil {
		s.logger.Warn("discovery sweep failed", zap.Error(err))
		return
	}

	duration := time.Since(start)
	s.logger.Info("discovery sweep complete", zap.Int("hosts_found", found), zap.Duration("duration", duration))
	s.emitter.ScanComplete(ctx, found, duration)
}

func (s *Scanner) sweep(ctx context.Context) (int, error) {
	entries, err := sweepARP(ctx)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(entries))

	for _, entry := range entries {
		name := resolveHostname(ctx, entry.IP, entry.Name)
		responsive := pingResponsive(ctx, entry.IP)
		seen[entry.MAC] = true

		existing, err := s.repo.GetByMAC(ctx, entry.MAC)
		isNew := err != nil

		respInt := 0
		if responsive {
			respInt = 1
		}
		now := time.Now()

		host := &localdb.Host{
			Name:           name,
			MAC:            entry.MAC,
			IP:             entry.IP,
			Status:         "awake", // ARP presence is authoritative liveness per the discovery contract
			PingResponsive: &respInt,
			LastSeen:       &now,
			Discovered:     true,
		}
		if !isNew {
			host.ID = existing.ID
			host.Notes = existing.Notes
			host.Tags = existing.Tags
			host.WOLPort = existing.WOLPort
		}

		if err := s.repo.UpsertByMAC(ctx, host); err != nil {
			s.logger.Warn("failed to persist discovered host", zap.String("mac", entry.MAC), zap.Error(err))
			continue
		}

		snapshot := HostSnapshot{
			Name:           name,
			MAC:            entry.MAC,
			IP:             entry.IP,
			Status:         host.Status,
			PingResponsive: &responsive,
			Discovered:     true,
		}
		if isNew {
			s.emitter.HostDiscovered(ctx, snapshot)
		} else if existing.IP != entry.IP || existing.Name != name {
			s.emitter.HostUpdated(ctx, snapshot)
		}
	}

	if err := s.markAbsentAsleep(ctx, seen); err != nil {
		s.logger.Warn("failed to mark absent hosts asleep", zap.Error(err))
	}

	return len(entries), nil
}

// markAbsentAsleep flips any previously-discovered host not present in this
// sweep's ARP table to asleep — ARP absence is how a host is judged offline,
// never deleted outright (manual CRUD owns deletion).
func (s *Scanner) markAbsentAsleep(ctx context.Context, seen map[string]bool) error {
	known, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, h := range known {
		if seen[h.MAC] || h.Status == "asleep" {
			continue
		}
		h.Status = "asleep"
		if err := s.repo.UpsertByMAC(ctx, &h); err != nil {
			return err
		}
		s.emitter.HostUpdated(ctx, HostSnapshot{
			Name:       h.Name,
			MAC:        h.MAC,
			IP:         h.IP,
			Status:     h.Status,
			Discovered: h.Discovered,
		})
	}
	return nil
}
