package hostagg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/db"
	"github.com/woly-io/woly/cnc/internal/repositories"
	"github.com/woly-io/woly/cnc/internal/session"
	"github.com/woly-io/woly/shared/protocol"
	"github.com/woly-io/woly/shared/types"
)

// Aggregator is the in-memory fqn -> AggregatedHost projection. It implements
// the host-related slice of session.Handler.
type Aggregator struct {
	repo   repositories.HostRepository
	logger *zap.Logger

	mu    sync.RWMutex
	hosts map[string]*AggregatedHost
	etag  string
}

// New returns an empty Aggregator. Call LoadAll to populate it from storage.
func New(repo repositories.HostRepository, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		repo:   repo,
		logger: logger.Named("hostagg"),
		hosts:  make(map[string]*AggregatedHost),
	}
}

// LoadAll rebuilds the projection from the hosts table. Called once at
// startup before the session manager begins accepting connections.
func (a *Aggregator) LoadAll(ctx context.Context) error {
	rows, _, err := a.repo.List(ctx, repositories.ListOptions{Limit: 1 << 30})
	if err != nil {
		return fmt.Errorf("hostagg: load all: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.hosts = make(map[string]*AggregatedHost, len(rows))
	for i := range rows {
		a.hosts[rows[i].FQN] = fromModel(&rows[i])
	}
	a.recomputeETagLocked()
	return nil
}

// Get returns the current projection for fqn.
func (a *Aggregator) Get(fqn string) (*AggregatedHost, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.hosts[fqn]
	return h, ok
}

// List returns a snapshot of every host in the projection.
func (a *Aggregator) List() []*AggregatedHost {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*AggregatedHost, 0, len(a.hosts))
	for _, h := range a.hosts {
		out = append(out, h)
	}
	return out
}

// ETag returns the current digest of the full host list, recomputed on every
// mutation. Callers use it for If-None-Match / 304 handling.
func (a *Aggregator) ETag() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.etag
}

// recomputeETagLocked must be called with a.mu held for writing.
func (a *Aggregator) recomputeETagLocked() {
	all := make([]*AggregatedHost, 0, len(a.hosts))
	for _, h := range a.hosts {
		all = append(all, h)
	}
	a.etag = computeETag(all)
}

// OnHostDiscovered and OnHostUpdated both upsert: a node does not distinguish
// "new to me" from "new to C&C" in any way that changes persistence, only in
// whether Discovered flips true.
func (a *Aggregator) OnHostDiscovered(conn *session.Conn, data protocol.HostEventData) {
	a.upsert(conn.Location, data)
}

func (a *Aggregator) OnHostUpdated(conn *session.Conn, data protocol.HostEventData) {
	a.upsert(conn.Location, data)
}

func (a *Aggregator) upsert(location string, data protocol.HostEventData) {
	ctx := context.Background()
	fqn := key(data.Name, location)

	var pingResponsive *int
	if data.PingResponsive != nil {
		pingResponsive = data.PingResponsive
	}

	var lastSeen *time.Time
	if data.LastSeen != "" {
		if t, err := time.Parse(time.RFC3339, data.LastSeen); err == nil {
			lastSeen = &t
		}
	}

	tags, _ := json.Marshal(data.Tags)
	wolPort := 9
	if data.WOLPort != nil {
		wolPort = *data.WOLPort
	}

	status := data.Status
	if status == "" {
		status = string(types.HostStatusAsleep)
	}

	row := &db.Host{
		FQN:            fqn,
		Location:       location,
		Name:           data.Name,
		MAC:            data.MAC,
		IP:             data.IP,
		Status:         status,
		PingResponsive: pingResponsive,
		LastSeen:       lastSeen,
		Discovered:     data.Discovered,
		Notes:          data.Notes,
		Tags:           string(tags),
		WOLPort:        wolPort,
	}

	a.mu.Lock()
	prev, existed := a.hosts[fqn]
	a.mu.Unlock()

	if err := a.repo.Upsert(ctx, row); err != nil {
		a.logger.Warn("hostagg: upsert failed", zap.String("fqn", fqn), zap.Error(err))
		return
	}

	if existed && prev.Status != types.HostStatus(status) {
		hist := &db.HostStatusHistory{
			FQN:        fqn,
			FromStatus: string(prev.Status),
			ToStatus:   status,
			At:         time.Now(),
		}
		if err := a.repo.AppendStatusHistory(ctx, hist); err != nil {
			a.logger.Warn("hostagg: append status history failed", zap.String("fqn", fqn), zap.Error(err))
		}
	}

	a.mu.Lock()
	a.hosts[fqn] = fromModel(row)
	a.recomputeETagLocked()
	a.mu.Unlock()
}

// OnHostRemoved deletes a host from both the projection and storage.
func (a *Aggregator) OnHostRemoved(conn *session.Conn, data protocol.HostRemovedData) {
	fqn := key(data.Name, conn.Location)
	ctx := context.Background()

	if err := a.repo.Delete(ctx, fqn); err != nil {
		a.logger.Warn("hostagg: delete failed", zap.String("fqn", fqn), zap.Error(err))
	}

	a.mu.Lock()
	delete(a.hosts, fqn)
	a.recomputeETagLocked()
	a.mu.Unlock()
}

// OnScanComplete is informational only; the per-host updates a scan produces
// arrive as separate host-discovered/host-updated frames.
func (a *Aggregator) OnScanComplete(conn *session.Conn, data protocol.ScanCompleteData) {
	a.logger.Info("scan complete",
		zap.String("location", conn.Location),
		zap.Int("hostsFound", data.HostsFound),
		zap.Int64("durationMs", data.DurationMS))
}

// RemoveByNode drops every host belonging to a deregistered node, both from
// storage and from the in-memory projection, used when an operator
// explicitly deletes a node record. Rows are matched by nodeID and also
// deleted one by one for every projected host whose location matches, since
// host rows written by upsert carry no node ID.
func (a *Aggregator) RemoveByNode(ctx context.Context, nodeID uuid.UUID, location string) error {
	if err := a.repo.DeleteByNode(ctx, nodeID); err != nil {
		return fmt.Errorf("hostagg: delete by node: %w", err)
	}

	a.mu.Lock()
	for fqn, h := range a.hosts {
		if h.Location == location {
			if err := a.repo.Delete(ctx, fqn); err != nil && !errors.Is(err, repositories.ErrNotFound) {
				a.logger.Warn("hostagg: delete failed", zap.String("fqn", fqn), zap.Error(err))
			}
			delete(a.hosts, fqn)
		}
	}
	a.recomputeETagLocked()
	a.mu.Unlock()
	return nil
}

func fromModel(row *db.Host) *AggregatedHost {
	var pingResponsive *bool
	if row.PingResponsive != nil {
		v := *row.PingResponsive != 0
		pingResponsive = &v
	}

	var tags []string
	_ = json.Unmarshal([]byte(row.Tags), &tags)

	var ports []int
	_ = json.Unmarshal([]byte(row.PortsScanned), &ports)

	return &AggregatedHost{
		FQN:            row.FQN,
		Location:       row.Location,
		Name:           row.Name,
		MAC:            row.MAC,
		IP:             row.IP,
		Status:         types.HostStatus(row.Status),
		PingResponsive: pingResponsive,
		LastSeen:       row.LastSeen,
		Discovered:     row.Discovered,
		Notes:          row.Notes,
		Tags:           tags,
		WOLPort:        row.WOLPort,
		PortsScannedAt: row.PortsScannedAt,
		PortsScanned:   ports,
	}
}
