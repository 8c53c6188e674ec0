// Package command implements the durable command lifecycle state machine:
// queued -> sent -> {acknowledged | failed | timed_out}. Every command is
// persisted before being dispatched so a C&C restart can resume in-flight
// work instead of losing it.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/db"
	"github.com/woly-io/woly/cnc/internal/nodemanager"
	"github.com/woly-io/woly/cnc/internal/repositories"
	"github.com/woly-io/woly/cnc/internal/session"
	"github.com/woly-io/woly/shared/protocol"
	"github.com/woly-io/woly/shared/types"
)

// Config holds the router's retry and timeout tunables.
type Config struct {
	MaxRetries        int
	RetryBaseDelay    time.Duration
	CommandTimeout    time.Duration
	OfflineCommandTTL time.Duration
	SweepInterval     time.Duration
	RetentionDays     int
}

// Metrics receives command lifecycle counters.
type Metrics interface {
	CommandsInFlight(state string, delta int)
}

// Router owns command dispatch, retry scheduling, and result processing. It
// implements the command-result slice of session.Handler.
type Router struct {
	repo   repositories.CommandRepository
	nodes  *nodemanager.Manager
	cfg    Config
	metrics Metrics
	logger *zap.Logger

	stop chan struct{}
}

// New returns a Router.
func New(repo repositories.CommandRepository, nodes *nodemanager.Manager, cfg Config, metrics Metrics, logger *zap.Logger) *Router {
	return &Router{
		repo:    repo,
		nodes:   nodes,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.Named("command"),
		stop:    make(chan struct{}),
	}
}

// frameTypeFor maps a domain command type to its outbound wire frame type.
func frameTypeFor(t types.CommandType) (string, bool) {
	switch t {
	case types.CommandWake:
		return protocol.TypeWake, true
	case types.CommandScan:
		return protocol.TypeScan, true
	case types.CommandUpdateHost:
		return protocol.TypeUpdateHost, true
	case types.CommandDeleteHost:
		return protocol.TypeDeleteHost, true
	case types.CommandScanHostPorts:
		return protocol.TypeScanHostPorts, true
	case types.CommandPingHost:
		return protocol.TypePingHost, true
	case types.CommandSleepHost:
		return protocol.TypeSleepHost, true
	case types.CommandShutdownHost:
		return protocol.TypeShutdownHost, true
	case types.CommandPing:
		return protocol.TypePing, true
	default:
		return "", false
	}
}

// Enqueue persists a new command and attempts immediate dispatch if the
// target node is online. If idempotencyKey is non-empty and a command with
// the same (nodeID, type, key) already exists, the existing row is returned
// instead of creating a duplicate.
func (r *Router) Enqueue(ctx context.Context, nodeID uuid.UUID, cmdType types.CommandType, payload any, idempotencyKey string) (*db.Command, error) {
	if _, ok := frameTypeFor(cmdType); !ok {
		return nil, fmt.Errorf("command: unknown command type %q", cmdType)
	}

	if idempotencyKey != "" {
		existing, err := r.repo.GetByIdempotencyKey(ctx, nodeID, string(cmdType), idempotencyKey)
		if err == nil {
			return existing, nil
		}
		if err != repositories.ErrNotFound {
			return nil, fmt.Errorf("command: idempotency lookup: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("command: marshal payload: %w", err)
	}

	cmd := &db.Command{
		NodeID:  nodeID,
		Type:    string(cmdType),
		Payload: string(body),
		State:   string(types.CommandStateQueued),
	}
	if idempotencyKey != "" {
		cmd.IdempotencyKey = &idempotencyKey
	}

	if err := r.repo.Create(ctx, cmd); err != nil {
		return nil, fmt.Errorf("command: create: %w", err)
	}
	r.metrics.CommandsInFlight(string(types.CommandStateQueued), 1)

	r.tryDispatch(ctx, cmd)
	return cmd, nil
}

// tryDispatch attempts to deliver a single queued or retry-eligible command.
// It never returns an error — failures are recorded on the command itself.
func (r *Router) tryDispatch(ctx context.Context, cmd *db.Command) {
	node, err := r.nodes.GetByID(ctx, cmd.NodeID)
	if err != nil {
		r.logger.Warn("command: node lookup failed", zap.String("commandId", cmd.ID.String()), zap.Error(err))
		return
	}

	cmdType := types.CommandType(cmd.Type)
	online := r.nodes.IsOnline(node.Location)

	if !online {
		if !types.OfflineQueueable[cmdType] {
			r.fail(ctx, cmd, ReasonNodeOffline, false)
			return
		}
		if r.cfg.OfflineCommandTTL > 0 && time.Since(cmd.CreatedAt) > r.cfg.OfflineCommandTTL {
			r.fail(ctx, cmd, ReasonNodeOffline, false)
		}
		return // stays queued, retried on a later sweep while the node remains offline
	}

	frameType, _ := frameTypeFor(cmdType)
	frame := protocol.Frame{
		Type:      frameType,
		Data:      json.RawMessage(cmd.Payload),
		CommandID: cmd.ID.String(),
	}

	if err := r.nodes.Dispatch(node.Location, frame); err != nil {
		r.retryOrFail(ctx, cmd, ReasonSendFailed)
		return
	}

	now := time.Now()
	if err := r.repo.MarkSent(ctx, cmd.ID, now, cmd.Attempts+1); err != nil {
		r.logger.Warn("command: mark sent failed", zap.Error(err))
		return
	}
	r.metrics.CommandsInFlight(string(types.CommandStateQueued), -1)
	r.metrics.CommandsInFlight(string(types.CommandStateSent), 1)
}

// retryOrFail requeues cmd for another attempt if it has budget remaining,
// otherwise marks it failed with reason.
func (r *Router) retryOrFail(ctx context.Context, cmd *db.Command, reason string) {
	if !isRetryable(reason) || cmd.Attempts >= r.cfg.MaxRetries {
		r.fail(ctx, cmd, reason, cmd.Attempts >= r.cfg.MaxRetries && isRetryable(reason))
		return
	}
	if err := r.repo.UpdateState(ctx, cmd.ID, string(types.CommandStateQueued), reason, nil); err != nil {
		r.logger.Warn("command: requeue failed", zap.Error(err))
	}
}

// fail transitions cmd to a terminal state. asTimeout distinguishes a
// retry-budget exhaustion (timed_out) from a hard non-retryable failure
// (failed) for the same underlying reason.
func (r *Router) fail(ctx context.Context, cmd *db.Command, reason string, asTimeout bool) {
	state := types.CommandStateFailed
	if asTimeout {
		state = types.CommandStateTimedOut
	}
	now := time.Now()
	if err := r.repo.UpdateState(ctx, cmd.ID, string(state), reason, &now); err != nil {
		r.logger.Warn("command: terminal transition failed", zap.Error(err))
		return
	}
	r.metrics.CommandsInFlight(cmd.State, -1)
	r.metrics.CommandsInFlight(string(state), 1)
}

// OnCommandResult processes a command-result frame from a node.
func (r *Router) OnCommandResult(conn *session.Conn, data protocol.CommandResultData) {
	ctx := context.Background()

	id, err := uuid.Parse(data.CommandID)
	if err != nil {
		r.logger.Warn("command: result with invalid commandId", zap.String("commandId", data.CommandID))
		return
	}

	cmd, err := r.repo.GetByID(ctx, id)
	if err != nil {
		r.logger.Warn("command: result for unknown command", zap.String("commandId", data.CommandID))
		return
	}

	if types.CommandState(cmd.State).IsTerminal() {
		return // late/duplicate result for a command already resolved
	}

	if data.Success {
		now := time.Now()
		if err := r.repo.UpdateState(ctx, cmd.ID, string(types.CommandStateAcknowledged), "", &now); err != nil {
			r.logger.Warn("command: acknowledge failed", zap.Error(err))
			return
		}
		r.metrics.CommandsInFlight(cmd.State, -1)
		r.metrics.CommandsInFlight(string(types.CommandStateAcknowledged), 1)
		return
	}

	r.retryOrFail(ctx, cmd, data.Error)
}

// ReconcileOnStartup re-adopts commands left in the sent state by an
// ungraceful shutdown. A sent command still within CommandTimeout of its
// sentAt is returned to queued so the sweep loop redelivers it; one already
// past its timeout is marked timed_out directly rather than given a fresh
// timeout window it never earned.
func (r *Router) ReconcileOnStartup(ctx context.Context) error {
	inFlight, err := r.repo.ListInFlight(ctx)
	if err != nil {
		return fmt.Errorf("command: reconcile: %w", err)
	}

	now := time.Now()
	var requeued, timedOut int
	for _, cmd := range inFlight {
		if cmd.State != string(types.CommandStateSent) {
			continue
		}

		if cmd.SentAt != nil && now.Sub(*cmd.SentAt) >= r.cfg.CommandTimeout {
			if err := r.repo.UpdateState(ctx, cmd.ID, string(types.CommandStateTimedOut), ReasonTimeout, &now); err != nil {
				r.logger.Warn("command: reconcile timeout transition failed", zap.String("commandId", cmd.ID.String()), zap.Error(err))
				continue
			}
			r.metrics.CommandsInFlight(string(types.CommandStateSent), -1)
			r.metrics.CommandsInFlight(string(types.CommandStateTimedOut), 1)
			timedOut++
			continue
		}

		if err := r.repo.UpdateState(ctx, cmd.ID, string(types.CommandStateQueued), "", nil); err != nil {
			r.logger.Warn("command: reconcile requeue failed", zap.String("commandId", cmd.ID.String()), zap.Error(err))
			continue
		}
		r.metrics.CommandsInFlight(string(types.CommandStateSent), -1)
		r.metrics.CommandsInFlight(string(types.CommandStateQueued), 1)
		requeued++
	}
	r.logger.Info("command: startup reconciliation complete",
		zap.Int("count", len(inFlight)), zap.Int("requeued", requeued), zap.Int("timed_out", timedOut))
	return nil
}

// Start runs the periodic sweep and retention loop until ctx is cancelled.
func (r *Router) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		}
	}
}

// Stop halts the sweep loop.
func (r *Router) Stop() {
	close(r.stop)
}

// sweep re-evaluates every in-flight command: queued commands are retried
// (subject to backoff) and sent commands past CommandTimeout are retried or
// failed depending on remaining attempt budget.
func (r *Router) sweep(ctx context.Context) {
	inFlight, err := r.repo.ListInFlight(ctx)
	if err != nil {
		r.logger.Warn("command: sweep list failed", zap.Error(err))
		return
	}

	now := time.Now()
	for i := range inFlight {
		cmd := &inFlight[i]

		switch types.CommandState(cmd.State) {
		case types.CommandStateQueued:
			if cmd.Attempts > 0 && cmd.SentAt != nil {
				backoff := r.cfg.RetryBaseDelay * time.Duration(1<<uint(cmd.Attempts-1))
				if now.Sub(*cmd.SentAt) < backoff {
					continue
				}
			}
			r.tryDispatch(ctx, cmd)

		case types.CommandStateSent:
			if cmd.SentAt == nil || now.Sub(*cmd.SentAt) < r.cfg.CommandTimeout {
				continue
			}
			r.retryOrFail(ctx, cmd, ReasonTimeout)
		}
	}

	if r.cfg.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -r.cfg.RetentionDays)
		if n, err := r.repo.PruneTerminal(ctx, cutoff); err != nil {
			r.logger.Warn("command: prune failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Info("command: pruned terminal commands", zap.Int64("count", n))
		}
	}
}
