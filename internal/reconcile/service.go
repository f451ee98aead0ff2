package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/piratar/members-sync/internal/audit"
	"github.com/piratar/members-sync/internal/syncqueue"
	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/kennitala"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/metrics"
	"github.com/piratar/members-sync/pkg/replica"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = time.Second
	defaultMaxRetries   = 5
	defaultRetryDelay   = time.Minute
	defaultEntryTimeout = 15 * time.Second
	defaultClaimTTL     = 2 * time.Minute
	finalizeTimeout     = 5 * time.Second
	maxBackoff          = 30 * time.Second
	jitterWindow        = 250 * time.Millisecond
	maxAuditFailures    = 20
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type queueRepository interface {
	ListEligible(ctx context.Context, params syncqueue.EligibleParams) ([]models.SyncQueueEntry, error)
	Claim(ctx context.Context, id int64, token uuid.UUID, now time.Time, params syncqueue.EligibleParams) (bool, error)
	FinalizeSynced(ctx context.Context, id int64, token uuid.UUID, now time.Time) (bool, error)
	FinalizeFailed(ctx context.Context, id int64, token uuid.UUID, now time.Time, failure syncqueue.Failure) (bool, error)
	HasNewer(ctx context.Context, recordKey string, id int64) (bool, error)
	CountByStatus(ctx context.Context) (map[enums.SyncStatus]int64, error)
}

type auditRecorder interface {
	Record(ctx context.Context, run audit.Run) (*models.SyncAuditLog, error)
}

type ServiceParams struct {
	Config  config.SyncConfig
	Logger  *logger.Logger
	Queue   queueRepository
	Replica replica.Store
	Audit   auditRecorder
	Metrics *metrics.SyncMetrics
	// Wakeup shortens the idle wait when a change was just recorded.
	Wakeup <-chan struct{}
}

// Service drains the sync queue into the replica. Several instances may run
// against the same queue; the per-entry claim keeps them apart.
type Service struct {
	logg         *logger.Logger
	queue        queueRepository
	replica      replica.Store
	audit        auditRecorder
	metrics      *metrics.SyncMetrics
	wakeup       <-chan struct{}
	batchSize    int
	pollInterval time.Duration
	maxRetries   int
	retryDelay   time.Duration
	entryTimeout time.Duration
	claimTTL     time.Duration
	now          func() time.Time
}

// Summary counts one batch.
type Summary struct {
	Processed  int            `json:"processed"`
	Synced     int            `json:"synced"`
	Superseded int            `json:"superseded"`
	Failed     int            `json:"failed"`
	Lost       int            `json:"lost_claims"`
	Failures   []EntryFailure `json:"failures,omitempty"`
}

// Claimed is how many entries this batch actually owned.
func (s Summary) Claimed() int {
	return s.Processed - s.Lost
}

// EntryFailure describes one entry that ended the batch failed.
type EntryFailure struct {
	ID        int64  `json:"id"`
	RecordKey string `json:"record_key"`
	Action    string `json:"action"`
	Class     string `json:"class"`
	Error     string `json:"error"`
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Queue == nil {
		return nil, errors.New("queue repository is required")
	}
	if params.Replica == nil {
		return nil, errors.New("replica store is required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit recorder is required")
	}

	cfg := params.Config
	return &Service{
		logg:         params.Logger,
		queue:        params.Queue,
		replica:      params.Replica,
		audit:        params.Audit,
		metrics:      params.Metrics,
		wakeup:       params.Wakeup,
		batchSize:    positiveInt(cfg.BatchSize, defaultBatchSize),
		pollInterval: positiveDuration(cfg.PollInterval(), defaultPollInterval),
		maxRetries:   positiveInt(cfg.MaxRetries, defaultMaxRetries),
		retryDelay:   positiveDuration(cfg.RetryDelay, defaultRetryDelay),
		entryTimeout: positiveDuration(cfg.EntryTimeout, defaultEntryTimeout),
		claimTTL:     positiveDuration(cfg.ClaimTTL, defaultClaimTTL),
		now:          time.Now,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.replica.Ping(ctx); err != nil {
		s.logg.Error(ctx, "replica ping failed", err)
		return fmt.Errorf("replica ping failed: %w", err)
	}
	return nil
}

// Run polls until ctx ends. An unreachable replica at startup is not fatal:
// entries simply fail and retry until it comes back.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		s.logg.Warn(ctx, "reconciler starting with replica unavailable")
	}

	backoff := s.pollInterval
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "reconciler context canceled")
			return ctx.Err()
		default:
		}

		summary, err := s.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
			s.logg.Error(ctx, "reconcile batch error", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = s.pollInterval
		if summary.Claimed() > 0 {
			continue
		}
		if err := s.sleep(ctx, withJitter(s.pollInterval)); err != nil {
			return err
		}
	}
}

// Drain repeats RunOnce until a batch claims nothing.
func (s *Service) Drain(ctx context.Context) (Summary, error) {
	var total Summary
	for {
		summary, err := s.RunOnce(ctx)
		total.add(summary)
		if err != nil {
			return total, err
		}
		if summary.Claimed() == 0 {
			return total, nil
		}
	}
}

// RunOnce processes one batch of eligible entries in created_at, id order.
// Replica failures are recorded on their entries and never abort the batch;
// only queue storage errors are returned.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary
	started := s.now().UTC()

	entries, err := s.queue.ListEligible(ctx, s.eligibleParams(started))
	if err != nil {
		return summary, fmt.Errorf("list eligible entries: %w", err)
	}
	if len(entries) == 0 {
		s.observeDepth(ctx)
		return summary, nil
	}

	var batchErr error
	for i := range entries {
		if ctx.Err() != nil {
			batchErr = ctx.Err()
			break
		}
		if err := s.processEntry(ctx, &entries[i], &summary); err != nil {
			batchErr = err
			break
		}
	}

	if summary.Claimed() > 0 {
		s.recordRun(ctx, started, summary)
	}
	s.observeDepth(ctx)
	return summary, batchErr
}

func (s *Service) eligibleParams(now time.Time) syncqueue.EligibleParams {
	return syncqueue.EligibleParams{
		Limit:       s.batchSize,
		MaxRetries:  s.maxRetries,
		RetryBefore: now.Add(-s.retryDelay),
		StaleBefore: now.Add(-s.claimTTL),
	}
}

func (s *Service) processEntry(ctx context.Context, entry *models.SyncQueueEntry, summary *Summary) error {
	summary.Processed++
	fields := entryFields(entry)
	entryCtx := s.logg.WithFields(ctx, fields)
	start := time.Now()

	token := uuid.New()
	claimedAt := s.now().UTC()
	owned, err := s.queue.Claim(ctx, entry.ID, token, claimedAt, s.eligibleParams(claimedAt))
	if err != nil {
		return fmt.Errorf("claim entry %d: %w", entry.ID, err)
	}
	if !owned {
		summary.Lost++
		s.metrics.ObserveEntry(entry.Action.String(), metrics.ResultLost, time.Since(start))
		return nil
	}

	superseded, err := s.queue.HasNewer(ctx, entry.RecordKey, entry.ID)
	if err != nil {
		return fmt.Errorf("superseded check %d: %w", entry.ID, err)
	}
	if superseded {
		return s.finishSuperseded(ctx, entryCtx, entry, token, start, summary, "sync entry superseded by newer entry")
	}

	stale, applyErr := s.apply(ctx, entry)
	if stale {
		return s.finishSuperseded(ctx, entryCtx, entry, token, start, summary, "replica already holds a newer change")
	}
	if applyErr != nil {
		class := pkgerrors.Classify(applyErr)
		failure := syncqueue.Failure{
			Message:   applyErr.Error(),
			Retryable: pkgerrors.Retryable(applyErr),
		}
		ok, err := s.finalizeFailed(ctx, entry.ID, token, failure)
		if err != nil {
			return err
		}
		if !ok {
			summary.Lost++
			return nil
		}
		summary.Failed++
		if len(summary.Failures) < maxAuditFailures {
			summary.Failures = append(summary.Failures, EntryFailure{
				ID:        entry.ID,
				RecordKey: kennitala.Mask(entry.RecordKey),
				Action:    entry.Action.String(),
				Class:     string(class),
				Error:     failure.Message,
			})
		}
		s.metrics.ObserveEntry(entry.Action.String(), metrics.ResultFailed, time.Since(start))

		warnCtx := s.logg.WithFields(entryCtx, map[string]any{
			"error":         failure.Message,
			"failure_class": class,
			"retryable":     failure.Retryable,
			"attempt":       entry.RetryCount + 1,
		})
		s.logg.Warn(warnCtx, "sync entry failed")
		return nil
	}

	ok, err := s.finalizeSynced(ctx, entry.ID, token)
	if err != nil {
		return err
	}
	if !ok {
		summary.Lost++
		return nil
	}
	summary.Synced++
	s.metrics.ObserveEntry(entry.Action.String(), metrics.ResultSynced, time.Since(start))
	s.logg.Debug(entryCtx, "sync entry applied")
	return nil
}

func (s *Service) finishSuperseded(ctx, entryCtx context.Context, entry *models.SyncQueueEntry, token uuid.UUID, start time.Time, summary *Summary, msg string) error {
	ok, err := s.finalizeSynced(ctx, entry.ID, token)
	if err != nil {
		return err
	}
	if !ok {
		summary.Lost++
		return nil
	}
	summary.Superseded++
	s.metrics.ObserveEntry(entry.Action.String(), metrics.ResultSuperseded, time.Since(start))
	s.logg.Debug(entryCtx, msg)
	return nil
}

// apply performs the replica calls for one entry under the per-entry timeout.
// stale is true when the replica document was written from a later entry
// than this one; nothing is written then.
func (s *Service) apply(ctx context.Context, entry *models.SyncQueueEntry) (stale bool, err error) {
	if err := kennitala.Validate(entry.RecordKey); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid record key")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.entryTimeout)
	defer cancel()

	switch entry.Action {
	case enums.SyncActionCreate, enums.SyncActionUpdate:
		snap, err := syncqueue.DecodeSnapshot(entry.ChangedFields)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode changed fields")
		}
		if stale, err := s.replicaAhead(callCtx, entry); err != nil || stale {
			return stale, timeoutAware(callCtx, err, s.entryTimeout)
		}
		if err := s.replica.Upsert(callCtx, entry.RecordKey, BuildDocument(entry, snap)); err != nil {
			return false, timeoutAware(callCtx, err, s.entryTimeout)
		}
		return false, nil
	case enums.SyncActionDelete:
		if stale, err := s.replicaAhead(callCtx, entry); err != nil || stale {
			return stale, timeoutAware(callCtx, err, s.entryTimeout)
		}
		if err := s.replica.Delete(callCtx, entry.RecordKey); err != nil {
			return false, timeoutAware(callCtx, err, s.entryTimeout)
		}
		return false, nil
	default:
		return false, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown sync action %q", entry.Action)
	}
}

// replicaAhead reports whether the stored document carries a later queue
// entry id than entry. Later entries may already be purged from the queue.
func (s *Service) replicaAhead(ctx context.Context, entry *models.SyncQueueEntry) (bool, error) {
	doc, err := s.replica.Get(ctx, entry.RecordKey)
	if errors.Is(err, replica.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	written, ok := DocumentEntryID(doc)
	return ok && written > entry.ID, nil
}

// finalizeSynced and finalizeFailed outlive a canceled run context so a
// claimed entry is not left leased until the claim TTL expires.
func (s *Service) finalizeSynced(ctx context.Context, id int64, token uuid.UUID) (bool, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	ok, err := s.queue.FinalizeSynced(fctx, id, token, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark entry %d synced: %w", id, err)
	}
	return ok, nil
}

func (s *Service) finalizeFailed(ctx context.Context, id int64, token uuid.UUID, failure syncqueue.Failure) (bool, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	ok, err := s.queue.FinalizeFailed(fctx, id, token, s.now().UTC(), failure)
	if err != nil {
		return false, fmt.Errorf("mark entry %d failed: %w", id, err)
	}
	return ok, nil
}

func (s *Service) recordRun(ctx context.Context, started time.Time, summary Summary) {
	run := audit.Run{
		Kind:      enums.SyncAuditKindOutbound,
		StartedAt: started,
		Processed: summary.Claimed(),
		Succeeded: summary.Synced + summary.Superseded,
		Failed:    summary.Failed,
		Detail: map[string]any{
			"superseded":  summary.Superseded,
			"lost_claims": summary.Lost,
			"failures":    summary.Failures,
		},
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if _, err := s.audit.Record(actx, run); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "sync audit write failed")
	}
	if summary.Failed > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"synced": summary.Synced,
			"failed": summary.Failed,
		}), "reconcile batch finished with failures")
	}
}

func (s *Service) observeDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	counts, err := s.queue.CountByStatus(ctx)
	if err != nil {
		return
	}
	for status, count := range counts {
		s.metrics.SetDepth(status.String(), count)
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.wakeup:
		return nil
	case <-timer.C:
		return nil
	}
}

func timeoutAware(callCtx context.Context, err error, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("replica call exceeded %s: %w", timeout, errors.Join(context.DeadlineExceeded, err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("replica call exceeded %s: %w", timeout, err)
	}
	return err
}

func entryFields(entry *models.SyncQueueEntry) map[string]any {
	return map[string]any{
		"entry_id":    entry.ID,
		"record_key":  kennitala.Mask(entry.RecordKey),
		"action":      entry.Action,
		"retry_count": entry.RetryCount,
	}
}

func (s *Summary) add(other Summary) {
	s.Processed += other.Processed
	s.Synced += other.Synced
	s.Superseded += other.Superseded
	s.Failed += other.Failed
	s.Lost += other.Lost
	s.Failures = append(s.Failures, other.Failures...)
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

func positiveInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func positiveDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
