package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/piratar/members-sync/internal/audit"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	"github.com/piratar/members-sync/pkg/kennitala"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/pagination"
	"github.com/piratar/members-sync/pkg/replica"
)

const defaultBackfillPageSize = 100

type memberSource interface {
	List(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.Member, *pagination.Cursor, error)
	FindBySSNs(ctx context.Context, ssns []string) ([]models.Member, error)
}

type entryIndex interface {
	LatestIDs(ctx context.Context, recordKeys []string) (map[string]int64, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

type BackfillParams struct {
	Logger       *logger.Logger
	Members      memberSource
	Queue        entryIndex
	Replica      replica.Store
	Audit        auditRecorder
	PageSize     int
	EntryTimeout time.Duration
}

// Backfill writes every primary member into the replica. It bootstraps an
// empty replica and repairs a drifted one; the outbound queue is untouched.
type Backfill struct {
	logg         *logger.Logger
	members      memberSource
	queue        entryIndex
	replica      replica.Store
	audit        auditRecorder
	pageSize     int
	entryTimeout time.Duration
	now          func() time.Time
}

// BackfillReport counts one full pass.
type BackfillReport struct {
	Members  int            `json:"total_members"`
	Upserted int            `json:"synced"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
	Pages    int            `json:"pages_processed"`
	Failures []EntryFailure `json:"failures,omitempty"`
}

func NewBackfill(params BackfillParams) (*Backfill, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Members == nil {
		return nil, errors.New("member source is required")
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
	return &Backfill{
		logg:         params.Logger,
		members:      params.Members,
		queue:        params.Queue,
		replica:      params.Replica,
		audit:        params.Audit,
		pageSize:     positiveInt(params.PageSize, defaultBackfillPageSize),
		entryTimeout: positiveDuration(params.EntryTimeout, defaultEntryTimeout),
		now:          time.Now,
	}, nil
}

// Run pages through all members in created_at order. A replica failure on
// one member is counted and the pass continues; primary store errors stop
// it. A manual audit row is written either way.
func (b *Backfill) Run(ctx context.Context) (BackfillReport, error) {
	var report BackfillReport
	started := b.now().UTC()
	b.logg.Info(ctx, "replica backfill started")

	err := b.pages(ctx, &report)
	b.record(ctx, started, report, err)

	doneCtx := b.logg.WithFields(ctx, map[string]any{
		"total_members": report.Members,
		"synced":        report.Upserted,
		"skipped":       report.Skipped,
		"failed":        report.Failed,
		"pages":         report.Pages,
	})
	if err != nil {
		b.logg.Error(doneCtx, "replica backfill stopped", err)
		return report, err
	}
	b.logg.Info(doneCtx, "replica backfill finished")
	return report, nil
}

func (b *Backfill) pages(ctx context.Context, report *BackfillReport) error {
	var cursor *pagination.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, next, err := b.members.List(ctx, b.pageSize, cursor)
		if err != nil {
			return fmt.Errorf("list members: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		report.Pages++
		if err := b.syncPage(ctx, page, report); err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		cursor = next
	}
}

// syncPage reads the latest entry ids before re-reading member content, so
// each document's content is at least as new as the entry id it is stamped
// with.
func (b *Backfill) syncPage(ctx context.Context, page []models.Member, report *BackfillReport) error {
	keys := make([]string, 0, len(page))
	for _, m := range page {
		keys = append(keys, m.SSN)
	}
	latest, err := b.queue.LatestIDs(ctx, keys)
	if err != nil {
		return fmt.Errorf("latest entry ids: %w", err)
	}
	current, err := b.members.FindBySSNs(ctx, keys)
	if err != nil {
		return fmt.Errorf("reload members: %w", err)
	}

	for i := range current {
		m := &current[i]
		report.Members++
		skipped, err := b.syncMember(ctx, m, latest[m.SSN])
		switch {
		case err != nil:
			report.Failed++
			if len(report.Failures) < maxAuditFailures {
				report.Failures = append(report.Failures, EntryFailure{
					RecordKey: kennitala.Mask(m.SSN),
					Action:    enums.SyncActionUpdate.String(),
					Error:     err.Error(),
				})
			}
			b.logg.Warn(b.logg.WithFields(ctx, map[string]any{
				"record_key": kennitala.Mask(m.SSN),
				"error":      err.Error(),
			}), "backfill member failed")
		case skipped:
			report.Skipped++
		default:
			report.Upserted++
		}
	}
	return nil
}

// syncMember upserts one member stamped with the newest entry id known for
// it. A document written from a later entry that is still queued is left
// alone: that entry's content may be newer than what was read here.
func (b *Backfill) syncMember(ctx context.Context, m *models.Member, latestID int64) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.entryTimeout)
	defer cancel()

	stamp := latestID
	doc, err := b.replica.Get(callCtx, m.SSN)
	switch {
	case errors.Is(err, replica.ErrNotFound):
	case err != nil:
		return false, timeoutAware(callCtx, err, b.entryTimeout)
	default:
		if written, ok := DocumentEntryID(doc); ok && written > latestID {
			live, err := b.queue.Exists(callCtx, written)
			if err != nil {
				return false, fmt.Errorf("entry lookup: %w", err)
			}
			if live {
				return true, nil
			}
			stamp = written
		}
	}

	if err := b.replica.Upsert(callCtx, m.SSN, MemberDocument(m, stamp)); err != nil {
		return false, timeoutAware(callCtx, err, b.entryTimeout)
	}
	return false, nil
}

func (b *Backfill) record(ctx context.Context, started time.Time, report BackfillReport, runErr error) {
	detail := map[string]any{
		"mode":            "backfill",
		"skipped":         report.Skipped,
		"pages_processed": report.Pages,
		"failures":        report.Failures,
	}
	failed := report.Failed
	if runErr != nil {
		detail["error"] = runErr.Error()
		failed++
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	_, err := b.audit.Record(actx, audit.Run{
		Kind:      enums.SyncAuditKindManual,
		StartedAt: started,
		Processed: report.Members,
		Succeeded: report.Upserted + report.Skipped,
		Failed:    failed,
		Detail:    detail,
	})
	if err != nil {
		b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), "sync audit write failed")
	}
}
