package reconcile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piratar/members-sync/internal/audit"
	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	"github.com/piratar/members-sync/pkg/logger"
)

// frozenIndex reports latest ids captured before a concurrent write landed.
type frozenIndex struct {
	entryIndex
	latest map[string]int64
}

func (f frozenIndex) LatestIDs(context.Context, []string) (map[string]int64, error) {
	return f.latest, nil
}

func newBackfill(t *testing.T, h *harness, index entryIndex, pageSize int) *Backfill {
	t.Helper()
	auditSvc, err := audit.NewService(h.audits)
	require.NoError(t, err)
	if index == nil {
		index = h.queue
	}
	b, err := NewBackfill(BackfillParams{
		Logger:   logger.New(logger.Options{ServiceName: "syncctl-test", Output: h.logs}),
		Members:  members.NewRepository(h.conn),
		Queue:    index,
		Replica:  h.replica,
		Audit:    auditSvc,
		PageSize: pageSize,
	})
	require.NoError(t, err)
	return b
}

func seedMembers(t *testing.T, h *harness, list ...*models.Member) {
	t.Helper()
	repo := members.NewRepository(h.conn)
	for _, m := range list {
		require.NoError(t, repo.Create(context.Background(), m))
	}
}

func manualRuns(t *testing.T, h *harness) []models.SyncAuditLog {
	t.Helper()
	rows, _, err := h.audits.List(context.Background(), audit.ListParams{Kind: enums.SyncAuditKindManual, Limit: 10})
	require.NoError(t, err)
	return rows
}

func TestBackfillBootstrapsEmptyReplica(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()
	seedMembers(t, h, member("0101302989", "Anna"), member("0103882369", "Bjarni"), member("1505752069", "Katrín"))

	report, err := newBackfill(t, h, nil, 2).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Members)
	assert.Equal(t, 3, report.Upserted)
	assert.Equal(t, 2, report.Pages)
	assert.Zero(t, report.Failed)
	assert.Equal(t, "Katrín", docValue(t, h.replica, "1505752069", "profile.name"))

	runs := manualRuns(t, h)
	require.Len(t, runs, 1)
	assert.Equal(t, enums.SyncRunCompleted, runs[0].Status)
	assert.Equal(t, 3, runs[0].Processed)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(runs[0].Detail, &detail))
	assert.Equal(t, "backfill", detail["mode"])
	assert.EqualValues(t, 2, detail["pages_processed"])

	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed, "backfill does not touch the queue")
}

func TestBackfillRepairsDriftedDocument(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()
	m := member("0101302989", "Anna Björk")
	seedMembers(t, h, m)
	entry, err := h.recorder.RecordUpdate(ctx, h.conn, m)
	require.NoError(t, err)

	stale := *m
	stale.Name = "Anna"
	require.NoError(t, h.replica.Store.Upsert(ctx, m.SSN, MemberDocument(&stale, entry.ID)))

	report, err := newBackfill(t, h, nil, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Upserted)
	assert.Equal(t, "Anna Björk", docValue(t, h.replica, m.SSN, "profile.name"))

	doc, err := h.replica.Get(ctx, m.SSN)
	require.NoError(t, err)
	stamped, ok := DocumentEntryID(doc)
	require.True(t, ok)
	assert.Equal(t, entry.ID, stamped)
}

func TestBackfillKeepsStampOfPurgedEntry(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()
	m := member("0101302989", "Anna")
	seedMembers(t, h, m)
	require.NoError(t, h.replica.Store.Upsert(ctx, m.SSN, MemberDocument(m, 999)))

	report, err := newBackfill(t, h, nil, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Upserted)

	doc, err := h.replica.Get(ctx, m.SSN)
	require.NoError(t, err)
	stamped, ok := DocumentEntryID(doc)
	require.True(t, ok)
	assert.Equal(t, int64(999), stamped, "an older entry must still lose to the replica afterwards")
}

func TestBackfillLeavesDocumentOfQueuedLaterEntry(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()
	m := member("0101302989", "Anna")
	seedMembers(t, h, m)

	later, err := h.recorder.RecordUpdate(ctx, h.conn, m)
	require.NoError(t, err)
	require.NoError(t, h.replica.Store.Upsert(ctx, m.SSN, MemberDocument(m, later.ID)))
	require.NoError(t, h.conn.Model(&models.Member{}).Where("ssn = ?", m.SSN).Update("name", "Anna (old)").Error)

	index := frozenIndex{entryIndex: h.queue, latest: map[string]int64{}}
	report, err := newBackfill(t, h, index, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Upserted)
	assert.Equal(t, "Anna", docValue(t, h.replica, m.SSN, "profile.name"))
}

func TestBackfillCountsReplicaFailuresAndContinues(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()
	seedMembers(t, h, member("0101302989", "Anna"), member("0103882369", "Bjarni"))
	h.replica.failKeys["0101302989"] = true

	report, err := newBackfill(t, h, nil, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Upserted)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.NotContains(t, report.Failures[0].RecordKey, "0101302989")
	assert.Equal(t, "Bjarni", docValue(t, h.replica, "0103882369", "profile.name"))

	runs := manualRuns(t, h)
	require.Len(t, runs, 1)
	assert.Equal(t, enums.SyncRunPartial, runs[0].Status)
}
