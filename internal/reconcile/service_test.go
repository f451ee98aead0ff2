package reconcile

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/piratar/members-sync/internal/audit"
	"github.com/piratar/members-sync/internal/syncqueue"
	"github.com/piratar/members-sync/internal/testdb"
	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/replica"
	"github.com/piratar/members-sync/pkg/replica/boltstore"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// switchableReplica wraps a real store and can be taken down per key or
// entirely.
type switchableReplica struct {
	replica.Store
	mu       sync.Mutex
	down     bool
	failKeys map[string]bool
	block    bool
	onUpsert func(recordKey string)
	upserts  int
}

var errReplicaDown = errors.New("dial tcp: connection refused")

func (r *switchableReplica) check(ctx context.Context, recordKey string) error {
	r.mu.Lock()
	down, block, failKey := r.down, r.block, r.failKeys[recordKey]
	r.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if down || failKey {
		return errReplicaDown
	}
	return nil
}

func (r *switchableReplica) Upsert(ctx context.Context, recordKey string, doc replica.Document) error {
	if err := r.check(ctx, recordKey); err != nil {
		return err
	}
	r.mu.Lock()
	r.upserts++
	hook := r.onUpsert
	r.mu.Unlock()
	if hook != nil {
		hook(recordKey)
	}
	return r.Store.Upsert(ctx, recordKey, doc)
}

func (r *switchableReplica) Delete(ctx context.Context, recordKey string) error {
	if err := r.check(ctx, recordKey); err != nil {
		return err
	}
	return r.Store.Delete(ctx, recordKey)
}

func (r *switchableReplica) setDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}

type harness struct {
	conn     *gorm.DB
	svc      *Service
	queue    syncqueue.Repository
	recorder *syncqueue.Recorder
	replica  *switchableReplica
	audits   audit.Repository
	clock    *time.Time
	logs     *bytes.Buffer
}

func newHarness(t *testing.T, cfg config.SyncConfig) *harness {
	t.Helper()
	conn := testdb.Open(t)
	queue := syncqueue.NewRepository(conn)
	recorder, err := syncqueue.NewRecorder(queue)
	require.NoError(t, err)

	store, err := boltstore.New(filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rep := &switchableReplica{Store: store, failKeys: map[string]bool{}}

	audits := audit.NewRepository(conn)
	auditSvc, err := audit.NewService(audits)
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	svc, err := NewService(ServiceParams{
		Config:  cfg,
		Logger:  logger.New(logger.Options{ServiceName: "sync-worker-test", Output: logs}),
		Queue:   queue,
		Replica: rep,
		Audit:   auditSvc,
	})
	require.NoError(t, err)

	clock := baseTime
	h := &harness{conn: conn, svc: svc, queue: queue, recorder: recorder, replica: rep, audits: audits, clock: &clock, logs: logs}
	svc.now = func() time.Time { return *h.clock }
	return h
}

func (h *harness) advance(d time.Duration) {
	*h.clock = h.clock.Add(d)
}

func member(ssn, name string) *models.Member {
	return &models.Member{
		ID:         uuid.New(),
		SSN:        ssn,
		Name:       name,
		City:       "Reykjavík",
		Reachable:  true,
		Groupable:  true,
		DateJoined: baseTime,
	}
}

func (h *harness) entry(t *testing.T, id int64) *models.SyncQueueEntry {
	t.Helper()
	got, err := h.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return got
}

func docValue(t *testing.T, store replica.Store, key, path string) any {
	t.Helper()
	doc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	value, ok := doc.Lookup(path)
	require.True(t, ok, "missing %s", path)
	return value
}

func TestReconcileCreateUpdateDelete(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()
	m := member("0101302989", "Anna")

	created, err := h.recorder.RecordCreate(ctx, h.conn, m)
	require.NoError(t, err)
	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, "Anna", docValue(t, h.replica, m.SSN, "profile.name"))
	assert.Equal(t, "0101302989", docValue(t, h.replica, m.SSN, "kennitala"))
	assert.Equal(t, "active", docValue(t, h.replica, m.SSN, "membership.status"))
	got := h.entry(t, created.ID)
	assert.Equal(t, enums.SyncStatusSynced, got.Status)
	require.NotNil(t, got.SyncedAt)

	m.Name = "Anna Björk"
	updated, err := h.recorder.RecordUpdate(ctx, h.conn, m)
	require.NoError(t, err)
	_, err = h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Anna Björk", docValue(t, h.replica, m.SSN, "profile.name"))
	assert.Equal(t, enums.SyncStatusSynced, h.entry(t, updated.ID).Status)

	deleted, err := h.recorder.RecordDelete(ctx, h.conn, m.SSN)
	require.NoError(t, err)
	_, err = h.svc.RunOnce(ctx)
	require.NoError(t, err)
	_, err = h.replica.Get(ctx, m.SSN)
	assert.ErrorIs(t, err, replica.ErrNotFound)
	assert.Equal(t, enums.SyncStatusSynced, h.entry(t, deleted.ID).Status)

	total, err := h.audits.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "one audit row per non-empty run")

	summary, err = h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	total, err = h.audits.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "empty runs are not audited")
}

func TestReconcileRecoversAfterReplicaOutage(t *testing.T) {
	h := newHarness(t, config.SyncConfig{RetryDelay: time.Minute})
	ctx := context.Background()

	var ids []int64
	for _, m := range []*models.Member{member("0101302989", "Anna"), member("0103882369", "Bjarni")} {
		entry, err := h.recorder.RecordCreate(ctx, h.conn, m)
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}

	h.replica.setDown(true)
	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err, "replica failures never fail the batch")
	assert.Equal(t, 2, summary.Failed)
	for _, id := range ids {
		got := h.entry(t, id)
		assert.Equal(t, enums.SyncStatusFailed, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		assert.True(t, got.Retryable)
		require.NotNil(t, got.ErrorMessage)
		assert.Contains(t, *got.ErrorMessage, "connection refused")
	}

	h.replica.setDown(false)
	summary, err = h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed, "retry delay not yet elapsed")

	h.advance(2 * time.Minute)
	summary, err = h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Synced)
	for _, id := range ids {
		got := h.entry(t, id)
		assert.Equal(t, enums.SyncStatusSynced, got.Status)
		assert.Nil(t, got.ErrorMessage)
	}
	assert.Equal(t, "Bjarni", docValue(t, h.replica, "0103882369", "profile.name"))
}

func TestReconcileContinuesPastOneFailure(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()
	h.replica.failKeys["0103882369"] = true

	for _, m := range []*models.Member{member("0101302989", "A"), member("0103882369", "B"), member("1505752069", "C")} {
		_, err := h.recorder.RecordCreate(ctx, h.conn, m)
		require.NoError(t, err)
	}

	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Synced)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "010388****", summary.Failures[0].RecordKey)
	assert.Equal(t, "C", docValue(t, h.replica, "1505752069", "profile.name"))
}

func TestReconcileTimeoutIsRetryableFailure(t *testing.T) {
	h := newHarness(t, config.SyncConfig{EntryTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	h.replica.block = true

	entry, err := h.recorder.RecordCreate(ctx, h.conn, member("0101302989", "Anna"))
	require.NoError(t, err)

	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	got := h.entry(t, entry.ID)
	assert.Equal(t, enums.SyncStatusFailed, got.Status)
	assert.True(t, got.Retryable)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "exceeded")
}

func TestReconcileValidationFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()

	broken := &models.SyncQueueEntry{
		RecordKey:     "0101302989",
		Action:        enums.SyncActionUpdate,
		ChangedFields: datatypes.JSON(`{"name": 12`),
		FieldsVersion: syncqueue.SyncableFieldsVersion,
		Status:        enums.SyncStatusPending,
		Retryable:     true,
		CreatedAt:     baseTime,
	}
	require.NoError(t, h.queue.Insert(ctx, broken))

	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "validation", summary.Failures[0].Class)

	got := h.entry(t, broken.ID)
	assert.Equal(t, enums.SyncStatusFailed, got.Status)
	assert.False(t, got.Retryable)

	h.advance(time.Hour)
	summary, err = h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, h.replica.upserts)
}

func TestReconcileSkipsSupersededEntry(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()
	m := member("0101302989", "Anna")

	older, err := h.recorder.RecordUpdate(ctx, h.conn, m)
	require.NoError(t, err)
	newer, err := h.recorder.RecordDelete(ctx, h.conn, m.SSN)
	require.NoError(t, err)
	_, err = h.queue.MarkSynced(ctx, []int64{newer.ID}, baseTime)
	require.NoError(t, err)

	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Superseded)
	assert.Zero(t, h.replica.upserts)
	assert.Equal(t, enums.SyncStatusSynced, h.entry(t, older.ID).Status)
}

func TestReconcileSkipsOlderEntryWhenLaterOneIsPending(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()
	m := member("0101302989", "Old Name")

	older, err := h.recorder.RecordUpdate(ctx, h.conn, m)
	require.NoError(t, err)
	m.Name = "New Name"
	_, err = h.recorder.RecordUpdate(ctx, h.conn, m)
	require.NoError(t, err)

	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Superseded)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, h.replica.upserts)
	assert.Equal(t, enums.SyncStatusSynced, h.entry(t, older.ID).Status)
	assert.Equal(t, "New Name", docValue(t, h.replica, m.SSN, "profile.name"))
}

func TestReconcileRequeuedEntryDoesNotOverwriteNewerReplicaState(t *testing.T) {
	h := newHarness(t, config.SyncConfig{RetryDelay: time.Hour})
	ctx := context.Background()
	m := member("0101302989", "Old Name")

	h.replica.failKeys[m.SSN] = true
	older, err := h.recorder.RecordUpdate(ctx, h.conn, m)
	require.NoError(t, err)
	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	delete(h.replica.failKeys, m.SSN)

	m.Name = "New Name"
	newer, err := h.recorder.RecordUpdate(ctx, h.conn, m)
	require.NoError(t, err)
	summary, err = h.svc.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Synced)
	require.Equal(t, enums.SyncStatusSynced, h.entry(t, newer.ID).Status)

	purged, err := h.queue.DeleteSyncedBefore(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
	_, err = h.queue.MarkPending(ctx, []int64{older.ID}, true)
	require.NoError(t, err)

	summary, err = h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Superseded)
	assert.Zero(t, summary.Synced)
	assert.Equal(t, enums.SyncStatusSynced, h.entry(t, older.ID).Status)
	assert.Equal(t, "New Name", docValue(t, h.replica, m.SSN, "profile.name"))
}

func TestReconcileDeleteSkippedWhenReplicaIsAhead(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()
	m := member("0101302989", "Anna")

	deleted, err := h.recorder.RecordDelete(ctx, h.conn, m.SSN)
	require.NoError(t, err)
	require.NoError(t, h.replica.Store.Upsert(ctx, m.SSN, MemberDocument(m, deleted.ID+1)))

	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Superseded)
	assert.Equal(t, "Anna", docValue(t, h.replica, m.SSN, "profile.name"))
}

func TestReconcileManualResolutionWinsOverInFlightEntry(t *testing.T) {
	h := newHarness(t, config.SyncConfig{})
	ctx := context.Background()

	entry, err := h.recorder.RecordCreate(ctx, h.conn, member("0101302989", "Anna"))
	require.NoError(t, err)
	h.replica.onUpsert = func(string) {
		_, err := h.queue.MarkSynced(context.Background(), []int64{entry.ID}, baseTime)
		require.NoError(t, err)
	}

	summary, err := h.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced+summary.Lost)
	assert.Equal(t, enums.SyncStatusSynced, h.entry(t, entry.ID).Status)
}

func TestDrainStopsWhenNothingIsClaimed(t *testing.T) {
	h := newHarness(t, config.SyncConfig{BatchSize: 2})
	ctx := context.Background()
	for _, m := range []*models.Member{member("0101302989", "A"), member("0103882369", "B"), member("1505752069", "C")} {
		_, err := h.recorder.RecordCreate(ctx, h.conn, m)
		require.NoError(t, err)
	}

	total, err := h.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total.Synced)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, config.SyncConfig{PollIntervalMS: 5})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
