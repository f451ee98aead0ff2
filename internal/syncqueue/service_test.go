package syncqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piratar/members-sync/internal/testdb"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
)

type stubRuns struct {
	last *time.Time
}

func (s stubRuns) LastCompletedAt(context.Context, enums.SyncAuditKind) (*time.Time, error) {
	return s.last, nil
}

func newTestService(t *testing.T, runs InboundRunLookup) (*service, Repository) {
	t.Helper()
	repo := NewRepository(testdb.Open(t))
	svc, err := NewService(ServiceParams{Repo: repo, Runs: runs})
	require.NoError(t, err)
	impl := svc.(*service)
	impl.now = func() time.Time { return baseTime }
	return impl, repo
}

func TestServiceMarkSyncedRejectsEmptyList(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.MarkSynced(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.MarkSynced(context.Background(), []int64{0})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestServiceChangesDefaultWindow(t *testing.T) {
	svc, repo := newTestService(t, nil)
	seedEntry(t, repo, "0103882369", enums.SyncActionCreate, baseTime.Add(-time.Hour))

	result, err := svc.ChangesSince(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.True(t, result.Since.Equal(baseTime.Add(-24*time.Hour)))
}

func TestServiceChangesAnchorsOnLastInboundRun(t *testing.T) {
	last := baseTime.Add(-72 * time.Hour)
	svc, repo := newTestService(t, stubRuns{last: &last})
	seedEntry(t, repo, "0101302989", enums.SyncActionCreate, baseTime.Add(-48*time.Hour))

	result, err := svc.ChangesSince(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.True(t, result.Since.Equal(last))

	explicit := baseTime.Add(-time.Hour)
	result, err = svc.ChangesSince(context.Background(), &explicit, 0)
	require.NoError(t, err)
	assert.Zero(t, result.Count)
}

func TestServiceChangesDefaultIncludesPendingOlderThanAnchor(t *testing.T) {
	last := baseTime.Add(-time.Hour)
	svc, repo := newTestService(t, stubRuns{last: &last})
	older := seedEntry(t, repo, "0101302989", enums.SyncActionUpdate, baseTime.Add(-5*time.Hour))
	seedEntry(t, repo, "0103882369", enums.SyncActionCreate, baseTime.Add(-time.Minute))

	result, err := svc.ChangesSince(context.Background(), nil, 0)
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)
	assert.Equal(t, older.ID, result.Changes[0].ID)
	assert.True(t, result.Since.Equal(older.CreatedAt))
}

func TestServiceChangesDefaultWindowIncludesOlderPending(t *testing.T) {
	svc, repo := newTestService(t, nil)
	stale := seedEntry(t, repo, "0101302989", enums.SyncActionCreate, baseTime.Add(-48*time.Hour))
	result, err := svc.ChangesSince(context.Background(), nil, 0)
	require.NoError(t, err)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, stale.ID, result.Changes[0].ID)
}

func TestServiceStatusReportsSamples(t *testing.T) {
	svc, repo := newTestService(t, nil)
	for i := 0; i < 3; i++ {
		seedEntry(t, repo, "0101302989", enums.SyncActionUpdate, baseTime.Add(time.Duration(i)*time.Second))
	}

	report, err := svc.Status(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Pending)
	assert.Zero(t, report.Failed)
	assert.Len(t, report.RecentPending, 2)
	assert.Empty(t, report.RecentFailed)
	require.NotNil(t, report.OldestPendingAt)
}

func TestServiceGetAndList(t *testing.T) {
	svc, repo := newTestService(t, nil)
	entry := seedEntry(t, repo, "0101302989", enums.SyncActionCreate, baseTime)

	got, err := svc.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)

	_, err = svc.Get(context.Background(), entry.ID+100)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = svc.List(context.Background(), ListRequest{Status: "bogus"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	page, err := svc.List(context.Background(), ListRequest{Status: "pending"})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Empty(t, page.Cursor)
}
