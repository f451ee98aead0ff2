package inbound

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/piratar/members-sync/internal/audit"
	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/logger"
)

type call struct {
	op    string
	ssn   string
	patch members.Patch
	guard members.Guard
}

type fakeMembers struct {
	calls     []call
	createErr error
	updateErr error
	deleteErr error
}

func (f *fakeMembers) Create(_ context.Context, ssn string, patch members.Patch) (*models.Member, error) {
	f.calls = append(f.calls, call{op: "create", ssn: ssn, patch: patch})
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.Member{SSN: ssn}, nil
}

func (f *fakeMembers) Update(_ context.Context, ssn string, patch members.Patch, guard members.Guard) (*models.Member, error) {
	f.calls = append(f.calls, call{op: "update", ssn: ssn, patch: patch, guard: guard})
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &models.Member{SSN: ssn}, nil
}

func (f *fakeMembers) Delete(_ context.Context, ssn string, guard members.Guard) error {
	f.calls = append(f.calls, call{op: "delete", ssn: ssn, guard: guard})
	return f.deleteErr
}

func (f *fakeMembers) Get(context.Context, string) (*models.Member, error) {
	return nil, errors.New("not used")
}

func (f *fakeMembers) List(context.Context, int, string) (*members.ListResult, error) {
	return nil, errors.New("not used")
}

type fakeAudit struct {
	runs []audit.Run
	err  error
}

func (f *fakeAudit) Record(_ context.Context, run audit.Run) (*models.SyncAuditLog, error) {
	f.runs = append(f.runs, run)
	if f.err != nil {
		return nil, f.err
	}
	return &models.SyncAuditLog{}, nil
}

func newTestApplier(t *testing.T, m *fakeMembers, a *fakeAudit) *Applier {
	t.Helper()
	applier, err := NewApplier(ApplierParams{
		Members: m,
		Audit:   a,
		Logger:  logger.New(logger.Options{ServiceName: "inbound-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return applier
}

func TestNewApplierRequiresDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "inbound-test", Output: io.Discard})
	_, err := NewApplier(ApplierParams{Audit: &fakeAudit{}, Logger: logg})
	require.Error(t, err)
	_, err = NewApplier(ApplierParams{Members: &fakeMembers{}, Logger: logg})
	require.Error(t, err)
	_, err = NewApplier(ApplierParams{Members: &fakeMembers{}, Audit: &fakeAudit{}})
	require.Error(t, err)
}

func TestApplyRejectsEmptyAndOversizedBatches(t *testing.T) {
	applier := newTestApplier(t, &fakeMembers{}, &fakeAudit{})

	_, err := applier.Apply(context.Background(), nil)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = applier.Apply(context.Background(), make([]Item, MaxBatchSize+1))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestApplyMixedBatch(t *testing.T) {
	origin := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := &fakeMembers{}
	a := &fakeAudit{}
	applier := newTestApplier(t, m, a)

	result, err := applier.Apply(context.Background(), []Item{
		{RecordKey: "010130-2989", Action: "CREATE", Fields: map[string]any{"name": "Jón"}},
		{RecordKey: "0103882369", Action: "update", Fields: map[string]any{"email": "a@example.is"}, OriginTimestamp: &origin},
		{RecordKey: "0506002030", Action: "delete"},
		{RecordKey: "0101302979", Action: "update"},
		{RecordKey: "0101302989", Action: "merge"},
		{RecordKey: "0101302989", Action: "update", Fields: map[string]any{"nickname": "J"}},
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Applied)
	require.Equal(t, 3, result.Rejected)
	require.Len(t, result.Results, 6)
	for i, r := range result.Results {
		require.Equal(t, i, r.Index)
	}
	require.Equal(t, "0101302989", result.Results[0].RecordKey)
	require.Contains(t, result.Results[3].Reason, "invalid kennitala")

	require.Len(t, m.calls, 3)
	require.Equal(t, "create", m.calls[0].op)
	require.Equal(t, "0101302989", m.calls[0].ssn)
	require.Equal(t, "update", m.calls[1].op)
	require.Equal(t, &origin, m.calls[1].guard.NotAfter)
	require.Equal(t, "delete", m.calls[2].op)

	require.Len(t, a.runs, 1)
	run := a.runs[0]
	require.Equal(t, enums.SyncAuditKindInbound, run.Kind)
	require.Equal(t, 6, run.Processed)
	require.Equal(t, 3, run.Succeeded)
	require.Equal(t, 3, run.Failed)
}

func TestApplyMapsMemberErrors(t *testing.T) {
	cases := []struct {
		name       string
		members    *fakeMembers
		item       Item
		wantStatus string
		wantReason string
	}{
		{
			name:       "stale update is a conflict",
			members:    &fakeMembers{updateErr: pkgerrors.New(pkgerrors.CodeConflict, "changed")},
			item:       Item{RecordKey: "0101302989", Action: "update", Fields: map[string]any{"name": "A"}},
			wantStatus: StatusConflict,
		},
		{
			name:       "update of missing member",
			members:    &fakeMembers{updateErr: pkgerrors.New(pkgerrors.CodeNotFound, "missing")},
			item:       Item{RecordKey: "0101302989", Action: "update", Fields: map[string]any{"name": "A"}},
			wantStatus: StatusRejected,
			wantReason: "member not found",
		},
		{
			name:       "create of existing member",
			members:    &fakeMembers{createErr: pkgerrors.New(pkgerrors.CodeConflict, "exists")},
			item:       Item{RecordKey: "0101302989", Action: "create"},
			wantStatus: StatusRejected,
			wantReason: "member already exists",
		},
		{
			name:       "delete of missing member is applied",
			members:    &fakeMembers{deleteErr: pkgerrors.New(pkgerrors.CodeNotFound, "missing")},
			item:       Item{RecordKey: "0101302989", Action: "delete"},
			wantStatus: StatusApplied,
		},
		{
			name:       "store failure",
			members:    &fakeMembers{deleteErr: errors.New("connection reset")},
			item:       Item{RecordKey: "0101302989", Action: "delete"},
			wantStatus: StatusRejected,
			wantReason: "primary store unavailable",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			applier := newTestApplier(t, tc.members, &fakeAudit{})
			result, err := applier.Apply(context.Background(), []Item{tc.item})
			require.NoError(t, err)
			require.Equal(t, tc.wantStatus, result.Results[0].Status)
			if tc.wantReason != "" {
				require.Equal(t, tc.wantReason, result.Results[0].Reason)
			}
		})
	}
}

func TestApplySucceedsWhenAuditWriteFails(t *testing.T) {
	applier := newTestApplier(t, &fakeMembers{}, &fakeAudit{err: errors.New("audit down")})
	result, err := applier.Apply(context.Background(), []Item{{RecordKey: "0101302989", Action: "delete"}})
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied)
}
