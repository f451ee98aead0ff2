package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piratar/members-sync/internal/testdb"
	"github.com/piratar/members-sync/pkg/db/models"
)

type ctxKey struct{}

func TestBaseDBBindsContext(t *testing.T) {
	db := testdb.Open(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), ctxKey{}, "value")
	withCtx := base.DB(ctx)
	require.NotNil(t, withCtx.Statement)
	assert.Equal(t, ctx, withCtx.Statement.Context)

	assert.Same(t, db, base.DB(nil))
}

func TestBaseBindUsesTransaction(t *testing.T) {
	db := testdb.Open(t)
	base := NewBase(db)

	assert.Same(t, db, base.Bind(nil).DB(nil))

	tx := db.Begin()
	require.NoError(t, tx.Error)
	defer tx.Rollback()

	bound := base.Bind(tx)
	assert.Same(t, tx, bound.DB(nil))

	var count int64
	require.NoError(t, bound.Model(context.Background(), &models.SyncClient{}).Count(&count).Error)
	assert.Zero(t, count)
}
