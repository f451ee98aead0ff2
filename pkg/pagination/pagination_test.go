package pagination

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type row struct {
	ID        int64
	CreatedAt time.Time
}

func rowCursor(r row) Cursor {
	return Cursor{CreatedAt: r.CreatedAt, ID: fmt.Sprint(r.ID)}
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-4))
	assert.Equal(t, MaxLimit, NormalizeLimit(1000))
	assert.Equal(t, 10, NormalizeLimit(10))
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 123, time.FixedZone("GMT+1", 3600))
	token := EncodeCursor(Cursor{CreatedAt: at, ID: "42"})
	assert.NotContains(t, token, "=")

	cursor, err := ParseCursor(token)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, at.Equal(cursor.CreatedAt))
	assert.Equal(t, time.UTC, cursor.CreatedAt.Location())

	id, err := cursor.Int64ID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	cursor, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	for _, token := range []string{
		"not-base64!!",
		EncodeCursor(Cursor{CreatedAt: time.Now()}),
		EncodeCursor(Cursor{ID: "7"}),
		"bm90IGpzb24",
	} {
		_, err := ParseCursor(token)
		require.Error(t, err, token)
	}

	_, err = Cursor{ID: "abc"}.Int64ID()
	require.Error(t, err)
}

func TestTrim(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []row{{1, base}, {2, base}, {3, base.Add(time.Second)}}

	page, next := Trim(rows, 2, rowCursor)
	require.Len(t, page, 2)
	require.NotNil(t, next)
	assert.Equal(t, "2", next.ID)

	page, next = Trim(rows, 3, rowCursor)
	require.Len(t, page, 3)
	assert.Nil(t, next)
}

func TestKeysetWalksEveryRowOnce(t *testing.T) {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&row{}))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// ties on created_at must be broken by id
	for i := int64(1); i <= 7; i++ {
		require.NoError(t, conn.Create(&row{ID: i, CreatedAt: base.Add(time.Duration(i/3) * time.Minute)}).Error)
	}

	for _, order := range []Order{OldestFirst, NewestFirst} {
		var seen []int64
		var cursor *Cursor
		for pages := 0; pages < 10; pages++ {
			var cursorID any
			if cursor != nil {
				cursorID, err = cursor.Int64ID()
				require.NoError(t, err)
			}
			var rows []row
			require.NoError(t, Keyset(conn.Model(&row{}), order, 3, cursor, cursorID).Find(&rows).Error)
			page, next := Trim(rows, 3, rowCursor)
			for _, r := range page {
				seen = append(seen, r.ID)
			}
			if next == nil {
				break
			}
			cursor = next
		}
		if order == OldestFirst {
			assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, seen)
		} else {
			assert.Equal(t, []int64{7, 6, 5, 4, 3, 2, 1}, seen)
		}
	}
}
