// Package pagination implements keyset paging over (created_at, id) with
// opaque cursors.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Cursor is the (created_at, id) position of the last row of a page. ID is
// text so bigserial and uuid keys both fit.
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

// Int64ID parses ID for tables keyed by bigserial.
func (c Cursor) Int64ID() (int64, error) {
	id, err := strconv.ParseInt(c.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor id: %w", err)
	}
	return id, nil
}

// Order is the walk direction of a keyset query.
type Order string

const (
	OldestFirst Order = "ASC"
	NewestFirst Order = "DESC"
)

// NormalizeLimit maps non-positive limits to DefaultLimit and caps at MaxLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// Keyset scopes query to the page after cursor. It fetches one row more than
// the page so Trim can tell whether another page follows. cursorID is the
// cursor's id converted to the table's key type.
func Keyset(query *gorm.DB, order Order, limit int, cursor *Cursor, cursorID any) *gorm.DB {
	if order != NewestFirst {
		order = OldestFirst
	}
	if cursor != nil {
		op := ">"
		if order == NewestFirst {
			op = "<"
		}
		query = query.Where("(created_at, id) "+op+" (?, ?)", cursor.CreatedAt, cursorID)
	}
	return query.
		Order("created_at " + string(order) + ", id " + string(order)).
		Limit(NormalizeLimit(limit) + 1)
}

// Trim cuts a Keyset result down to the page and returns the cursor of its
// last row, or nil when this was the final page.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, *Cursor) {
	n := NormalizeLimit(limit)
	if len(rows) <= n {
		return rows, nil
	}
	rows = rows[:n]
	next := key(rows[n-1])
	return rows, &next
}

// EncodeCursor renders c as an opaque URL-safe token.
func EncodeCursor(c Cursor) string {
	c.CreatedAt = c.CreatedAt.UTC()
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseCursor decodes a token from EncodeCursor. An empty token is the first
// page and yields nil.
func ParseCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return nil, errors.New("incomplete cursor")
	}
	return &c, nil
}
