// Package surrealstore writes member documents into SurrealDB using
// parameterized SurrealQL against one table, keyed by record key.
package surrealstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	surrealdb "github.com/surrealdb/surrealdb.go"

	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/replica"
)

const (
	upsertQuery = "UPSERT type::thing($tb, $id) CONTENT $doc"
	deleteQuery = "DELETE type::thing($tb, $id)"
	selectQuery = "SELECT * FROM type::thing($tb, $id)"
	pingQuery   = "RETURN true"

	statusOK = "OK"
)

// Store implements replica.Store against a SurrealDB namespace/database.
type Store struct {
	db    *surrealdb.DB
	table string
}

// New connects, signs in when credentials are configured, and selects the
// namespace and database.
func New(ctx context.Context, cfg config.ReplicaConfig) (*Store, error) {
	if strings.TrimSpace(cfg.SurrealURL) == "" {
		return nil, errors.New("surreal url is required")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, errors.New("surreal table is required")
	}

	db, err := surrealdb.FromEndpointURLString(ctx, cfg.SurrealURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to surrealdb: %w", err)
	}

	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, surrealdb.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		}); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace %s database %s: %w", cfg.Namespace, cfg.Database, err)
	}

	return &Store{db: db, table: cfg.Table}, nil
}

// Opener adapts New to replica.Open.
func Opener(ctx context.Context, cfg config.ReplicaConfig) (replica.Store, error) {
	return New(ctx, cfg)
}

func (s *Store) Upsert(ctx context.Context, recordKey string, doc replica.Document) error {
	res, err := surrealdb.Query[any](ctx, s.db, upsertQuery, s.vars(recordKey, map[string]any{
		"doc": map[string]any(doc),
	}))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", recordKey, err)
	}
	return checkStatus(res, "upsert")
}

func (s *Store) Delete(ctx context.Context, recordKey string) error {
	// DELETE on a missing record id is a no-op in SurrealQL.
	res, err := surrealdb.Query[any](ctx, s.db, deleteQuery, s.vars(recordKey, nil))
	if err != nil {
		return fmt.Errorf("delete %s: %w", recordKey, err)
	}
	return checkStatus(res, "delete")
}

func (s *Store) Get(ctx context.Context, recordKey string) (replica.Document, error) {
	res, err := surrealdb.Query[[]map[string]any](ctx, s.db, selectQuery, s.vars(recordKey, nil))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", recordKey, err)
	}
	if err := checkStatus(res, "select"); err != nil {
		return nil, err
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, replica.ErrNotFound
	}
	doc := replica.Document{}
	for k, v := range (*res)[0].Result[0] {
		if k == "id" {
			continue
		}
		doc[k] = normalize(v)
	}
	return doc, nil
}

// normalize turns CBOR-decoded map[any]any values into map[string]any so
// documents behave the same as the bolt backend's JSON ones.
func normalize(v any) any {
	switch typed := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[fmt.Sprint(k)] = normalize(inner)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = normalize(inner)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = normalize(inner)
		}
		return out
	default:
		return v
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("surreal replica not initialized")
	}
	res, err := surrealdb.Query[any](ctx, s.db, pingQuery, nil)
	if err != nil {
		return err
	}
	return checkStatus(res, "ping")
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close(context.Background())
}

func (s *Store) vars(recordKey string, extra map[string]any) map[string]any {
	vars := map[string]any{
		"tb": s.table,
		"id": recordKey,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func checkStatus[T any](res *[]surrealdb.QueryResult[T], op string) error {
	if res == nil {
		return nil
	}
	for i, r := range *res {
		if r.Status != "" && r.Status != statusOK {
			return fmt.Errorf("%s statement %d returned status %s", op, i, r.Status)
		}
	}
	return nil
}
