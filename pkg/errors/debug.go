package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// DBError is the driver-neutral view of a postgres error.
type DBError struct {
	Code       string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

// DatabaseError extracts postgres diagnostics from err. Both pgx and lib/pq
// errors are recognised since gorm and goose use different drivers.
func DatabaseError(err error) (DBError, bool) {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return DBError{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return DBError{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return DBError{}, false
}

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	TopMessage string
	Code       Code
	Class      FailureClass
	Chain      []string
	DB         *DBError
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error(), Class: Classify(err)}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if dbErr, ok := DatabaseError(err); ok {
		d.DB = &dbErr
	}
	return d
}

// Fields returns the dump as log fields, leaving out empty database columns.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_class": d.Class,
		"error_chain": d.Chain,
	}
	if d.DB == nil {
		return fields
	}
	for key, value := range map[string]string{
		"pg_code":       d.DB.Code,
		"pg_constraint": d.DB.Constraint,
		"pg_table":      d.DB.Table,
		"pg_column":     d.DB.Column,
		"pg_detail":     d.DB.Detail,
		"pg_message":    d.DB.Message,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
