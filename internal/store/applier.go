package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"cdc-sink/internal/models"
)

// Result is the outcome of applying one record
type Result int

const (
	// Applied means the row was written or removed
	Applied Result = iota
	// NotFound means a delete targeted a row that does not exist
	NotFound
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case NotFound:
		return "not_found"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// ApplyError reports a failed upsert or delete statement
type ApplyError struct {
	Table     string
	Operation models.Operation
	Key       int64
	Err       error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("failed to apply %s to %s (id=%d): %v", e.Operation, e.Table, e.Key, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Apply performs the mutation for one record: an upsert for creates and
// updates, a delete-if-present for deletes.
func Apply(ctx context.Context, tx *Tx, op models.Operation, rec models.Record) (Result, error) {
	var (
		result Result
		err    error
	)
	switch op {
	case models.OperationCreate, models.OperationUpdate:
		result, err = Applied, tx.Upsert(ctx, rec)
	case models.OperationDelete:
		result, err = tx.Delete(ctx, rec.Table(), rec.Key())
	default:
		err = fmt.Errorf("unsupported operation %q", op)
	}
	if err != nil {
		return result, &ApplyError{Table: rec.Table(), Operation: op, Key: rec.Key(), Err: err}
	}
	return result, nil
}

// Upsert inserts the record or overwrites every mapped column of the row with
// the same primary key.
func (t *Tx) Upsert(ctx context.Context, rec models.Record) error {
	query, args, err := upsertSQL(t.dialect, t.driver, rec)
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return nil
}

// Delete removes the row with the given primary key, reporting NotFound when
// no such row exists.
func (t *Tx) Delete(ctx context.Context, table string, key int64) (Result, error) {
	query, args, err := deleteSQL(t.dialect, table, key)
	if err != nil {
		return NotFound, fmt.Errorf("failed to build delete: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return NotFound, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return NotFound, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return NotFound, nil
	}
	return Applied, nil
}

func upsertSQL(dialect goqu.DialectWrapper, driver string, rec models.Record) (string, []interface{}, error) {
	cols := rec.Columns()

	row := goqu.Record{models.KeyColumn: rec.Key()}
	updates := goqu.Record{}
	for _, name := range sortedKeys(cols) {
		row[name] = cols[name]
		updates[name] = excluded(driver, name)
	}

	return dialect.Insert(rec.Table()).
		Prepared(true).
		Rows(row).
		OnConflict(goqu.DoUpdate(models.KeyColumn, updates)).
		ToSQL()
}

func deleteSQL(dialect goqu.DialectWrapper, table string, key int64) (string, []interface{}, error) {
	return dialect.Delete(table).
		Prepared(true).
		Where(goqu.C(models.KeyColumn).Eq(key)).
		ToSQL()
}

// excluded references the incoming value of a column inside the conflict clause.
//
// MySQL uses VALUES(col). It is deprecated from 8.0.20 in favour of a row
// alias (INSERT ... AS new ... UPDATE col = new.col), which goqu cannot render
// and MariaDB does not accept. VALUES(col) still runs on every MySQL 5.7, 8.x
// and 9.x server with only a deprecation warning, so 5.7 is the minimum
// supported MySQL target and any MariaDB 10.3+ works.
func excluded(driver, column string) exp.LiteralExpression {
	if driver == DriverMySQL {
		return goqu.L(fmt.Sprintf("VALUES(`%s`)", column))
	}
	return goqu.L(fmt.Sprintf(`excluded."%s"`, column))
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
