package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type stepKind int

const (
	stepExec stepKind = iota
	stepQuery
	stepBegin
	stepCommit
	stepRollback
)

func (k stepKind) String() string {
	return [...]string{"exec", "query", "begin", "commit", "rollback"}[k]
}

// step is one expected driver call. Calls must arrive in order.
type step struct {
	kind     stepKind
	query    string
	affected int64
	columns  []string
	rows     [][]driver.Value
	err      error
}

func expectExec(query string, affected int64) step {
	return step{kind: stepExec, query: query, affected: affected}
}

func expectExecErr(query string, err error) step {
	return step{kind: stepExec, query: query, err: err}
}

func expectQuery(query string, columns []string, rows ...[]driver.Value) step {
	return step{kind: stepQuery, query: query, columns: columns, rows: rows}
}

func expectBegin() step    { return step{kind: stepBegin} }
func expectCommit() step   { return step{kind: stepCommit} }
func expectRollback() step { return step{kind: stepRollback} }

type scriptDriver struct {
	mu    sync.Mutex
	steps []step
	pos   int
	args  [][]driver.NamedValue
}

var scriptSeq atomic.Int32

func newScriptedStore(t *testing.T, dialect Dialect, steps ...step) (*Store, *scriptDriver) {
	t.Helper()

	drv := &scriptDriver{steps: steps}
	name := fmt.Sprintf("scripted-sql-%d", scriptSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() {
		db.Close()
		drv.assertDone(t)
	})
	return newStore(db, dialect), drv
}

func (d *scriptDriver) assertDone(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos != len(d.steps) {
		t.Errorf("driver calls consumed %d/%d", d.pos, len(d.steps))
	}
}

// argsAt returns the arguments captured for the n-th exec or query.
func (d *scriptDriver) argsAt(n int) []driver.NamedValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n >= len(d.args) {
		return nil
	}
	return d.args[n]
}

func (d *scriptDriver) advance(kind stepKind, query string, args []driver.NamedValue) (step, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.steps) {
		return step{}, fmt.Errorf("unexpected %s: %s", kind, query)
	}
	next := d.steps[d.pos]
	if next.kind != kind {
		return step{}, fmt.Errorf("expected %s, got %s", next.kind, kind)
	}
	d.pos++
	if kind == stepExec || kind == stepQuery {
		d.args = append(d.args, args)
	}
	if next.query != "" && squash(next.query) != squash(query) {
		return step{}, fmt.Errorf("unexpected query.\nwant %q\ngot  %q", squash(next.query), squash(query))
	}
	return next, nil
}

func (d *scriptDriver) Open(string) (driver.Conn, error) {
	return &scriptConn{driver: d}, nil
}

type scriptConn struct {
	driver *scriptDriver
}

func (c *scriptConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *scriptConn) Close() error { return nil }

func (c *scriptConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	next, err := c.driver.advance(stepBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if next.err != nil {
		return nil, next.err
	}
	return &scriptTx{driver: c.driver}, nil
}

func (c *scriptConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	next, err := c.driver.advance(stepExec, query, args)
	if err != nil {
		return nil, err
	}
	if next.err != nil {
		return nil, next.err
	}
	return driver.RowsAffected(next.affected), nil
}

func (c *scriptConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	next, err := c.driver.advance(stepQuery, query, args)
	if err != nil {
		return nil, err
	}
	if next.err != nil {
		return nil, next.err
	}
	return &scriptRows{columns: next.columns, values: next.rows}, nil
}

func (c *scriptConn) Ping(context.Context) error { return nil }

type scriptTx struct {
	driver *scriptDriver
}

func (t *scriptTx) Commit() error {
	next, err := t.driver.advance(stepCommit, "", nil)
	if err != nil {
		return err
	}
	return next.err
}

func (t *scriptTx) Rollback() error {
	next, err := t.driver.advance(stepRollback, "", nil)
	if err != nil {
		return err
	}
	return next.err
}

type scriptRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *scriptRows) Columns() []string { return r.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func squash(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
