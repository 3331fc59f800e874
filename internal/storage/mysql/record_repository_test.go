package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-sql-driver/mysql"

	"AgentOS-Bridge/internal/storage"
)

func TestFileRecordRepositoryAppendAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewFileRecordRepository(dir)
	if err != nil {
		t.Fatalf("failed to create file repo: %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"run-1", "run-2"} {
		if err := repo.AppendRun(ctx, storage.RunRecord{ID: id, Strategy: "react", Goal: "g", Status: "succeeded", Steps: 4}); err != nil {
			t.Fatalf("append run failed: %v", err)
		}
	}
	if err := repo.AppendRun(ctx, storage.RunRecord{ID: "run-1"}); !errors.Is(err, storage.ErrDuplicateRecord) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := repo.AppendRun(ctx, storage.RunRecord{}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if err := repo.AppendMatch(ctx, storage.MatchRecord{ID: "m-1", Family: "pattern", Winner: "Agent A", Margin: 50}); err != nil {
		t.Fatalf("append match failed: %v", err)
	}

	runs, err := repo.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("list runs failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-2" {
		t.Fatalf("records not sorted newest first: %+v", runs)
	}

	reopened, err := NewFileRecordRepository(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	runs, _ = reopened.ListRuns(ctx, 10)
	if len(runs) != 2 || runs[0].ID != "run-2" || runs[1].Steps != 4 {
		t.Fatalf("unexpected restored runs: %+v", runs)
	}
	matches, _ := reopened.ListMatches(ctx, 0)
	if len(matches) != 1 || matches[0].Winner != "Agent A" {
		t.Fatalf("unexpected restored matches: %+v", matches)
	}
	if err := reopened.AppendRun(ctx, storage.RunRecord{ID: "run-2"}); err == nil {
		t.Fatalf("expected duplicate error after reload")
	}
}

func TestSQLRecordRepositoryAppendRun(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(insertRunSQL, mockResult{rowsAffected: 1}),
		{typ: opExec, query: insertRunSQL, err: &mysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry"}},
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLRecordRepository{db: db}
	record := storage.RunRecord{ID: "r1", Strategy: "react", Goal: "g", Status: "failed", ErrorCode: "ENGINE_BUDGET_EXCEEDED", Trace: []byte(`{"status":"failed"}`)}
	if err := repo.AppendRun(context.Background(), record); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := repo.AppendRun(context.Background(), record); !errors.Is(err, storage.ErrDuplicateRecord) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestSQLRecordRepositoryAppendMatch(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(insertMatchSQL, mockResult{rowsAffected: 1}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLRecordRepository{db: db}
	if err := repo.AppendMatch(context.Background(), storage.MatchRecord{ID: "m1", Family: "pattern", Winner: "TIE"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
}

func TestSQLRecordRepositoryListRuns(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "strategy", "goal", "status", "answer", "error_code", "error_text", "steps", "trace", "created_at", "finished_at"},
		values: [][]driver.Value{
			{"r2", "single_pass", "g2", "succeeded", "16", "", "", int64(4), []byte(`{"status":"succeeded"}`), int64(20), int64(21)},
			{"r1", "react", "g1", "failed", "", "ENGINE_TOOL_FAILURE", "ENGINE_TOOL_FAILURE: tool failure", int64(5), nil, int64(10), int64(11)},
		},
	}
	db, driver := newMockDB(t, []mockOperation{queryOp(listRunsSQL, rows)})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLRecordRepository{db: db}
	list, err := repo.ListRuns(context.Background(), 2)
	if err != nil {
		t.Fatalf("list runs failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "r2" || list[0].Steps != 4 || string(list[0].Trace) != `{"status":"succeeded"}` {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[1].Trace != nil || list[1].ErrorCode != "ENGINE_TOOL_FAILURE" {
		t.Fatalf("unexpected second record: %+v", list[1])
	}
}

func TestSQLRecordRepositoryListMatches(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "family", "puzzle", "expected", "winner", "margin", "scorecard", "created_at"},
		values:  [][]driver.Value{{"m1", "pattern", "2, 4, 8, ?", "16", "Agent A", 200.0, []byte(`{}`), int64(30)}},
	}
	db, driver := newMockDB(t, []mockOperation{queryOp(listMatchesSQL, rows)})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLRecordRepository{db: db}
	list, err := repo.ListMatches(context.Background(), 0)
	if err != nil {
		t.Fatalf("list matches failed: %v", err)
	}
	if len(list) != 1 || list[0].Margin != 200 || list[0].Expected != "16" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations failed: %v", err)
	}
	if len(files) != 3 || files[0].version != "0001" || files[2].version != "0003" {
		t.Fatalf("unexpected migrations: %+v", files)
	}

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	for _, file := range files[1:] {
		ops = append(ops, beginOp())
		for _, stmt := range file.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops,
			execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestFailedMigrationRollsBack(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations failed: %v", err)
	}
	db, driver := newMockDB(t, []mockOperation{
		beginOp(),
		{typ: opExec, query: files[0].statements[0], err: fmt.Errorf("syntax error")},
		rollbackOp(),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := applyMigration(context.Background(), db, files[0]); err == nil || !strings.Contains(err.Error(), files[0].name) {
		t.Fatalf("expected migration error naming the file, got %v", err)
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}
