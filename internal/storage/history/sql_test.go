package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	xerrors "MonadSwap-Engine/internal/errors"
)

func TestSQLLedgerSave(t *testing.T) {
	t.Parallel()

	db, script := newScriptDB(t, step{
		sql: `INSERT INTO swap_history (` + recordColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	})

	ledger := &SQLLedger{db: db, dialect: DialectMySQL}
	rec := Record{ID: "r-1", Wallet: walletA, Status: "success", FeeTier: 3000, BlockNumber: 42, CreatedAt: 1}
	if err := ledger.Save(context.Background(), rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if got := script.args(0); len(got) != 20 || got[0] != "r-1" || got[9] != int64(3000) {
		t.Fatalf("unexpected insert args: %v", got)
	}
}

func TestSQLLedgerRecentPostgres(t *testing.T) {
	t.Parallel()

	columns := strings.Split(strings.Join(strings.Fields(recordColumns), ""), ",")
	db, _ := newScriptDB(t, step{
		sql:     `SELECT ` + recordColumns + ` FROM swap_history WHERE LOWER(wallet) = LOWER($1) ORDER BY created_at DESC, id DESC LIMIT $2`,
		columns: columns,
		rows: [][]driver.Value{
			{"r-2", walletA, "0xa1", "sell", "10", "reverted", "reverted", "0xr", "universal", int64(3000),
				"0xbeef", "0xaaaa", int64(9), int64(21000), int64(350000), false, "REVERTED", "STF", int64(1200), int64(20)},
			{"r-1", walletA, "0xa1", "buy", "5", "success", "confirmed", "0xr", "universal", int64(500),
				"0xcafe", "", int64(8), int64(20000), int64(300000), true, "", nil, int64(900), int64(10)},
		},
	})

	ledger := &SQLLedger{db: db, dialect: DialectPostgres}
	list, err := ledger.Recent(context.Background(), Query{Wallet: walletA, Limit: 2})
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[0].ErrorMessage != "STF" || list[0].FeeTier != 3000 || list[0].BlockNumber != 9 {
		t.Fatalf("unexpected first record: %+v", list[0])
	}
	if !list[1].GasFallback || list[1].ErrorMessage != "" {
		t.Fatalf("unexpected second record: %+v", list[1])
	}
}

func TestSQLLedgerSurfacesDriverErrors(t *testing.T) {
	t.Parallel()

	db, _ := newScriptDB(t, step{err: errors.New("connection reset")})
	ledger := &SQLLedger{db: db, dialect: DialectMySQL}
	err := ledger.Save(context.Background(), Record{ID: "r-3", Wallet: walletA})
	if !xerrors.HasCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

// step 是脚本化驱动按顺序期望的一条语句，sql 为空时不比对语句。
type step struct {
	sql     string
	columns []string
	rows    [][]driver.Value
	err     error
}

// script 依次回放 steps，并记录每条语句收到的参数。
type script struct {
	mu    sync.Mutex
	steps []step
	calls [][]driver.Value
}

func newScriptDB(t *testing.T, steps ...step) (*sql.DB, *script) {
	t.Helper()
	s := &script{steps: steps}
	db := sql.OpenDB(s)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.steps) > 0 {
			t.Errorf("%d scripted statements were not executed", len(s.steps))
		}
	})
	return db, s
}

func (s *script) args(i int) []driver.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.calls) {
		return nil
	}
	return s.calls[i]
}

func (s *script) take(query string, named []driver.NamedValue) (step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return step{}, fmt.Errorf("unexpected statement: %s", oneLine(query))
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	if next.sql != "" && oneLine(next.sql) != oneLine(query) {
		return step{}, fmt.Errorf("statement mismatch\nwant %s\n got %s", oneLine(next.sql), oneLine(query))
	}
	values := make([]driver.Value, len(named))
	for i, nv := range named {
		values[i] = nv.Value
	}
	s.calls = append(s.calls, values)
	return next, next.err
}

func (s *script) Connect(context.Context) (driver.Conn, error) { return scriptConn{s}, nil }
func (s *script) Driver() driver.Driver                        { return scriptDriver{s} }

type scriptDriver struct{ s *script }

func (d scriptDriver) Open(string) (driver.Conn, error) { return scriptConn{d.s}, nil }

type scriptConn struct{ s *script }

func (c scriptConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}
func (c scriptConn) Close() error              { return nil }
func (c scriptConn) Begin() (driver.Tx, error) { return nil, errors.New("transactions not supported") }

func (c scriptConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if _, err := c.s.take(query, args); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

func (c scriptConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	st, err := c.s.take(query, args)
	if err != nil {
		return nil, err
	}
	return &scriptRows{columns: st.columns, rows: st.rows}, nil
}

type scriptRows struct {
	columns []string
	rows    [][]driver.Value
}

func (r *scriptRows) Columns() []string { return r.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		return io.EOF
	}
	copy(dest, r.rows[0])
	r.rows = r.rows[1:]
	return nil
}

func oneLine(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
