package backend

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/lib/pq"
)

// Column is one column of a Postgres table.
type Column struct {
	Name string
	Type string
}

// TableSchema declares a logical table for drivers with a fixed schema.
type TableSchema struct {
	Name    string
	Key     string
	Columns []Column
}

func (t TableSchema) has(col string) bool {
	for _, c := range t.Columns {
		if c.Name == col {
			return true
		}
	}
	return false
}

func (t TableSchema) columnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

func (t TableSchema) createStatement() string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def := pq.QuoteIdentifier(c.Name) + " " + c.Type
		if c.Name == t.Key {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", pq.QuoteIdentifier(t.Name), strings.Join(defs, ",\n\t"))
}

// SQLSession is satisfied by *sql.DB and by a dedicated *sql.Conn.
type SQLSession interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
}

var (
	_ SQLSession = (*sql.DB)(nil)
	_ SQLSession = (*sql.Conn)(nil)
)

// OpenPostgres opens and pings a lib/pq database handle.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates every table that does not exist yet.
func Migrate(ctx context.Context, sess SQLSession, schemas []TableSchema) error {
	for _, t := range schemas {
		if _, err := sess.ExecContext(ctx, t.createStatement()); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// PostgresStore is a Backend over one SQL session.
type PostgresStore struct {
	mu      sync.Mutex
	sess    SQLSession
	reopen  func(ctx context.Context) (SQLSession, error)
	schemas map[string]TableSchema
}

var _ Backend = (*PostgresStore)(nil)

func NewPostgresStore(sess SQLSession, schemas []TableSchema) *PostgresStore {
	m := make(map[string]TableSchema, len(schemas))
	for _, t := range schemas {
		m[t.Name] = t
	}
	return &PostgresStore{sess: sess, schemas: m}
}

// WithReopen lets the store replace a dead session (a *sql.Conn closed after
// driver.ErrBadConn) with a fresh one from open.
func (s *PostgresStore) WithReopen(open func(ctx context.Context) (SQLSession, error)) *PostgresStore {
	s.reopen = open
	return s
}

func (s *PostgresStore) session() SQLSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// do runs fn on the current session. When the session is dead and a reopen
// func is set, the session is replaced and fn runs once more; neither error
// means the statement reached the server.
func (s *PostgresStore) do(ctx context.Context, fn func(SQLSession) error) error {
	cur := s.session()
	err := fn(cur)
	if err == nil || s.reopen == nil || !isDeadSession(err) {
		return err
	}

	s.mu.Lock()
	if s.sess == cur {
		fresh, rerr := s.reopen(ctx)
		if rerr != nil {
			s.mu.Unlock()
			return fmt.Errorf("reopen session: %v: %w", rerr, err)
		}
		if c, ok := cur.(io.Closer); ok {
			_ = c.Close()
		}
		s.sess = fresh
	}
	sess := s.sess
	s.mu.Unlock()
	return fn(sess)
}

// Close closes the current session when it owns a connection.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.sess.(*sql.Conn); ok {
		err := c.Close()
		if errors.Is(err, sql.ErrConnDone) {
			return nil
		}
		return err
	}
	return nil
}

func isDeadSession(err error) bool {
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

func (s *PostgresStore) schema(table string) (TableSchema, error) {
	t, ok := s.schemas[table]
	if !ok {
		return TableSchema{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return t, nil
}

func (s *PostgresStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	t, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	query, err := insertSQL(t, row)
	if err != nil {
		return nil, err
	}
	err = s.do(ctx, func(sess SQLSession) error {
		_, err := sess.ExecContext(ctx, query, rowArgs(t, row)...)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return row.Clone(), nil
}

// InsertMany writes all rows in one transaction.
func (s *PostgresStore) InsertMany(ctx context.Context, table string, rows []Row) (err error) {
	t, err := s.schema(table)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	query, err := insertSQL(t, rows[0])
	if err != nil {
		return err
	}

	var tx *sql.Tx
	err = s.do(ctx, func(sess SQLSession) error {
		var err error
		tx, err = sess.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		for col := range r {
			if !t.has(col) {
				return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, col)
			}
		}
		if _, err = stmt.ExecContext(ctx, rowArgs(t, r)...); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	t, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	query, args, err := selectSQL(t, q)
	if err != nil {
		return nil, err
	}
	var rows *sql.Rows
	err = s.do(ctx, func(sess SQLSession) error {
		var err error
		rows, err = sess.QueryContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	cols := t.columnNames()
	out := make([]Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				r[c] = string(b)
				continue
			}
			r[c] = vals[i]
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows %s: %w", table, err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, table string, filters map[string]any, changes Row) (int, error) {
	t, err := s.schema(table)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}
	query, args, err := updateSQL(t, filters, changes)
	if err != nil {
		return 0, err
	}
	var res sql.Result
	err = s.do(ctx, func(sess SQLSession) error {
		var err error
		res, err = sess.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) Delete(ctx context.Context, table string, filters map[string]any) (int, error) {
	t, err := s.schema(table)
	if err != nil {
		return 0, err
	}
	where, args, err := whereSQL(t, filters, 1)
	if err != nil {
		return 0, err
	}
	var res sql.Result
	err = s.do(ctx, func(sess SQLSession) error {
		var err error
		res, err = sess.ExecContext(ctx, "DELETE FROM "+pq.QuoteIdentifier(t.Name)+where, args...)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.do(ctx, func(sess SQLSession) error {
		return sess.PingContext(ctx)
	})
}

func insertSQL(t TableSchema, row Row) (string, error) {
	for col := range row {
		if !t.has(col) {
			return "", fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, col)
		}
	}
	cols := make([]string, len(t.Columns))
	params := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = pq.QuoteIdentifier(c.Name)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(t.Name), strings.Join(cols, ","), strings.Join(params, ",")), nil
}

func rowArgs(t TableSchema, row Row) []any {
	args := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		args[i] = row[c.Name]
	}
	return args
}

func selectSQL(t TableSchema, q Query) (string, []any, error) {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = pq.QuoteIdentifier(c.Name)
	}
	where, args, err := whereSQL(t, q.Filters, 1)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", strings.Join(cols, ","), pq.QuoteIdentifier(t.Name), where)
	if q.OrderBy != "" {
		if !t.has(q.OrderBy) {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, q.OrderBy)
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", pq.QuoteIdentifier(q.OrderBy), dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

func updateSQL(t TableSchema, filters map[string]any, changes Row) (string, []any, error) {
	cols := sortedKeys(changes)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+len(filters))
	for i, c := range cols {
		if !t.has(c) {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, c)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), i+1))
		args = append(args, changes[c])
	}
	where, wargs, err := whereSQL(t, filters, len(cols)+1)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("UPDATE %s SET %s%s", pq.QuoteIdentifier(t.Name), strings.Join(sets, ", "), where), append(args, wargs...), nil
}

// whereSQL renders equality filters with placeholders starting at $first.
func whereSQL(t TableSchema, filters map[string]any, first int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	cols := sortedKeys(filters)
	parts := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		if !t.has(c) {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, c)
		}
		parts = append(parts, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), first+i))
		args = append(args, filters[c])
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
