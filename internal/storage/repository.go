package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"budgeit/internal/core"
)

// Supported database drivers. The driver name doubles as the migration
// directory name under migrations/.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Export states for the ledger export pipeline.
const (
	ExportPending = "pending"
	ExportDone    = "done"
	ExportError   = "error"
)

// Store is a SQL-backed repository that speaks both Postgres and SQLite.
// Queries are written with ? placeholders and rebound for Postgres.
type Store struct {
	db     *sql.DB
	driver string
}

func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// q rewrites ? placeholders to $1..$N for Postgres.
func (s *Store) q(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// wrap tags driver failures so callers can distinguish "row missing" from
// "database broken" without knowing the driver.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, errors.Join(core.ErrPersistence, err))
}

// execer is the slice of database/sql shared by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertID runs an INSERT and returns the generated id. lib/pq has no
// LastInsertId, so Postgres goes through RETURNING.
func (s *Store) insertID(ctx context.Context, db execer, query string, args ...any) (int64, error) {
	if s.driver == DriverPostgres {
		var id int64
		err := db.QueryRowContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	return nil
}

// Users

// CreateUserWithCategories inserts a user and their starter categories in
// one transaction; a failure leaves no partial account behind.
func (s *Store) CreateUserWithCategories(ctx context.Context, u core.User, cats []core.Category) (core.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.User{}, wrap("create user", err)
	}
	defer tx.Rollback()

	userID, err := s.insertID(ctx, tx,
		`INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash)
	if err != nil {
		return core.User{}, wrap("create user", err)
	}
	for _, c := range cats {
		if _, err := s.insertID(ctx, tx,
			`INSERT INTO categories (user_id, name, category_type, color) VALUES (?, ?, ?, ?)`,
			userID, c.Name, c.Type, c.Color); err != nil {
			return core.User{}, wrap("create user categories", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return core.User{}, wrap("create user", err)
	}
	return s.UserByID(ctx, userID)
}

func (s *Store) UserByID(ctx context.Context, id int64) (core.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?`), id)
	return scanUser(row, "get user")
}

func (s *Store) UserByUsername(ctx context.Context, username string) (core.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?`), username)
	return scanUser(row, "get user by username")
}

func (s *Store) UserByEmail(ctx context.Context, email string) (core.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, username, email, password_hash, created_at FROM users WHERE email = ?`), email)
	return scanUser(row, "get user by email")
}

func (s *Store) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, wrap("list users", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows, "list users")
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, wrap("list users", rows.Err())
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID int64, hash string) error {
	return s.execOne(ctx, "update password",
		`UPDATE users SET password_hash = ? WHERE id = ?`, hash, userID)
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete user", `DELETE FROM users WHERE id = ?`, id)
}

// Categories

func (s *Store) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	id, err := s.insertID(ctx, s.db,
		`INSERT INTO categories (user_id, name, category_type, color) VALUES (?, ?, ?, ?)`,
		c.UserID, c.Name, c.Type, c.Color)
	if err != nil {
		return core.Category{}, wrap("create category", err)
	}
	return s.CategoryByID(ctx, id, c.UserID)
}

func (s *Store) CategoryByID(ctx context.Context, id, userID int64) (core.Category, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, user_id, name, category_type, color, created_at
		 FROM categories WHERE id = ? AND user_id = ?`), id, userID)
	return scanCategory(row, "get category")
}

// ListCategories returns the user's categories in creation order,
// optionally restricted to one type.
func (s *Store) ListCategories(ctx context.Context, userID int64, typ core.CategoryType) ([]core.Category, error) {
	query := `SELECT id, user_id, name, category_type, color, created_at
	          FROM categories WHERE user_id = ?`
	args := []any{userID}
	if typ != "" {
		query += ` AND category_type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, wrap("list categories", err)
	}
	defer rows.Close()

	var cats []core.Category
	for rows.Next() {
		c, err := scanCategory(rows, "list categories")
		if err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, wrap("list categories", rows.Err())
}

func (s *Store) UpdateCategory(ctx context.Context, c core.Category) error {
	return s.execOne(ctx, "update category",
		`UPDATE categories SET name = ?, category_type = ?, color = ? WHERE id = ? AND user_id = ?`,
		c.Name, c.Type, c.Color, c.ID, c.UserID)
}

// DeleteCategory removes a category and every transaction recorded under
// it, atomically. Returns the number of transactions swept away.
func (s *Store) DeleteCategory(ctx context.Context, id, userID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("delete category", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(
		`DELETE FROM transactions WHERE category_id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return 0, wrap("delete category transactions", err)
	}
	swept, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete category transactions", err)
	}

	res, err = tx.ExecContext(ctx, s.q(
		`DELETE FROM categories WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return 0, wrap("delete category", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete category", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("delete category: %w", core.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrap("delete category", err)
	}
	return swept, nil
}

// Transactions

func (s *Store) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	id, err := s.insertID(ctx, s.db,
		`INSERT INTO transactions (user_id, category_id, amount_cents, transaction_type, entry_date, item_name)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.UserID, t.CategoryID, t.Amount.Cents, t.Type, t.Date.String(), t.ItemName)
	if err != nil {
		return core.Transaction{}, wrap("create transaction", err)
	}
	return s.TransactionByID(ctx, id, t.UserID)
}

func (s *Store) TransactionByID(ctx context.Context, id, userID int64) (core.Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, user_id, category_id, amount_cents, transaction_type, entry_date, item_name, created_at
		 FROM transactions WHERE id = ? AND user_id = ?`), id, userID)
	return scanTransaction(row, "get transaction")
}

// TransactionByIDAny looks a transaction up without user scoping. Only the
// export worker uses it; request handlers must go through TransactionByID.
func (s *Store) TransactionByIDAny(ctx context.Context, id int64) (core.Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, user_id, category_id, amount_cents, transaction_type, entry_date, item_name, created_at
		 FROM transactions WHERE id = ?`), id)
	return scanTransaction(row, "get transaction")
}

// ListTransactions returns the user's full history, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID int64) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, category_id, amount_cents, transaction_type, entry_date, item_name, created_at
		 FROM transactions WHERE user_id = ? ORDER BY entry_date DESC, id DESC`), userID)
	if err != nil {
		return nil, wrap("list transactions", err)
	}
	defer rows.Close()
	return collectTransactions(rows, "list transactions")
}

func (s *Store) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	return s.execOne(ctx, "update transaction",
		`UPDATE transactions
		 SET category_id = ?, amount_cents = ?, transaction_type = ?, entry_date = ?, item_name = ?, export_state = ?
		 WHERE id = ? AND user_id = ?`,
		t.CategoryID, t.Amount.Cents, t.Type, t.Date.String(), t.ItemName, ExportPending, t.ID, t.UserID)
}

func (s *Store) DeleteTransaction(ctx context.Context, id, userID int64) error {
	return s.execOne(ctx, "delete transaction",
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
}

func (s *Store) CountTransactions(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*) FROM transactions WHERE user_id = ?`), userID).Scan(&n)
	if err != nil {
		return 0, wrap("count transactions", err)
	}
	return n, nil
}

// Export pipeline

func (s *Store) ListPendingExport(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, category_id, amount_cents, transaction_type, entry_date, item_name, created_at
		 FROM transactions WHERE export_state = ? ORDER BY id LIMIT ?`), ExportPending, limit)
	if err != nil {
		return nil, wrap("list pending export", err)
	}
	defer rows.Close()
	return collectTransactions(rows, "list pending export")
}

func (s *Store) MarkExported(ctx context.Context, id int64) error {
	return s.execOne(ctx, "mark exported",
		`UPDATE transactions SET export_state = ? WHERE id = ?`, ExportDone, id)
}

func (s *Store) MarkExportError(ctx context.Context, id int64) error {
	return s.execOne(ctx, "mark export error",
		`UPDATE transactions SET export_state = ? WHERE id = ?`, ExportError, id)
}

// Row scanning

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner, op string) (core.User, error) {
	var u core.User
	if err := r.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return core.User{}, wrap(op, err)
	}
	return u, nil
}

func scanCategory(r rowScanner, op string) (core.Category, error) {
	var c core.Category
	if err := r.Scan(&c.ID, &c.UserID, &c.Name, &c.Type, &c.Color, &c.CreatedAt); err != nil {
		return core.Category{}, wrap(op, err)
	}
	return c, nil
}

func scanTransaction(r rowScanner, op string) (core.Transaction, error) {
	var (
		t   core.Transaction
		day string
	)
	if err := r.Scan(&t.ID, &t.UserID, &t.CategoryID, &t.Amount.Cents, &t.Type, &day, &t.ItemName, &t.CreatedAt); err != nil {
		return core.Transaction{}, wrap(op, err)
	}
	d, err := core.ParseDate(day)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("%s: stored date %q: %w", op, day, err)
	}
	t.Date = d
	return t, nil
}

func collectTransactions(rows *sql.Rows, op string) ([]core.Transaction, error) {
	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows, op)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, wrap(op, rows.Err())
}
