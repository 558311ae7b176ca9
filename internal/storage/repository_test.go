package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgeit/internal/core"
)

func openTestStore(t *testing.T) *Handle {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := Open(context.Background(), logger, Options{
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func seedUser(t *testing.T, h *Handle, username string) core.User {
	t.Helper()
	u, err := h.CreateUserWithCategories(context.Background(), core.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
	}, nil)
	require.NoError(t, err)
	return u
}

func seedCategory(t *testing.T, h *Handle, userID int64, name string, typ core.CategoryType) core.Category {
	t.Helper()
	c, err := h.CreateCategory(context.Background(), core.Category{
		UserID: userID, Name: name, Type: typ, Color: "#112233",
	})
	require.NoError(t, err)
	return c
}

func seedTransaction(t *testing.T, h *Handle, userID, catID int64, cents int64, typ core.CategoryType, date core.Date) core.Transaction {
	t.Helper()
	tx, err := h.CreateTransaction(context.Background(), core.Transaction{
		UserID:     userID,
		CategoryID: catID,
		Amount:     core.Money{Cents: cents},
		Type:       typ,
		Date:       date,
		ItemName:   "seed",
	})
	require.NoError(t, err)
	return tx
}

func TestOpenFallsBackToSQLite(t *testing.T) {
	h := openTestStore(t)
	assert.Equal(t, DriverSQLite, h.Backend)

	backend, latency, err := h.Status(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, DriverSQLite, backend)
	assert.GreaterOrEqual(t, latency.Nanoseconds(), int64(0))
}

func TestUserRoundTrip(t *testing.T) {
	h := openTestStore(t)
	ctx := context.Background()

	u := seedUser(t, h, "alice")
	assert.NotZero(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	byName, err := h.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	_, err = h.UserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)

	byEmail, err := h.UserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = h.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, h.UpdateUserPassword(ctx, u.ID, "y"))
	reloaded, err := h.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "y", reloaded.PasswordHash)

	require.NoError(t, h.DeleteUser(ctx, u.ID))
	_, err = h.UserByID(ctx, u.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCreateUserWithCategoriesIsAtomic(t *testing.T) {
	h := openTestStore(t)
	ctx := context.Background()

	u, err := h.CreateUserWithCategories(ctx, core.User{
		Username: "alice", Email: "alice@example.com", PasswordHash: "x",
	}, []core.Category{
		{Name: "Salary", Type: core.Income, Color: "#28a745"},
		{Name: "Food", Type: core.Expense, Color: "#dc3545"},
	})
	require.NoError(t, err)

	cats, err := h.ListCategories(ctx, u.ID, "")
	require.NoError(t, err)
	assert.Len(t, cats, 2)

	// A category the schema rejects rolls the whole account back.
	_, err = h.CreateUserWithCategories(ctx, core.User{
		Username: "bob", Email: "bob@example.com", PasswordHash: "x",
	}, []core.Category{
		{Name: "Broken", Type: "transfer", Color: "#000000"},
	})
	require.Error(t, err)
	_, err = h.UserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestOpenCreatesSQLiteDirectory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := Open(context.Background(), logger, Options{
		SQLitePath: filepath.Join(t.TempDir(), "nested", "data", "test.db"),
	})
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, DriverSQLite, h.Backend)
}

func TestCategoryScoping(t *testing.T) {
	h := openTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, h, "alice")
	bob := seedUser(t, h, "bob")

	food := seedCategory(t, h, alice.ID, "Food", core.Expense)
	seedCategory(t, h, alice.ID, "Salary", core.Income)
	seedCategory(t, h, bob.ID, "Rent", core.Expense)

	// Another user's id never resolves.
	_, err := h.CategoryByID(ctx, food.ID, bob.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	all, err := h.ListCategories(ctx, alice.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	expenses, err := h.ListCategories(ctx, alice.ID, core.Expense)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, "Food", expenses[0].Name)

	food.Color = "#ff0000"
	require.NoError(t, h.UpdateCategory(ctx, food))
	reloaded, err := h.CategoryByID(ctx, food.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", reloaded.Color)

	// Scoped update of a foreign row affects nothing.
	foreign := food
	foreign.UserID = bob.ID
	assert.ErrorIs(t, h.UpdateCategory(ctx, foreign), core.ErrNotFound)
}

func TestTransactionRoundTripAndOrder(t *testing.T) {
	h := openTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, h, "alice")
	food := seedCategory(t, h, alice.ID, "Food", core.Expense)

	older := seedTransaction(t, h, alice.ID, food.ID, 1000, core.Expense, core.NewDate(2024, 1, 10))
	newer := seedTransaction(t, h, alice.ID, food.ID, 2000, core.Expense, core.NewDate(2024, 1, 15))
	sameDay := seedTransaction(t, h, alice.ID, food.ID, 3000, core.Expense, core.NewDate(2024, 1, 15))

	txs, err := h.ListTransactions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	// Newest date first, then newest id.
	assert.Equal(t, sameDay.ID, txs[0].ID)
	assert.Equal(t, newer.ID, txs[1].ID)
	assert.Equal(t, older.ID, txs[2].ID)

	got, err := h.TransactionByID(ctx, older.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Amount.Cents)
	assert.Equal(t, "2024-01-10", got.Date.String())

	got.Amount.Cents = 1500
	got.ItemName = "updated"
	require.NoError(t, h.UpdateTransaction(ctx, got))
	reloaded, err := h.TransactionByID(ctx, older.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), reloaded.Amount.Cents)
	assert.Equal(t, "updated", reloaded.ItemName)

	require.NoError(t, h.DeleteTransaction(ctx, older.ID, alice.ID))
	_, err = h.TransactionByID(ctx, older.ID, alice.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	count, err := h.CountTransactions(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestTransactionScoping(t *testing.T) {
	h := openTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, h, "alice")
	bob := seedUser(t, h, "bob")
	food := seedCategory(t, h, alice.ID, "Food", core.Expense)
	tx := seedTransaction(t, h, alice.ID, food.ID, 1000, core.Expense, core.NewDate(2024, 1, 10))

	_, err := h.TransactionByID(ctx, tx.ID, bob.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.ErrorIs(t, h.DeleteTransaction(ctx, tx.ID, bob.ID), core.ErrNotFound)

	// The unscoped lookup is for the export worker.
	got, err := h.TransactionByIDAny(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.UserID)
}

func TestDeleteCategorySweepsTransactions(t *testing.T) {
	h := openTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, h, "alice")
	food := seedCategory(t, h, alice.ID, "Food", core.Expense)
	rent := seedCategory(t, h, alice.ID, "Rent", core.Expense)

	seedTransaction(t, h, alice.ID, food.ID, 1000, core.Expense, core.NewDate(2024, 1, 10))
	seedTransaction(t, h, alice.ID, food.ID, 2000, core.Expense, core.NewDate(2024, 1, 11))
	keeper := seedTransaction(t, h, alice.ID, rent.ID, 9000, core.Expense, core.NewDate(2024, 1, 12))

	swept, err := h.DeleteCategory(ctx, food.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), swept)

	txs, err := h.ListTransactions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, keeper.ID, txs[0].ID)

	_, err = h.CategoryByID(ctx, food.ID, alice.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = h.DeleteCategory(ctx, food.ID, alice.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestExportPipeline(t *testing.T) {
	h := openTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, h, "alice")
	food := seedCategory(t, h, alice.ID, "Food", core.Expense)
	first := seedTransaction(t, h, alice.ID, food.ID, 1000, core.Expense, core.NewDate(2024, 1, 10))
	second := seedTransaction(t, h, alice.ID, food.ID, 2000, core.Expense, core.NewDate(2024, 1, 11))

	pending, err := h.ListPendingExport(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, h.MarkExported(ctx, first.ID))
	pending, err = h.ListPendingExport(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	// Editing a row re-queues it for export.
	tx, err := h.TransactionByID(ctx, first.ID, alice.ID)
	require.NoError(t, err)
	tx.Amount.Cents = 1100
	require.NoError(t, h.UpdateTransaction(ctx, tx))
	pending, err = h.ListPendingExport(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, h.MarkExportError(ctx, second.ID))
	pending, err = h.ListPendingExport(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	// Limit caps the batch.
	require.NoError(t, h.MarkExported(ctx, first.ID))
	seedTransaction(t, h, alice.ID, food.ID, 500, core.Expense, core.NewDate(2024, 1, 12))
	seedTransaction(t, h, alice.ID, food.ID, 600, core.Expense, core.NewDate(2024, 1, 13))
	pending, err = h.ListPendingExport(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t,
		`SELECT id FROM users WHERE username = $1 AND email = $2`,
		pg.q(`SELECT id FROM users WHERE username = ? AND email = ?`))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t,
		`SELECT id FROM users WHERE username = ?`,
		lite.q(`SELECT id FROM users WHERE username = ?`))
}
