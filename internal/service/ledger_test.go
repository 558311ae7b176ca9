package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgeit/internal/auth"
	"budgeit/internal/core"
)

// fakeStore is an in-memory Store for exercising the service logic.
type fakeStore struct {
	users  map[int64]core.User
	cats   map[int64]core.Category
	txs    map[int64]core.Transaction
	nextID int64

	// failNext injects one persistence failure per matching op name.
	failNext map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[int64]core.User),
		cats:     make(map[int64]core.Category),
		txs:      make(map[int64]core.Transaction),
		failNext: make(map[string]int),
	}
}

func (f *fakeStore) fail(op string) error {
	if f.failNext[op] > 0 {
		f.failNext[op]--
		return fmt.Errorf("%s: %w", op, core.ErrPersistence)
	}
	return nil
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) CreateUserWithCategories(ctx context.Context, u core.User, cats []core.Category) (core.User, error) {
	if err := f.fail("CreateUserWithCategories"); err != nil {
		return core.User{}, err
	}
	u.ID = f.id()
	f.users[u.ID] = u
	for _, c := range cats {
		c.ID = f.id()
		c.UserID = u.ID
		f.cats[c.ID] = c
	}
	return u, nil
}

func (f *fakeStore) UserByID(ctx context.Context, id int64) (core.User, error) {
	u, ok := f.users[id]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) UserByUsername(ctx context.Context, username string) (core.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return core.User{}, core.ErrNotFound
}

func (f *fakeStore) UserByEmail(ctx context.Context, email string) (core.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return core.User{}, core.ErrNotFound
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]core.User, error) {
	out := make([]core.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID int64, hash string) error {
	u, ok := f.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	u.PasswordHash = hash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, id int64) error {
	if _, ok := f.users[id]; !ok {
		return core.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeStore) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if err := f.fail("CreateCategory"); err != nil {
		return core.Category{}, err
	}
	c.ID = f.id()
	f.cats[c.ID] = c
	return c, nil
}

func (f *fakeStore) CategoryByID(ctx context.Context, id, userID int64) (core.Category, error) {
	c, ok := f.cats[id]
	if !ok || c.UserID != userID {
		return core.Category{}, core.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListCategories(ctx context.Context, userID int64, typ core.CategoryType) ([]core.Category, error) {
	var out []core.Category
	for _, c := range f.cats {
		if c.UserID == userID && (typ == "" || c.Type == typ) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateCategory(ctx context.Context, c core.Category) error {
	existing, ok := f.cats[c.ID]
	if !ok || existing.UserID != c.UserID {
		return core.ErrNotFound
	}
	f.cats[c.ID] = c
	return nil
}

func (f *fakeStore) DeleteCategory(ctx context.Context, id, userID int64) (int64, error) {
	c, ok := f.cats[id]
	if !ok || c.UserID != userID {
		return 0, core.ErrNotFound
	}
	var swept int64
	for txID, t := range f.txs {
		if t.CategoryID == id && t.UserID == userID {
			delete(f.txs, txID)
			swept++
		}
	}
	delete(f.cats, id)
	return swept, nil
}

func (f *fakeStore) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := f.fail("CreateTransaction"); err != nil {
		return core.Transaction{}, err
	}
	t.ID = f.id()
	f.txs[t.ID] = t
	return t, nil
}

func (f *fakeStore) TransactionByID(ctx context.Context, id, userID int64) (core.Transaction, error) {
	t, ok := f.txs[id]
	if !ok || t.UserID != userID {
		return core.Transaction{}, core.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) ListTransactions(ctx context.Context, userID int64) ([]core.Transaction, error) {
	if err := f.fail("ListTransactions"); err != nil {
		return nil, err
	}
	var out []core.Transaction
	for _, t := range f.txs {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	existing, ok := f.txs[t.ID]
	if !ok || existing.UserID != t.UserID {
		return core.ErrNotFound
	}
	f.txs[t.ID] = t
	return nil
}

func (f *fakeStore) DeleteTransaction(ctx context.Context, id, userID int64) error {
	t, ok := f.txs[id]
	if !ok || t.UserID != userID {
		return core.ErrNotFound
	}
	delete(f.txs, id)
	return nil
}

func (f *fakeStore) CountTransactions(ctx context.Context, userID int64) (int64, error) {
	var n int64
	for _, t := range f.txs {
		if t.UserID == userID {
			n++
		}
	}
	return n, nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	recorded []int64
	voided   []VoidedTransaction
}

func (p *recordingPublisher) TransactionRecorded(ctx context.Context, id int64) error {
	p.recorded = append(p.recorded, id)
	return nil
}

func (p *recordingPublisher) TransactionVoided(ctx context.Context, v VoidedTransaction) error {
	p.voided = append(p.voided, v)
	return nil
}

func newTestLedger(t *testing.T) (*Ledger, *fakeStore, *recordingPublisher) {
	t.Helper()
	store := newFakeStore()
	events := &recordingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLedger(store, events, logger), store, events
}

func registerUser(t *testing.T, l *Ledger, username string) core.User {
	t.Helper()
	u, err := l.Register(context.Background(), username, username+"@example.com", "password1")
	require.NoError(t, err)
	return u
}

func TestRegisterProvisionsDefaultCategories(t *testing.T) {
	l, _, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	cats, err := l.Categories(context.Background(), u.ID, "")
	require.NoError(t, err)
	require.Len(t, cats, 5)

	names := make(map[string]core.CategoryType)
	for _, c := range cats {
		names[c.Name] = c.Type
	}
	assert.Equal(t, core.Income, names["Salary"])
	assert.Equal(t, core.Expense, names["Food"])
	assert.Equal(t, core.Expense, names["Transportation"])
	assert.Equal(t, core.Expense, names["Utilities"])
	assert.Equal(t, core.Expense, names["Entertainment"])
}

func TestRegisterDuplicateUsername(t *testing.T) {
	l, _, _ := newTestLedger(t)
	registerUser(t, l, "alice")

	_, err := l.Register(context.Background(), "alice", "other@example.com", "password2")
	assert.ErrorIs(t, err, core.ErrDuplicateName)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	l, store, _ := newTestLedger(t)
	registerUser(t, l, "alice")

	// A reused email is a validation failure, not a storage one, so it
	// must come back as a duplicate and never reach the store.
	_, err := l.Register(context.Background(), "bob", "alice@example.com", "password2")
	assert.ErrorIs(t, err, core.ErrDuplicateName)
	assert.NotErrorIs(t, err, core.ErrPersistence)
	assert.Len(t, store.users, 1)
}

func TestRegisterRetriesPersistenceFailureOnce(t *testing.T) {
	l, store, _ := newTestLedger(t)

	store.failNext["CreateUserWithCategories"] = 1
	_, err := l.Register(context.Background(), "alice", "alice@example.com", "password1")
	assert.NoError(t, err)

	store.failNext["CreateUserWithCategories"] = 2
	_, err = l.Register(context.Background(), "bob", "bob@example.com", "password1")
	assert.ErrorIs(t, err, core.ErrPersistence)
	assert.Len(t, store.users, 1)
}

func TestRegisterHashesPassword(t *testing.T) {
	l, store, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	stored := store.users[u.ID]
	assert.NotEqual(t, "password1", stored.PasswordHash)
	assert.True(t, auth.CheckPassword(stored.PasswordHash, "password1"))
}

func TestAuthenticate(t *testing.T) {
	l, _, _ := newTestLedger(t)
	registerUser(t, l, "alice")

	_, err := l.Authenticate(context.Background(), "alice", "password1")
	assert.NoError(t, err)

	_, err = l.Authenticate(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	_, err = l.Authenticate(context.Background(), "nobody", "password1")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestCreateCategoryDuplicateIsCaseInsensitive(t *testing.T) {
	l, _, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	_, err := l.CreateCategory(context.Background(), u.ID, "FOOD", core.Expense, "#112233")
	assert.ErrorIs(t, err, core.ErrDuplicateName)

	// Same name under the other type is a different namespace.
	_, err = l.CreateCategory(context.Background(), u.ID, "Food", core.Income, "#112233")
	assert.NoError(t, err)
}

func TestUpdateCategoryExcludesSelfFromDuplicateCheck(t *testing.T) {
	l, _, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	cats, err := l.Categories(context.Background(), u.ID, core.Expense)
	require.NoError(t, err)
	food := cats[0]

	// Recoloring without renaming must not trip the duplicate check.
	updated, err := l.UpdateCategory(context.Background(), u.ID, food.ID, food.Name, food.Type, "#000000")
	require.NoError(t, err)
	assert.Equal(t, "#000000", updated.Color)

	// Renaming onto a sibling does.
	_, err = l.UpdateCategory(context.Background(), u.ID, food.ID, "Utilities", core.Expense, "#000000")
	assert.ErrorIs(t, err, core.ErrDuplicateName)
}

func TestDeleteCategoryCascades(t *testing.T) {
	l, store, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	cats, _ := l.Categories(context.Background(), u.ID, core.Expense)
	food := cats[0]

	for i := 0; i < 3; i++ {
		_, err := l.RecordTransaction(context.Background(), u.ID, core.Transaction{
			CategoryID: food.ID,
			Amount:     core.Money{Cents: 1000},
			Type:       core.Expense,
			Date:       core.NewDate(2024, 1, 15),
			ItemName:   "Groceries",
		})
		require.NoError(t, err)
	}

	swept, err := l.DeleteCategory(context.Background(), u.ID, food.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), swept)

	for _, tx := range store.txs {
		assert.NotEqual(t, food.ID, tx.CategoryID)
	}
}

func TestRecordTransactionTypeMismatch(t *testing.T) {
	l, _, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	cats, _ := l.Categories(context.Background(), u.ID, core.Income)
	salary := cats[0]

	_, err := l.RecordTransaction(context.Background(), u.ID, core.Transaction{
		CategoryID: salary.ID,
		Amount:     core.Money{Cents: 1000},
		Type:       core.Expense,
		Date:       core.NewDate(2024, 1, 15),
		ItemName:   "Wrongly typed",
	})
	assert.ErrorIs(t, err, core.ErrCategoryMismatch)
}

func TestRecordTransactionForeignCategory(t *testing.T) {
	l, _, _ := newTestLedger(t)
	alice := registerUser(t, l, "alice")
	bob := registerUser(t, l, "bob")

	bobCats, _ := l.Categories(context.Background(), bob.ID, core.Expense)

	// Another user's category is an ownership mismatch even when its
	// type agrees with the entry.
	_, err := l.RecordTransaction(context.Background(), alice.ID, core.Transaction{
		CategoryID: bobCats[0].ID,
		Amount:     core.Money{Cents: 1000},
		Type:       core.Expense,
		Date:       core.NewDate(2024, 1, 15),
		ItemName:   "Sneaky",
	})
	assert.ErrorIs(t, err, core.ErrCategoryMismatch)
}

func TestUpdateTransactionMismatchLeavesRecordUnchanged(t *testing.T) {
	l, store, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	expenseCats, _ := l.Categories(context.Background(), u.ID, core.Expense)
	incomeCats, _ := l.Categories(context.Background(), u.ID, core.Income)

	created, err := l.RecordTransaction(context.Background(), u.ID, core.Transaction{
		CategoryID: expenseCats[0].ID,
		Amount:     core.Money{Cents: 4550},
		Type:       core.Expense,
		Date:       core.NewDate(2024, 1, 15),
		ItemName:   "Groceries",
	})
	require.NoError(t, err)

	update := created
	update.CategoryID = incomeCats[0].ID
	_, err = l.UpdateTransaction(context.Background(), u.ID, update)
	assert.ErrorIs(t, err, core.ErrCategoryMismatch)

	// The stored row must be untouched.
	assert.Equal(t, created, store.txs[created.ID])
}

func TestDeleteTransactionReturnsSummaryAndPublishes(t *testing.T) {
	l, _, events := newTestLedger(t)
	u := registerUser(t, l, "alice")

	cats, _ := l.Categories(context.Background(), u.ID, core.Expense)
	created, err := l.RecordTransaction(context.Background(), u.ID, core.Transaction{
		CategoryID: cats[0].ID,
		Amount:     core.Money{Cents: 4550},
		Type:       core.Expense,
		Date:       core.NewDate(2024, 1, 15),
		ItemName:   "Groceries",
	})
	require.NoError(t, err)
	require.Equal(t, []int64{created.ID}, events.recorded)

	voided, err := l.DeleteTransaction(context.Background(), u.ID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, voided.ID)
	assert.Equal(t, core.Expense, voided.Type)
	assert.Equal(t, int64(4550), voided.Amount.Cents)
	assert.Equal(t, "Groceries", voided.ItemName)

	require.Len(t, events.voided, 1)
	assert.Equal(t, voided, events.voided[0])

	_, err = l.Transaction(context.Background(), u.ID, created.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTransactionsFilterEnrichment(t *testing.T) {
	l, _, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	cats, _ := l.Categories(context.Background(), u.ID, core.Expense)
	food := cats[0]
	_, err := l.RecordTransaction(context.Background(), u.ID, core.Transaction{
		CategoryID: food.ID,
		Amount:     core.Money{Cents: 4550},
		Type:       core.Expense,
		Date:       core.NewDate(2024, 1, 15),
		ItemName:   "Groceries",
	})
	require.NoError(t, err)

	views, err := l.Transactions(context.Background(), u.ID, core.Filter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, food.Name, views[0].CategoryName)
	assert.Equal(t, food.Color, views[0].CategoryColor)

	// A filter matching nothing yields an empty list.
	empty, err := l.Transactions(context.Background(), u.ID, core.Filter{
		Range: core.DateRange{Start: core.NewDate(2030, 1, 1), End: core.NewDate(2030, 1, 2)},
	})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRetryRecoversFromOnePersistenceFailure(t *testing.T) {
	l, store, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	store.failNext["ListTransactions"] = 1
	_, err := l.Transactions(context.Background(), u.ID, core.Filter{})
	assert.NoError(t, err)

	store.failNext["ListTransactions"] = 2
	_, err = l.Transactions(context.Background(), u.ID, core.Filter{})
	assert.ErrorIs(t, err, core.ErrPersistence)
}

func TestDashboard(t *testing.T) {
	l, _, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	income, _ := l.Categories(context.Background(), u.ID, core.Income)
	expense, _ := l.Categories(context.Background(), u.ID, core.Expense)

	_, err := l.RecordTransaction(context.Background(), u.ID, core.Transaction{
		CategoryID: income[0].ID, Amount: core.Money{Cents: 300000},
		Type: core.Income, Date: core.NewDate(2024, 1, 15), ItemName: "Paycheck",
	})
	require.NoError(t, err)
	_, err = l.RecordTransaction(context.Background(), u.ID, core.Transaction{
		CategoryID: expense[0].ID, Amount: core.Money{Cents: 5750},
		Type: core.Expense, Date: core.NewDate(2024, 1, 18), ItemName: "Groceries",
	})
	require.NoError(t, err)

	dash, err := l.Dashboard(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300000), dash.Totals.Income.Cents)
	assert.Equal(t, int64(5750), dash.Totals.Expense.Cents)
	assert.Equal(t, int64(294250), dash.Net.Cents)
	assert.Equal(t, int64(2), dash.TransactionCount)
	assert.Equal(t, 5, dash.CategoryCount)
}

func TestRemoveUserRefusesAdmin(t *testing.T) {
	l, _, _ := newTestLedger(t)
	registerUser(t, l, AdminUsername)

	err := l.RemoveUser(context.Background(), AdminUsername)
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestIsAdmin(t *testing.T) {
	assert.True(t, IsAdmin(core.User{Username: "admin"}))
	assert.False(t, IsAdmin(core.User{Username: "Admin"}))
	assert.False(t, IsAdmin(core.User{Username: "alice"}))
}

func TestResetPassword(t *testing.T) {
	l, _, _ := newTestLedger(t)
	registerUser(t, l, "alice")

	require.NoError(t, l.ResetPassword(context.Background(), "alice", "newpassword"))

	_, err := l.Authenticate(context.Background(), "alice", "newpassword")
	assert.NoError(t, err)
	_, err = l.Authenticate(context.Background(), "alice", "password1")
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	err = l.ResetPassword(context.Background(), "ghost", "whatever")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCreateCategoryValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	u := registerUser(t, l, "alice")

	_, err := l.CreateCategory(context.Background(), u.ID, "", core.Expense, "#112233")
	assert.ErrorIs(t, err, core.ErrEmptyName)

	_, err = l.CreateCategory(context.Background(), u.ID, "Books", "transfer", "#112233")
	assert.ErrorIs(t, err, core.ErrInvalidType)

	_, err = l.CreateCategory(context.Background(), u.ID, "Books", core.Expense, "blue")
	assert.ErrorIs(t, err, core.ErrInvalidColor)

	_, err = l.CreateCategory(context.Background(), u.ID, strings.Repeat("x", 101), core.Expense, "#112233")
	assert.Error(t, err)
}
