// Package service implements the application operations on top of the
// storage layer: accounts, categories, the transaction ledger and the
// reporting queries the API exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"budgeit/internal/auth"
	"budgeit/internal/core"
)

// Store is the persistence surface the ledger needs.
type Store interface {
	CreateUserWithCategories(ctx context.Context, u core.User, cats []core.Category) (core.User, error)
	UserByID(ctx context.Context, id int64) (core.User, error)
	UserByUsername(ctx context.Context, username string) (core.User, error)
	UserByEmail(ctx context.Context, email string) (core.User, error)
	ListUsers(ctx context.Context) ([]core.User, error)
	UpdateUserPassword(ctx context.Context, userID int64, hash string) error
	DeleteUser(ctx context.Context, id int64) error

	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	CategoryByID(ctx context.Context, id, userID int64) (core.Category, error)
	ListCategories(ctx context.Context, userID int64, typ core.CategoryType) ([]core.Category, error)
	UpdateCategory(ctx context.Context, c core.Category) error
	DeleteCategory(ctx context.Context, id, userID int64) (int64, error)

	CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	TransactionByID(ctx context.Context, id, userID int64) (core.Transaction, error)
	ListTransactions(ctx context.Context, userID int64) ([]core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, id, userID int64) error
	CountTransactions(ctx context.Context, userID int64) (int64, error)
}

// EventPublisher notifies the export pipeline about ledger changes.
// Implementations must be safe for concurrent use.
type EventPublisher interface {
	TransactionRecorded(ctx context.Context, id int64) error
	TransactionVoided(ctx context.Context, v VoidedTransaction) error
}

// VoidedTransaction is the summary of a deleted row. It carries the full
// detail because the row is already gone when the event is consumed.
type VoidedTransaction struct {
	ID       int64             `json:"id"`
	Type     core.CategoryType `json:"type"`
	Amount   core.Money        `json:"amount"`
	ItemName string            `json:"item_name"`
	Date     core.Date         `json:"date"`
}

// TransactionView is a transaction joined with its category for display.
// Deleted categories show up under the synthetic uncategorized bucket.
type TransactionView struct {
	core.Transaction
	CategoryName  string `json:"category_name"`
	CategoryColor string `json:"category_color"`
}

// Dashboard is the at-a-glance account position.
type Dashboard struct {
	Totals           core.Totals `json:"totals"`
	Net              core.Money  `json:"net"`
	TransactionCount int64       `json:"transaction_count"`
	CategoryCount    int         `json:"category_count"`
}

// AccountStats describes the account itself rather than its money.
type AccountStats struct {
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	MemberSince      time.Time `json:"member_since"`
	TransactionCount int64     `json:"transaction_count"`
	CategoryCount    int       `json:"category_count"`
}

// AdminUsername is the account granted administrative access.
const AdminUsername = "admin"

// Categories provisioned for every new account.
var defaultCategories = []core.Category{
	{Name: "Salary", Type: core.Income, Color: "#28a745"},
	{Name: "Food", Type: core.Expense, Color: "#dc3545"},
	{Name: "Transportation", Type: core.Expense, Color: "#ffc107"},
	{Name: "Utilities", Type: core.Expense, Color: "#6c757d"},
	{Name: "Entertainment", Type: core.Expense, Color: "#17a2b8"},
}

const retryBackoff = 100 * time.Millisecond

// Ledger is the application service. All methods are user-scoped unless
// named otherwise; admin methods check nothing and rely on the caller.
type Ledger struct {
	store  Store
	events EventPublisher
	log    *slog.Logger
	now    func() time.Time
}

// NewLedger wires the service. events may be nil when no broker is
// configured; publishing becomes a no-op.
func NewLedger(store Store, events EventPublisher, log *slog.Logger) *Ledger {
	return &Ledger{store: store, events: events, log: log, now: time.Now}
}

// retry runs fn and repeats it once after a short backoff when it failed
// on the persistence layer. Anything else fails immediately.
func retry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || !errors.Is(err, core.ErrPersistence) {
		return v, err
	}
	select {
	case <-ctx.Done():
		return v, err
	case <-time.After(retryBackoff):
	}
	return fn()
}

func retryErr(ctx context.Context, fn func() error) error {
	_, err := retry(ctx, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Accounts

// Register creates an account and provisions its starter categories.
func (l *Ledger) Register(ctx context.Context, username, email, password string) (core.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return core.User{}, fmt.Errorf("register: %w: username, email and password are required", core.ErrEmptyName)
	}

	if _, err := l.store.UserByUsername(ctx, username); err == nil {
		return core.User{}, fmt.Errorf("register %q: %w", username, core.ErrDuplicateName)
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.User{}, err
	}
	if _, err := l.store.UserByEmail(ctx, email); err == nil {
		return core.User{}, fmt.Errorf("register email %q: %w", email, core.ErrDuplicateName)
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.User{}, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return core.User{}, err
	}

	// User and starter categories land in one storage transaction.
	user, err := retry(ctx, func() (core.User, error) {
		return l.store.CreateUserWithCategories(ctx,
			core.User{Username: username, Email: email, PasswordHash: hash},
			defaultCategories)
	})
	if err != nil {
		return core.User{}, err
	}

	l.log.InfoContext(ctx, "Registered user", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Authenticate verifies credentials. Wrong username and wrong password
// are indistinguishable to the caller.
func (l *Ledger) Authenticate(ctx context.Context, username, password string) (core.User, error) {
	user, err := l.store.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.User{}, core.ErrUnauthorized
		}
		return core.User{}, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return core.User{}, core.ErrUnauthorized
	}
	return user, nil
}

// IsAdmin reports whether the user holds the administrative account.
func IsAdmin(u core.User) bool {
	return u.Username == AdminUsername
}

func (l *Ledger) User(ctx context.Context, id int64) (core.User, error) {
	return l.store.UserByID(ctx, id)
}

// Categories

func (l *Ledger) CreateCategory(ctx context.Context, userID int64, name string, typ core.CategoryType, color string) (core.Category, error) {
	c := core.Category{UserID: userID, Name: strings.TrimSpace(name), Type: typ, Color: color}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	if err := l.checkDuplicateCategory(ctx, userID, c.Name, typ, 0); err != nil {
		return core.Category{}, err
	}
	return retry(ctx, func() (core.Category, error) {
		return l.store.CreateCategory(ctx, c)
	})
}

func (l *Ledger) Categories(ctx context.Context, userID int64, typ core.CategoryType) ([]core.Category, error) {
	if typ != "" && !typ.Valid() {
		return nil, fmt.Errorf("list categories: %w: %q", core.ErrInvalidType, typ)
	}
	return retry(ctx, func() ([]core.Category, error) {
		return l.store.ListCategories(ctx, userID, typ)
	})
}

func (l *Ledger) UpdateCategory(ctx context.Context, userID, id int64, name string, typ core.CategoryType, color string) (core.Category, error) {
	existing, err := l.store.CategoryByID(ctx, id, userID)
	if err != nil {
		return core.Category{}, err
	}
	existing.Name = strings.TrimSpace(name)
	existing.Type = typ
	existing.Color = color
	if err := existing.Validate(); err != nil {
		return core.Category{}, err
	}
	if err := l.checkDuplicateCategory(ctx, userID, existing.Name, typ, id); err != nil {
		return core.Category{}, err
	}
	if err := retryErr(ctx, func() error { return l.store.UpdateCategory(ctx, existing) }); err != nil {
		return core.Category{}, err
	}
	return existing, nil
}

// DeleteCategory removes a category along with every transaction under it
// and returns how many transactions were removed.
func (l *Ledger) DeleteCategory(ctx context.Context, userID, id int64) (int64, error) {
	swept, err := retry(ctx, func() (int64, error) {
		return l.store.DeleteCategory(ctx, id, userID)
	})
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		l.log.InfoContext(ctx, "Deleted category with transactions", "category_id", id, "user_id", userID, "transactions", swept)
	}
	return swept, nil
}

// checkDuplicateCategory enforces per-user, per-type name uniqueness,
// case-insensitively. excludeID skips the record being edited.
func (l *Ledger) checkDuplicateCategory(ctx context.Context, userID int64, name string, typ core.CategoryType, excludeID int64) error {
	cats, err := l.store.ListCategories(ctx, userID, typ)
	if err != nil {
		return err
	}
	for _, c := range cats {
		if c.ID != excludeID && strings.EqualFold(c.Name, name) {
			return fmt.Errorf("category %q (%s): %w", name, typ, core.ErrDuplicateName)
		}
	}
	return nil
}

// Transactions

// RecordTransaction validates and persists a new ledger entry. The
// category must belong to the user and agree with the entry's type.
func (l *Ledger) RecordTransaction(ctx context.Context, userID int64, t core.Transaction) (core.Transaction, error) {
	t.UserID = userID
	t.ItemName = strings.TrimSpace(t.ItemName)
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := l.checkCategoryMatch(ctx, userID, t.CategoryID, t.Type); err != nil {
		return core.Transaction{}, err
	}

	created, err := retry(ctx, func() (core.Transaction, error) {
		return l.store.CreateTransaction(ctx, t)
	})
	if err != nil {
		return core.Transaction{}, err
	}
	l.publishRecorded(ctx, created.ID)
	return created, nil
}

func (l *Ledger) Transaction(ctx context.Context, userID, id int64) (core.Transaction, error) {
	return l.store.TransactionByID(ctx, id, userID)
}

// Transactions lists the user's entries matching the filter, joined with
// category names and colors. A filter matching nothing yields an empty
// list.
func (l *Ledger) Transactions(ctx context.Context, userID int64, f core.Filter) ([]TransactionView, error) {
	txs, err := retry(ctx, func() ([]core.Transaction, error) {
		return l.store.ListTransactions(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	cats, err := l.categoryMap(ctx, userID)
	if err != nil {
		return nil, err
	}

	filtered := core.FilterTransactions(txs, f)
	views := make([]TransactionView, 0, len(filtered))
	for _, t := range filtered {
		name, color := core.UncategorizedName, core.UncategorizedColor
		if c, ok := cats[t.CategoryID]; ok {
			name, color = c.Name, c.Color
		}
		views = append(views, TransactionView{Transaction: t, CategoryName: name, CategoryColor: color})
	}
	return views, nil
}

func (l *Ledger) UpdateTransaction(ctx context.Context, userID int64, t core.Transaction) (core.Transaction, error) {
	existing, err := l.store.TransactionByID(ctx, t.ID, userID)
	if err != nil {
		return core.Transaction{}, err
	}
	existing.CategoryID = t.CategoryID
	existing.Amount = t.Amount
	existing.Type = t.Type
	existing.Date = t.Date
	existing.ItemName = strings.TrimSpace(t.ItemName)
	if err := existing.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := l.checkCategoryMatch(ctx, userID, existing.CategoryID, existing.Type); err != nil {
		return core.Transaction{}, err
	}
	if err := retryErr(ctx, func() error { return l.store.UpdateTransaction(ctx, existing) }); err != nil {
		return core.Transaction{}, err
	}
	l.publishRecorded(ctx, existing.ID)
	return existing, nil
}

// DeleteTransaction removes an entry and returns its summary so the
// caller can confirm what was undone.
func (l *Ledger) DeleteTransaction(ctx context.Context, userID, id int64) (VoidedTransaction, error) {
	t, err := l.store.TransactionByID(ctx, id, userID)
	if err != nil {
		return VoidedTransaction{}, err
	}
	if err := retryErr(ctx, func() error { return l.store.DeleteTransaction(ctx, id, userID) }); err != nil {
		return VoidedTransaction{}, err
	}
	voided := VoidedTransaction{ID: t.ID, Type: t.Type, Amount: t.Amount, ItemName: t.ItemName, Date: t.Date}
	l.publishVoided(ctx, voided)
	return voided, nil
}

// checkCategoryMatch confirms the category belongs to this user and that
// its type agrees with the transaction's. A category the user does not
// own counts as a mismatch, same as a type disagreement.
func (l *Ledger) checkCategoryMatch(ctx context.Context, userID, categoryID int64, typ core.CategoryType) error {
	cat, err := l.store.CategoryByID(ctx, categoryID, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("category %d is not yours: %w", categoryID, core.ErrCategoryMismatch)
		}
		return err
	}
	if cat.Type != typ {
		return fmt.Errorf("category %q is %s, transaction is %s: %w", cat.Name, cat.Type, typ, core.ErrCategoryMismatch)
	}
	return nil
}

// Reporting

// ResolveFilter turns report parameters into a concrete filter.
func (l *Ledger) ResolveFilter(period core.Period, start, end core.Date, typ core.CategoryType, categoryID int64) (core.Filter, error) {
	if !period.Valid() {
		return core.Filter{}, fmt.Errorf("unknown period %q", period)
	}
	r, err := period.Range(l.now(), start, end)
	if err != nil {
		return core.Filter{}, err
	}
	return core.Filter{Range: r, Type: typ, CategoryID: categoryID}, nil
}

// Summary aggregates the user's filtered transactions into chart points.
func (l *Ledger) Summary(ctx context.Context, userID int64, chart core.ChartType, mode core.SummaryMode, f core.Filter) ([]core.ChartPoint, error) {
	if !chart.Valid() {
		return nil, fmt.Errorf("unknown chart type %q", chart)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown summary mode %q", mode)
	}
	txs, err := retry(ctx, func() ([]core.Transaction, error) {
		return l.store.ListTransactions(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	cats, err := l.categoryMap(ctx, userID)
	if err != nil {
		return nil, err
	}
	return core.Summarize(core.FilterTransactions(txs, f), cats, chart, mode), nil
}

// TimeSeries builds the activity trend line for the current month or year.
func (l *Ledger) TimeSeries(ctx context.Context, userID int64, chart core.ChartType, period core.Period) (core.Series, error) {
	if !chart.Valid() {
		return core.Series{}, fmt.Errorf("unknown chart type %q", chart)
	}
	txs, err := retry(ctx, func() ([]core.Transaction, error) {
		return l.store.ListTransactions(ctx, userID)
	})
	if err != nil {
		return core.Series{}, err
	}
	return core.TimeSeries(txs, chart, period, l.now())
}

// Dashboard computes the all-time account position.
func (l *Ledger) Dashboard(ctx context.Context, userID int64) (Dashboard, error) {
	txs, err := retry(ctx, func() ([]core.Transaction, error) {
		return l.store.ListTransactions(ctx, userID)
	})
	if err != nil {
		return Dashboard{}, err
	}
	cats, err := l.store.ListCategories(ctx, userID, "")
	if err != nil {
		return Dashboard{}, err
	}
	totals := core.SumTotals(txs)
	return Dashboard{
		Totals:           totals,
		Net:              totals.Net(),
		TransactionCount: int64(len(txs)),
		CategoryCount:    len(cats),
	}, nil
}

// Stats summarizes the account itself.
func (l *Ledger) Stats(ctx context.Context, userID int64) (AccountStats, error) {
	user, err := l.store.UserByID(ctx, userID)
	if err != nil {
		return AccountStats{}, err
	}
	count, err := l.store.CountTransactions(ctx, userID)
	if err != nil {
		return AccountStats{}, err
	}
	cats, err := l.store.ListCategories(ctx, userID, "")
	if err != nil {
		return AccountStats{}, err
	}
	return AccountStats{
		Username:         user.Username,
		Email:            user.Email,
		MemberSince:      user.CreatedAt,
		TransactionCount: count,
		CategoryCount:    len(cats),
	}, nil
}

func (l *Ledger) categoryMap(ctx context.Context, userID int64) (map[int64]core.Category, error) {
	cats, err := l.store.ListCategories(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	m := make(map[int64]core.Category, len(cats))
	for _, c := range cats {
		m[c.ID] = c
	}
	return m, nil
}

// Administration

func (l *Ledger) Users(ctx context.Context) ([]core.User, error) {
	return retry(ctx, func() ([]core.User, error) { return l.store.ListUsers(ctx) })
}

// ResetPassword sets a new password for the named account.
func (l *Ledger) ResetPassword(ctx context.Context, username, password string) error {
	if password == "" {
		return fmt.Errorf("reset password: %w: password is required", core.ErrEmptyName)
	}
	user, err := l.store.UserByUsername(ctx, username)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := retryErr(ctx, func() error { return l.store.UpdateUserPassword(ctx, user.ID, hash) }); err != nil {
		return err
	}
	l.log.InfoContext(ctx, "Password reset", "user_id", user.ID, "username", username)
	return nil
}

// RemoveUser deletes an account and, through the schema's cascades, all
// of its data.
func (l *Ledger) RemoveUser(ctx context.Context, username string) error {
	if username == AdminUsername {
		return fmt.Errorf("remove user %q: %w", username, core.ErrForbidden)
	}
	user, err := l.store.UserByUsername(ctx, username)
	if err != nil {
		return err
	}
	return retryErr(ctx, func() error { return l.store.DeleteUser(ctx, user.ID) })
}

// Event publishing. The broker is optional; publish failures are logged
// and never returned to the caller.

func (l *Ledger) publishRecorded(ctx context.Context, id int64) {
	if l.events == nil {
		return
	}
	if err := l.events.TransactionRecorded(ctx, id); err != nil {
		l.log.WarnContext(ctx, "Failed to publish transaction event", "transaction_id", id, "error", err)
	}
}

func (l *Ledger) publishVoided(ctx context.Context, v VoidedTransaction) {
	if l.events == nil {
		return
	}
	if err := l.events.TransactionVoided(ctx, v); err != nil {
		l.log.WarnContext(ctx, "Failed to publish void event", "transaction_id", v.ID, "error", err)
	}
}
