/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

PURPOSE:
  Persists the roster (households, residents, vehicles), fee policies,
  payments and the history of generation runs.

INTERFACES IMPLEMENTED:
  billing.Store:       roster reads, policy reads, payment queries and writes
  billing.ReportSink:  RecordGenerationRun via Record()

UNIQUENESS:
  idx_payments_unique_period enforces one payment per (household, fee,
  period) for period-tagged rows. A violation surfaces as
  *billing.StoreConflictError (errors.Is ErrDuplicatePayment). Legacy rows
  with a NULL period are not constrained.

ENCODING:
  Money, rates and areas are TEXT decimals (no float rounding).
  Timestamps are UTC in a fixed-width layout, so lexical comparison in SQL
  equals chronological comparison.

SCHEMA:
  Versioned migrations under migrations/, embedded and applied with
  golang-migrate on New().

USAGE:
  store, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := billing.NewEngine(store, registry)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
)

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Store implements billing.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ billing.Store      = (*Store)(nil)
	_ billing.ReportSink = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// HOUSEHOLDS
// =============================================================================

// SaveHousehold inserts or replaces a household.
func (s *Store) SaveHousehold(ctx context.Context, h billing.Household) error {
	if err := h.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var area sql.NullString
	if h.Area.Valid {
		area = sql.NullString{String: h.Area.Decimal.String(), Valid: true}
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO households (id, code, owner, area, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			owner = excluded.owner,
			area = excluded.area,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, h.ID, h.Code, h.Owner, area, h.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to save household: %w", err)
	}
	return nil
}

func (s *Store) FindActiveHouseholds(ctx context.Context) ([]billing.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, owner, area, active FROM households
		WHERE active = TRUE
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query households: %w", err)
	}
	defer rows.Close()

	var households []billing.Household
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, err
		}
		households = append(households, h)
	}
	return households, rows.Err()
}

// ListHouseholds returns every household, active or not, ordered by id.
func (s *Store) ListHouseholds(ctx context.Context) ([]billing.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, code, owner, area, active FROM households ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query households: %w", err)
	}
	defer rows.Close()

	var households []billing.Household
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, err
		}
		households = append(households, h)
	}
	return households, rows.Err()
}

func (s *Store) FindHousehold(ctx context.Context, id string) (*billing.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT id, code, owner, area, active FROM households WHERE id = ?`, id)
	h, err := scanHousehold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrHouseholdNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHousehold(row scanner) (billing.Household, error) {
	var (
		h    billing.Household
		area sql.NullString
	)
	if err := row.Scan(&h.ID, &h.Code, &h.Owner, &area, &h.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return h, err
		}
		return h, fmt.Errorf("failed to scan household: %w", err)
	}
	if area.Valid {
		d, err := decimal.NewFromString(area.String)
		if err != nil {
			return h, fmt.Errorf("household %s: bad area %q: %w", h.ID, area.String, err)
		}
		h.Area = decimal.NewNullDecimal(d)
	}
	return h, nil
}

// =============================================================================
// RESIDENTS & VEHICLES
// =============================================================================

func (s *Store) SaveResident(ctx context.Context, r billing.Resident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO residents (id, household_id, name, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			household_id = excluded.household_id,
			name = excluded.name,
			active = excluded.active
	`, r.ID, r.HouseholdID, r.Name, r.Active, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save resident: %w", err)
	}
	return nil
}

func (s *Store) FindActiveResidents(ctx context.Context, householdID string) ([]billing.Resident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, household_id, name, active FROM residents
		WHERE household_id = ? AND active = TRUE
		ORDER BY id
	`, householdID)
	if err != nil {
		return nil, fmt.Errorf("failed to query residents: %w", err)
	}
	defer rows.Close()

	var residents []billing.Resident
	for rows.Next() {
		var r billing.Resident
		if err := rows.Scan(&r.ID, &r.HouseholdID, &r.Name, &r.Active); err != nil {
			return nil, fmt.Errorf("failed to scan resident: %w", err)
		}
		residents = append(residents, r)
	}
	return residents, rows.Err()
}

func (s *Store) SaveVehicle(ctx context.Context, v billing.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := v.Status
	if status == "" {
		status = billing.VehicleInUse
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicles (id, household_id, plate, category, status, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			household_id = excluded.household_id,
			plate = excluded.plate,
			category = excluded.category,
			status = excluded.status,
			active = excluded.active
	`, v.ID, v.HouseholdID, v.Plate, v.Category, status, v.Active, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save vehicle: %w", err)
	}
	return nil
}

func (s *Store) FindActiveVehicles(ctx context.Context, householdID string) ([]billing.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, household_id, plate, category, status, active FROM vehicles
		WHERE household_id = ? AND active = TRUE
		ORDER BY id
	`, householdID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []billing.Vehicle
	for rows.Next() {
		var v billing.Vehicle
		if err := rows.Scan(&v.ID, &v.HouseholdID, &v.Plate, &v.Category, &v.Status, &v.Active); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// =============================================================================
// FEE POLICIES
// =============================================================================

// SavePolicy inserts or replaces a fee policy. Codes are unique.
func (s *Store) SavePolicy(ctx context.Context, p billing.FeePolicy) error {
	if _, err := billing.ParseCategory(string(p.Category)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fee_policies (id, code, name, category, rate, active, effective_start, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			category = excluded.category,
			rate = excluded.rate,
			active = excluded.active,
			effective_start = excluded.effective_start,
			updated_at = excluded.updated_at
	`, p.ID, p.Code, p.Name, p.Category, p.Rate.String(), p.Active, formatTime(p.EffectiveStart), now, now)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &billing.ValidationError{Field: "code", Value: p.Code, Reason: "already used by another fee policy"}
		}
		return fmt.Errorf("failed to save fee policy: %w", err)
	}
	return nil
}

func (s *Store) FindActivePolicies(ctx context.Context, codes ...string) ([]billing.FeePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, code, name, category, rate, active, effective_start FROM fee_policies
		WHERE active = TRUE`
	args := make([]any, 0, len(codes))
	if len(codes) > 0 {
		query += " AND code IN (" + placeholders(len(codes)) + ")"
		for _, c := range codes {
			args = append(args, c)
		}
	}
	query += " ORDER BY code"

	return s.queryPolicies(ctx, query, args...)
}

// ListPolicies returns every policy, active or not, ordered by code.
func (s *Store) ListPolicies(ctx context.Context) ([]billing.FeePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPolicies(ctx, `
		SELECT id, code, name, category, rate, active, effective_start FROM fee_policies
		ORDER BY code`)
}

func (s *Store) queryPolicies(ctx context.Context, query string, args ...any) ([]billing.FeePolicy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fee policies: %w", err)
	}
	defer rows.Close()

	var policies []billing.FeePolicy
	for rows.Next() {
		var (
			p              billing.FeePolicy
			rate           string
			effectiveStart string
		)
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &rate, &p.Active, &effectiveStart); err != nil {
			return nil, fmt.Errorf("failed to scan fee policy: %w", err)
		}
		if p.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("fee policy %s: bad rate %q: %w", p.Code, rate, err)
		}
		p.EffectiveStart = parseTime(effectiveStart)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, fee_id, household_id, amount, period, status, payment_date,
	description, payer_name, payer_note, created_at, updated_at`

func (s *Store) FindPayments(ctx context.Context, q billing.PaymentQuery) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	where = append(where, "household_id = ?")
	args = append(args, q.HouseholdID)

	if len(q.FeeIDs) > 0 {
		where = append(where, "fee_id IN ("+placeholders(len(q.FeeIDs))+")")
		for _, id := range q.FeeIDs {
			args = append(args, id)
		}
	}
	if len(q.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(q.Statuses))+")")
		for _, st := range q.Statuses {
			args = append(args, string(st))
		}
	}

	switch q.Field {
	case billing.ByPaymentDate:
		where = append(where, "period IS NULL", "payment_date >= ?", "payment_date < ?")
	default:
		where = append(where, "period IS NOT NULL", "period >= ?", "period < ?")
	}
	args = append(args, formatTime(q.From), formatTime(q.To))

	query := "SELECT " + paymentColumns + " FROM payments WHERE " + strings.Join(where, " AND ") + " ORDER BY id"
	return s.queryPayments(ctx, query, args...)
}

// ListPayments returns the payments of a household, most recent period first.
func (s *Store) ListPayments(ctx context.Context, householdID string) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments, err := s.queryPayments(ctx, "SELECT "+paymentColumns+" FROM payments WHERE household_id = ?", householdID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(payments, func(i, j int) bool {
		return paymentSortKey(payments[i]).After(paymentSortKey(payments[j]))
	})
	return payments, nil
}

func paymentSortKey(p billing.Payment) time.Time {
	if p.Period != nil {
		return *p.Period
	}
	return p.PaymentDate
}

// InsertPayment stores a new payment, enforcing (household, fee, period) uniqueness.
func (s *Store) InsertPayment(ctx context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	var period sql.NullString
	if p.Period != nil {
		period = sql.NullString{String: formatTime(*p.Period), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.FeeID, p.HouseholdID, p.Amount.String(), period, string(p.Status),
		formatTime(p.PaymentDate), p.Description, p.PayerName, p.PayerNote,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &billing.StoreConflictError{HouseholdID: p.HouseholdID, FeeID: p.FeeID, Period: period.String}
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// UpdatePayment applies an overwrite patch. Payer metadata is untouched.
func (s *Store) UpdatePayment(ctx context.Context, id string, patch billing.PaymentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET amount = ?, status = ?, description = ?, period = ?, updated_at = ?
		WHERE id = ?
	`, patch.Amount.String(), string(patch.Status), patch.Description, formatTime(patch.Period), formatTime(time.Now()), id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &billing.StoreConflictError{Period: formatTime(patch.Period)}
		}
		return fmt.Errorf("failed to update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n == 0 {
		return billing.ErrPaymentNotFound
	}
	return nil
}

// SettlePayment records a received payment onto an existing record. An empty
// description keeps the stored one.
func (s *Store) SettlePayment(ctx context.Context, id string, st billing.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET amount = ?, status = ?, payment_date = ?,
		    description = CASE WHEN ? = '' THEN description ELSE ? END,
		    payer_name = ?, payer_note = ?, updated_at = ?
		WHERE id = ?
	`, st.Amount.String(), string(st.Status), formatTime(st.PaymentDate),
		st.Description, st.Description, st.PayerName, st.PayerNote, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to settle payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to settle payment: %w", err)
	}
	if n == 0 {
		return billing.ErrPaymentNotFound
	}
	return nil
}

// GetPayment returns a payment by id.
func (s *Store) GetPayment(ctx context.Context, id string) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments, err := s.queryPayments(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, billing.ErrPaymentNotFound
	}
	return &payments[0], nil
}

// CountPayments returns the number of stored payments.
func (s *Store) CountPayments(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM payments").Scan(&n)
	return n, err
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]billing.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(rows *sql.Rows) (billing.Payment, error) {
	var (
		p           billing.Payment
		amount      string
		period      sql.NullString
		status      string
		paymentDate string
		createdAt   string
		updatedAt   string
	)
	err := rows.Scan(
		&p.ID, &p.FeeID, &p.HouseholdID, &amount, &period, &status, &paymentDate,
		&p.Description, &p.PayerName, &p.PayerNote, &createdAt, &updatedAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return p, fmt.Errorf("payment %s: bad amount %q: %w", p.ID, amount, err)
	}
	if period.Valid {
		t := parseTime(period.String)
		p.Period = &t
	}
	p.Status = billing.PaymentStatus(status)
	p.PaymentDate = parseTime(paymentDate)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// GENERATION RUNS
// =============================================================================

// GenerationRun is the persisted summary of one generation batch.
type GenerationRun struct {
	ID              string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Granularity     billing.Granularity
	Overwrite       bool
	Categories      []billing.Category
	TotalHouseholds int
	Created         int
	Skipped         int
	Errors          int
	Overwritten     int
	TotalAmount     decimal.Decimal
	StartedAt       time.Time
	CompletedAt     time.Time
}

// Record implements billing.ReportSink by saving the run summary.
func (s *Store) Record(ctx context.Context, r *billing.GenerationReport) error {
	return s.SaveGenerationRun(ctx, GenerationRun{
		ID:              "run-" + uuid.NewString(),
		PeriodStart:     r.Period.Start,
		PeriodEnd:       r.Period.End,
		Granularity:     r.Period.Granularity,
		Overwrite:       r.Overwrite,
		Categories:      r.Categories,
		TotalHouseholds: r.TotalHouseholds,
		Created:         r.Created,
		Skipped:         r.Skipped,
		Errors:          r.Errors,
		Overwritten:     r.Overwritten,
		TotalAmount:     r.TotalAmount,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.FinishedAt,
	})
}

func (s *Store) SaveGenerationRun(ctx context.Context, r GenerationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cats := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		cats[i] = string(c)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_runs
		(id, period_start, period_end, granularity, overwrite, categories,
		 total_households, created, skipped, errors, overwritten, total_amount, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, formatTime(r.PeriodStart), formatTime(r.PeriodEnd), string(r.Granularity), r.Overwrite,
		strings.Join(cats, ","), r.TotalHouseholds, r.Created, r.Skipped, r.Errors, r.Overwritten,
		r.TotalAmount.String(), formatTime(r.StartedAt), formatTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save generation run: %w", err)
	}
	return nil
}

// ListGenerationRuns returns the most recent runs first, at most limit.
func (s *Store) ListGenerationRuns(ctx context.Context, limit int) ([]GenerationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, period_start, period_end, granularity, overwrite, categories,
		       total_households, created, skipped, errors, overwritten, total_amount, started_at, completed_at
		FROM generation_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation runs: %w", err)
	}
	defer rows.Close()

	var runs []GenerationRun
	for rows.Next() {
		var (
			r                                 GenerationRun
			start, end, started, completed    string
			granularity, categories, totalAmt string
		)
		if err := rows.Scan(&r.ID, &start, &end, &granularity, &r.Overwrite, &categories,
			&r.TotalHouseholds, &r.Created, &r.Skipped, &r.Errors, &r.Overwritten, &totalAmt, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan generation run: %w", err)
		}
		r.PeriodStart, r.PeriodEnd = parseTime(start), parseTime(end)
		r.StartedAt, r.CompletedAt = parseTime(started), parseTime(completed)
		r.Granularity = billing.Granularity(granularity)
		r.TotalAmount, _ = decimal.NewFromString(totalAmt)
		if categories != "" {
			for _, c := range strings.Split(categories, ",") {
				r.Categories = append(r.Categories, billing.Category(c))
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"generation_runs", "payments", "vehicles", "residents", "fee_policies", "households"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
