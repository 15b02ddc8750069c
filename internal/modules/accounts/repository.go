package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/address"
	"github.com/aristath/shadowtrade/internal/database"
	"github.com/aristath/shadowtrade/internal/domain"
)

const registryColumns = `address, authority, bump, total_computations, successful_computations, created_at`

const strategyColumns = `address, owner, bump, total_return, win_rate, total_trades, win_trades, last_updated, created_at`

// Store reads and writes account records. Methods taking a database.Querier
// run inside the caller's transaction; a nil Querier reads from the pool.
type Store struct {
	db      *sql.DB
	deriver *address.Deriver
	log     zerolog.Logger
}

// NewStore creates a new account store
func NewStore(db *sql.DB, deriver *address.Deriver, log zerolog.Logger) *Store {
	return &Store{
		db:      db,
		deriver: deriver,
		log:     log.With().Str("repo", "accounts").Logger(),
	}
}

// Deriver returns the address deriver the store uses.
func (s *Store) Deriver() *address.Deriver {
	return s.deriver
}

func (s *Store) querier(q database.Querier) database.Querier {
	if q == nil {
		return s.db
	}
	return q
}

// CreateRegistry creates the registry at its derived address.
// Fails with domain.ErrAlreadyExists if it is already initialized.
func (s *Store) CreateRegistry(ctx context.Context, q database.Querier, authority domain.Pubkey, now time.Time) (*Registry, error) {
	d, err := s.deriver.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to derive registry address: %w", err)
	}

	reg := &Registry{
		Address:   d.Address,
		Authority: authority,
		Bump:      d.Bump,
		CreatedAt: now.Unix(),
	}

	result, err := s.querier(q).ExecContext(ctx,
		`INSERT INTO registry (`+registryColumns+`) VALUES (?, ?, ?, 0, 0, ?) ON CONFLICT(address) DO NOTHING`,
		reg.Address, reg.Authority, int64(reg.Bump), reg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("registry %s: %w", reg.Address, domain.ErrAlreadyExists)
	}
	return reg, nil
}

// LoadRegistry loads the registry. Fails with domain.ErrNotFound before initialization.
func (s *Store) LoadRegistry(ctx context.Context, q database.Querier) (*Registry, error) {
	d, err := s.deriver.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to derive registry address: %w", err)
	}

	row := s.querier(q).QueryRowContext(ctx,
		`SELECT `+registryColumns+` FROM registry WHERE address = ?`, d.Address)
	reg, err := scanRegistry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registry: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	if err := s.deriver.VerifyRegistry(reg.Address, reg.Bump); err != nil {
		return nil, err
	}
	return reg, nil
}

// IncrementComputations adds to the registry counters.
func (s *Store) IncrementComputations(ctx context.Context, q database.Querier, total, successful uint64) error {
	d, err := s.deriver.Registry()
	if err != nil {
		return fmt.Errorf("failed to derive registry address: %w", err)
	}

	result, err := s.querier(q).ExecContext(ctx, `
		UPDATE registry
		SET total_computations = total_computations + ?,
		    successful_computations = successful_computations + ?
		WHERE address = ?`,
		int64(total), int64(successful), d.Address,
	)
	if err != nil {
		return fmt.Errorf("failed to update registry counters: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to update registry counters: %w", err)
	} else if n == 0 {
		return fmt.Errorf("registry: %w", domain.ErrNotFound)
	}
	return nil
}

// LoadStrategy loads owner's strategy. Fails with domain.ErrNotFound if absent.
func (s *Store) LoadStrategy(ctx context.Context, q database.Querier, owner domain.Pubkey) (*Strategy, error) {
	d, err := s.deriver.Strategy(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to derive strategy address: %w", err)
	}

	row := s.querier(q).QueryRowContext(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE address = ?`, d.Address)
	st, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("strategy for %s: %w", owner, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy: %w", err)
	}
	return st, nil
}

// LoadOrCreateStrategy returns owner's strategy, creating a zeroed one at the
// derived address if absent. created reports whether a record was inserted.
func (s *Store) LoadOrCreateStrategy(ctx context.Context, q database.Querier, owner domain.Pubkey, now time.Time) (st *Strategy, created bool, err error) {
	st, err = s.LoadStrategy(ctx, q, owner)
	if err == nil {
		return st, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	d, err := s.deriver.Strategy(owner)
	if err != nil {
		return nil, false, fmt.Errorf("failed to derive strategy address: %w", err)
	}

	st = &Strategy{
		Address:   d.Address,
		Owner:     owner,
		Bump:      d.Bump,
		CreatedAt: now.Unix(),
	}
	_, err = s.querier(q).ExecContext(ctx,
		`INSERT INTO strategies (`+strategyColumns+`) VALUES (?, ?, ?, 0, 0, 0, 0, 0, ?)`,
		st.Address, st.Owner, int64(st.Bump), st.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create strategy for %s: %w", owner, err)
	}
	return st, true, nil
}

// SaveStrategy overwrites the mutable fields of an existing strategy.
func (s *Store) SaveStrategy(ctx context.Context, q database.Querier, st *Strategy) error {
	result, err := s.querier(q).ExecContext(ctx, `
		UPDATE strategies
		SET total_return = ?, win_rate = ?, total_trades = ?, win_trades = ?, last_updated = ?
		WHERE address = ? AND owner = ?`,
		st.TotalReturn, int64(st.WinRate), int64(st.TotalTrades), int64(st.WinTrades), st.LastUpdated,
		st.Address, st.Owner,
	)
	if err != nil {
		return fmt.Errorf("failed to save strategy %s: %w", st.Address, err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to save strategy %s: %w", st.Address, err)
	} else if n == 0 {
		return fmt.Errorf("strategy %s: %w", st.Address, domain.ErrNotFound)
	}
	return nil
}

// ListStrategies returns strategies ordered by most recent settlement.
func (s *Store) ListStrategies(ctx context.Context, limit, offset int) ([]*Strategy, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strategyColumns+` FROM strategies ORDER BY last_updated DESC, address ASC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	defer rows.Close()

	var out []*Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategies: %w", err)
	}
	return out, nil
}

// LoadAccount returns the record stored at addr, whichever kind it is.
func (s *Store) LoadAccount(ctx context.Context, addr domain.Pubkey) (interface{ MarshalBinary() ([]byte, error) }, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+registryColumns+` FROM registry WHERE address = ?`, addr)
	reg, err := scanRegistry(row)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load account %s: %w", addr, err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE address = ?`, addr)
	st, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", addr, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", addr, err)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRegistry(row scanner) (*Registry, error) {
	var (
		reg               Registry
		bump              int64
		total, successful int64
	)
	if err := row.Scan(&reg.Address, &reg.Authority, &bump, &total, &successful, &reg.CreatedAt); err != nil {
		return nil, err
	}
	reg.Bump = uint8(bump)
	reg.TotalComputations = uint64(total)
	reg.SuccessfulComputations = uint64(successful)
	return &reg, nil
}

func scanStrategy(row scanner) (*Strategy, error) {
	var (
		st                     Strategy
		bump, winRate          int64
		totalTrades, winTrades int64
	)
	if err := row.Scan(&st.Address, &st.Owner, &bump, &st.TotalReturn, &winRate,
		&totalTrades, &winTrades, &st.LastUpdated, &st.CreatedAt); err != nil {
		return nil, err
	}
	st.Bump = uint8(bump)
	st.WinRate = uint16(winRate)
	st.TotalTrades = uint32(totalTrades)
	st.WinTrades = uint32(winTrades)
	return &st, nil
}
