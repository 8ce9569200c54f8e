package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linksentry/linksentry/pkg/types"
)

// Store persists scan verdicts and favourites in a local sqlite file. The
// verdict list behaves as a mapping keyed by candidate: appending a verdict
// for an already-known candidate replaces the earlier entry.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS verdicts (
			candidate TEXT PRIMARY KEY,
			is_safe INTEGER NOT NULL,
			source TEXT NOT NULL,
			safety_status TEXT NOT NULL,
			last_checked_ns INTEGER NOT NULL,
			first_seen_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_first_seen ON verdicts(first_seen_ns);`,
		`CREATE TABLE IF NOT EXISTS favourites (
			candidate TEXT PRIMARY KEY,
			added_ns INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

// Append records a verdict, replacing any earlier verdict for the same
// candidate while keeping its original first-seen position.
func (s *Store) Append(ctx context.Context, v types.Verdict) error {
	if v.Candidate == "" {
		return fmt.Errorf("verdict missing candidate")
	}
	if v.LastCheckedAt.IsZero() {
		v.LastCheckedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verdicts(candidate, is_safe, source, safety_status, last_checked_ns, first_seen_ns)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(candidate) DO UPDATE SET
			is_safe=excluded.is_safe,
			source=excluded.source,
			safety_status=excluded.safety_status,
			last_checked_ns=excluded.last_checked_ns;`,
		v.Candidate,
		boolToInt(v.IsSafe),
		v.Source,
		v.SafetyStatus,
		v.LastCheckedAt.UTC().UnixNano(),
		time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append verdict: %w", err)
	}
	return nil
}

// Get returns the stored verdict for a candidate.
func (s *Store) Get(ctx context.Context, candidate string) (types.Verdict, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT candidate, is_safe, source, safety_status, last_checked_ns
		FROM verdicts WHERE candidate = ?`, candidate)
	v, err := scanVerdict(row)
	if err == sql.ErrNoRows {
		return types.Verdict{}, false, nil
	}
	if err != nil {
		return types.Verdict{}, false, fmt.Errorf("get verdict: %w", err)
	}
	return v, true, nil
}

// List returns all verdicts in scan order.
func (s *Store) List(ctx context.Context) ([]types.Verdict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate, is_safe, source, safety_status, last_checked_ns
		FROM verdicts ORDER BY first_seen_ns ASC`)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var out []types.Verdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list verdicts rows: %w", err)
	}
	return out, nil
}

// Delete removes one candidate's verdict and its favourite mark, if any.
func (s *Store) Delete(ctx context.Context, candidate string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete verdict: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM verdicts WHERE candidate = ?`, candidate); err != nil {
		return fmt.Errorf("delete verdict: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM favourites WHERE candidate = ?`, candidate); err != nil {
		return fmt.Errorf("delete favourite: %w", err)
	}
	return tx.Commit()
}

// Clear removes every verdict. Favourite marks survive a history clear, as
// the favourites list has its own lifecycle.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM verdicts`); err != nil {
		return fmt.Errorf("clear verdicts: %w", err)
	}
	return nil
}

// ReplaceAll swaps the entire verdict list in a single transaction. Readers
// see either the old list or the new one, never a partial mix; a failed
// replace leaves the old list fully intact.
func (s *Store) ReplaceAll(ctx context.Context, verdicts []types.Verdict) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace verdicts: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM verdicts`); err != nil {
		return fmt.Errorf("replace verdicts: %w", err)
	}
	now := time.Now().UTC().UnixNano()
	for i, v := range verdicts {
		if v.Candidate == "" {
			return fmt.Errorf("verdict missing candidate")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO verdicts(candidate, is_safe, source, safety_status, last_checked_ns, first_seen_ns)
			VALUES(?,?,?,?,?,?);`,
			v.Candidate,
			boolToInt(v.IsSafe),
			v.Source,
			v.SafetyStatus,
			v.LastCheckedAt.UTC().UnixNano(),
			now+int64(i), // preserve list order
		)
		if err != nil {
			return fmt.Errorf("replace verdicts: %w", err)
		}
	}
	return tx.Commit()
}

// AddFavourite marks a candidate as a favourite.
func (s *Store) AddFavourite(ctx context.Context, candidate string) error {
	if candidate == "" {
		return fmt.Errorf("favourite missing candidate")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO favourites(candidate, added_ns) VALUES(?,?);`,
		candidate, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("add favourite: %w", err)
	}
	return nil
}

// RemoveFavourite unmarks a candidate.
func (s *Store) RemoveFavourite(ctx context.Context, candidate string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM favourites WHERE candidate = ?`, candidate); err != nil {
		return fmt.Errorf("remove favourite: %w", err)
	}
	return nil
}

// IsFavourite reports whether a candidate is marked.
func (s *Store) IsFavourite(ctx context.Context, candidate string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM favourites WHERE candidate = ?`, candidate).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is favourite: %w", err)
	}
	return n > 0, nil
}

// ListFavourites returns the current verdicts of favourited candidates, in
// the order they were favourited. A favourite whose verdict was deleted
// from the history does not appear.
func (s *Store) ListFavourites(ctx context.Context) ([]types.Verdict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.candidate, v.is_safe, v.source, v.safety_status, v.last_checked_ns
		FROM favourites f JOIN verdicts v ON v.candidate = f.candidate
		ORDER BY f.added_ns ASC`)
	if err != nil {
		return nil, fmt.Errorf("list favourites: %w", err)
	}
	defer rows.Close()

	var out []types.Verdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan favourite: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list favourites rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerdict(r rowScanner) (types.Verdict, error) {
	var v types.Verdict
	var safe int
	var checkedNS int64
	if err := r.Scan(&v.Candidate, &safe, &v.Source, &v.SafetyStatus, &checkedNS); err != nil {
		return types.Verdict{}, err
	}
	v.IsSafe = safe != 0
	v.LastCheckedAt = time.Unix(0, checkedNS).UTC()
	return v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
