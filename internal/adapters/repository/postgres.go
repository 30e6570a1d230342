// Package repository persists transferred zone data in PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/poyrazK/xfrd/internal/core/domain"
)

// PostgresStore implements ports.DiffStore and ports.ServingEngine on
// PostgreSQL. Transfers land in xfr_transfers as raw wire payloads and are
// made visible by a matching row in xfr_commits; the zone_soa table is the
// serving side's loaded view.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates and returns a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping verifies the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendTransfer stores one raw transfer payload. The row is invisible to
// the serving side until Commit writes the matching commit row.
func (s *PostgresStore) AppendTransfer(ctx context.Context, zone string, serial uint32, transferID string, payload []byte) error {
	query := `INSERT INTO xfr_transfers (id, zone, serial, payload, received_at)
	          VALUES ($1, LOWER($2), $3, $4, NOW())`
	if _, err := s.db.ExecContext(ctx, query, transferID, zone, int64(serial), payload); err != nil {
		return fmt.Errorf("append transfer %s: %w", transferID, err)
	}
	return nil
}

// Commit marks a previously appended transfer as accepted under its serial.
func (s *PostgresStore) Commit(ctx context.Context, zone string, serial uint32, transferID string, note string) error {
	query := `INSERT INTO xfr_commits (transfer_id, zone, serial, note, committed_at)
	          VALUES ($1, LOWER($2), $3, $4, NOW())`
	if _, err := s.db.ExecContext(ctx, query, transferID, zone, int64(serial), note); err != nil {
		return fmt.Errorf("commit transfer %s: %w", transferID, err)
	}
	return nil
}

// CurrentSOA returns the SOA the serving side has loaded for the zone, or
// (nil, nil) when the zone is unknown.
func (s *PostgresStore) CurrentSOA(ctx context.Context, zone string) (*domain.SOA, error) {
	// RFC 1034: domain name comparisons are case-insensitive.
	query := `SELECT primary_ns, mailbox, ttl, serial, refresh, retry, expire, minimum
	          FROM zone_soa WHERE LOWER(zone) = LOWER($1)`
	var (
		primary, mailbox string
		ttl              int64
		serial, refresh  int64
		retry, expire    int64
		minimum          int64
	)
	err := s.db.QueryRowContext(ctx, query, zone).Scan(
		&primary, &mailbox, &ttl, &serial, &refresh, &retry, &expire, &minimum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current soa for %s: %w", zone, err)
	}
	soa := domain.NewSOA(uint32(serial), uint32(refresh), uint32(retry), uint32(expire), uint32(minimum))
	soa.TTL = uint32(ttl)
	if soa.PrimaryNS, err = domain.NormalizeName(primary); err != nil {
		return nil, fmt.Errorf("current soa for %s: bad primary ns: %w", zone, err)
	}
	if soa.Mailbox, err = domain.NormalizeName(mailbox); err != nil {
		return nil, fmt.Errorf("current soa for %s: bad mailbox: %w", zone, err)
	}
	return soa, nil
}

// SetServedSOA records the serving side's loaded SOA for a zone. Used by
// the reload tooling and the integration tests.
func (s *PostgresStore) SetServedSOA(ctx context.Context, zone string, soa *domain.SOA) error {
	query := `INSERT INTO zone_soa (zone, primary_ns, mailbox, ttl, serial, refresh, retry, expire, minimum)
	          VALUES (LOWER($1), $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (zone) DO UPDATE SET
	            primary_ns = EXCLUDED.primary_ns, mailbox = EXCLUDED.mailbox,
	            ttl = EXCLUDED.ttl, serial = EXCLUDED.serial,
	            refresh = EXCLUDED.refresh, retry = EXCLUDED.retry,
	            expire = EXCLUDED.expire, minimum = EXCLUDED.minimum`
	_, err := s.db.ExecContext(ctx, query, zone,
		soa.PrimaryNS, soa.Mailbox, int64(soa.TTL), int64(soa.Serial),
		int64(soa.Refresh), int64(soa.Retry), int64(soa.Expire), int64(soa.Minimum))
	if err != nil {
		return fmt.Errorf("set served soa for %s: %w", zone, err)
	}
	return nil
}

// LatestCommittedSerial returns the highest committed serial for a zone and
// whether any commit exists.
func (s *PostgresStore) LatestCommittedSerial(ctx context.Context, zone string) (uint32, bool, error) {
	query := `SELECT serial FROM xfr_commits WHERE LOWER(zone) = LOWER($1)
	          ORDER BY committed_at DESC LIMIT 1`
	var serial int64
	err := s.db.QueryRowContext(ctx, query, zone).Scan(&serial)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest serial for %s: %w", zone, err)
	}
	return uint32(serial), true, nil
}
