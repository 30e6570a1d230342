package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresStore_Unit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	t.Run("AppendTransfer", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO xfr_transfers`).
			WithArgs("id-1", "example.com.", int64(7), []byte{0xde, 0xad}).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := store.AppendTransfer(ctx, "example.com.", 7, "id-1", []byte{0xde, 0xad}); err != nil {
			t.Errorf("AppendTransfer failed: %v", err)
		}
	})

	t.Run("Commit", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO xfr_commits`).
			WithArgs("id-1", "example.com.", int64(7), "note").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := store.Commit(ctx, "example.com.", 7, "id-1", "note"); err != nil {
			t.Errorf("Commit failed: %v", err)
		}
	})

	t.Run("CommitError", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO xfr_commits`).
			WithArgs("id-2", "example.com.", int64(8), "note").
			WillReturnError(errors.New("constraint violation"))

		if err := store.Commit(ctx, "example.com.", 8, "id-2", "note"); err == nil {
			t.Errorf("Expected commit error")
		}
	})

	t.Run("CurrentSOA", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"primary_ns", "mailbox", "ttl", "serial", "refresh", "retry", "expire", "minimum"}).
			AddRow("ns1.example.com.", "hostmaster.example.com.", 3600, 42, 7200, 900, 604800, 300)

		mock.ExpectQuery(`SELECT (.+) FROM zone_soa WHERE LOWER\(zone\) = LOWER\(\$1\)`).
			WithArgs("example.com.").
			WillReturnRows(rows)

		soa, err := store.CurrentSOA(ctx, "example.com.")
		if err != nil {
			t.Fatalf("CurrentSOA failed: %v", err)
		}
		if soa == nil || soa.Serial != 42 || soa.Refresh != 7200 {
			t.Errorf("Unexpected soa: %+v", soa)
		}
		if soa.PrimaryNS != "ns1.example.com." {
			t.Errorf("Unexpected primary ns: %q", soa.PrimaryNS)
		}
	})

	t.Run("CurrentSOA_Unknown", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM zone_soa WHERE LOWER\(zone\) = LOWER\(\$1\)`).
			WithArgs("missing.example.").
			WillReturnRows(sqlmock.NewRows([]string{"primary_ns", "mailbox", "ttl", "serial", "refresh", "retry", "expire", "minimum"}))

		soa, err := store.CurrentSOA(ctx, "missing.example.")
		if err != nil {
			t.Errorf("CurrentSOA failed: %v", err)
		}
		if soa != nil {
			t.Errorf("Expected nil soa for unknown zone, got %+v", soa)
		}
	})

	t.Run("LatestCommittedSerial", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"serial"}).AddRow(42)
		mock.ExpectQuery(`SELECT serial FROM xfr_commits`).
			WithArgs("example.com.").
			WillReturnRows(rows)

		serial, ok, err := store.LatestCommittedSerial(ctx, "example.com.")
		if err != nil || !ok || serial != 42 {
			t.Errorf("Unexpected result: serial=%d ok=%v err=%v", serial, ok, err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
