package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestSequenceRepositoryLoad(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &SequenceRepository{db: mockDB}

	t.Run("missing scope loads zero", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM "sequence_checkpoints" WHERE scope = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "scope", "value"}))

		value, err := repo.Load(context.Background(), "acct-1:kraken")
		if err != nil {
			t.Fatalf("unexpected error loading missing checkpoint: %v", err)
		}
		if value != 0 {
			t.Fatalf("expected 0 for missing scope, got %d", value)
		}
	})

	t.Run("existing scope loads value", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "scope", "value"}).
			AddRow(1, "acct-1:kraken", int64(4096))
		mock.ExpectQuery(`SELECT \* FROM "sequence_checkpoints" WHERE scope = \$1`).
			WillReturnRows(rows)

		value, err := repo.Load(context.Background(), "acct-1:kraken")
		if err != nil {
			t.Fatalf("unexpected error loading checkpoint: %v", err)
		}
		if value != 4096 {
			t.Fatalf("expected 4096, got %d", value)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestSequenceRepositoryStoreUpserts(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &SequenceRepository{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "sequence_checkpoints" .*ON CONFLICT \("scope"\) DO UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	if err := repo.Store(context.Background(), "acct-1:kraken", 4224); err != nil {
		t.Fatalf("unexpected error storing checkpoint: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}
