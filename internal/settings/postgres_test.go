package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockPG(t *testing.T) (*PG, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPG(db), mock
}

func TestPGGetSetting(t *testing.T) {
	store, mock := newMockPG(t)
	ctx := context.Background()

	updated := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"key", "value", "value_type", "description", "is_public", "updated_at"}).
		AddRow("items_per_page", "25", TypeInteger, nil, false, updated)
	mock.ExpectQuery("select (.+) from system_settings where key=").
		WithArgs("items_per_page").WillReturnRows(rows)

	s, err := store.Get(ctx, "items_per_page")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Description != "" || s.Public {
		t.Fatalf("unexpected setting: %+v", s)
	}
	v, err := s.Value()
	if err != nil || v != int64(25) {
		t.Fatalf("Value = %v, %v", v, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGGetSettingNotFound(t *testing.T) {
	store, mock := newMockPG(t)
	ctx := context.Background()

	mock.ExpectQuery("select (.+) from system_settings where key=").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"key"}))

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUpsertSetting(t *testing.T) {
	store, mock := newMockPG(t)
	ctx := context.Background()

	mock.ExpectExec("insert into system_settings").
		WithArgs("maintenance_mode", "true", TypeBoolean, "", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Upsert(ctx, &Setting{
		Key:      "maintenance_mode",
		RawValue: "true",
		Type:     TypeBoolean,
		Public:   true,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGListSettingsPublicOnly(t *testing.T) {
	store, mock := newMockPG(t)
	ctx := context.Background()

	updated := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"key", "value", "value_type", "description", "is_public", "updated_at"}).
		AddRow("app_name", "Goldilocks", TypeString, "Display name", true, updated)
	mock.ExpectQuery("select (.+) from system_settings where").
		WithArgs(true).WillReturnRows(rows)

	out, err := store.List(ctx, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 1 || out[0].Key != "app_name" || !out[0].Public {
		t.Fatalf("unexpected list: %+v", out)
	}
	if out[0].Description != "Display name" {
		t.Fatalf("description = %q", out[0].Description)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
