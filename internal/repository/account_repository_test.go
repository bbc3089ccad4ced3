package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var accountRowColumns = []string{"id", "account_name", "host_url", "websocket_url", "api_key", "is_primary"}

func TestNewAccountRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewAccountRepository(db)
	if repo == nil || repo.db != db {
		t.Fatal("NewAccountRepository did not keep db")
	}
}

func TestAccountRepositoryGetPrimary(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectName  string
		expectError error
	}{
		{
			name: "found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM trading_accounts WHERE is_primary = TRUE`).
					WillReturnRows(sqlmock.NewRows(accountRowColumns).
						AddRow(1, "zerodha-main", "http://127.0.0.1:5000", "ws://127.0.0.1:8765", "enc", true))
			},
			expectName: "zerodha-main",
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM trading_accounts WHERE is_primary = TRUE`).
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrAccountNotFound,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM trading_accounts`).
					WillReturnError(errors.New("connection refused"))
			},
			expectError: errors.New("connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewAccountRepository(db)
			acc, err := repo.GetPrimary(context.Background())

			if tt.expectError != nil {
				if err == nil {
					t.Fatalf("expected error %v, got nil", tt.expectError)
				}
				if tt.expectError == ErrAccountNotFound && !errors.Is(err, ErrAccountNotFound) {
					t.Errorf("expected ErrAccountNotFound, got %v", err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if acc.Name != tt.expectName || !acc.IsPrimary {
					t.Errorf("unexpected account %+v", acc)
				}
				if acc.APIKey != "enc" {
					t.Errorf("api key = %q", acc.APIKey)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestAccountRepositoryGetFirstWithWebSocket(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`WHERE websocket_url IS NOT NULL AND websocket_url <> ''`).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow(4, "backup", "http://10.0.0.5:5000", "ws://10.0.0.5:8765", "enc", false))

	repo := NewAccountRepository(db)
	acc, err := repo.GetFirstWithWebSocket(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.ID != 4 || acc.WebSocketURL != "ws://10.0.0.5:8765" || acc.IsPrimary {
		t.Errorf("unexpected account %+v", acc)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
