package service

import (
	"context"
	"errors"
	"testing"

	"riskwatch/internal/models"
	"riskwatch/pkg/crypto"
	"riskwatch/pkg/utils"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

func encryptedKey(t *testing.T, plain string) string {
	t.Helper()
	enc, err := crypto.Encrypt(plain, testEncryptionKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return enc
}

func TestAccountService_SelectAccount(t *testing.T) {
	primary := &models.TradingAccount{ID: 1, Name: "primary", WebSocketURL: "ws://a", IsPrimary: true}
	backup := &models.TradingAccount{ID: 2, Name: "backup", WebSocketURL: "ws://b"}

	tests := []struct {
		name           string
		setup          func(m *MockAccountRepository)
		expectName     string
		expectErr      error
		expectFallback bool
	}{
		{
			name:       "primary wins",
			setup:      func(m *MockAccountRepository) { m.primary = primary; m.withSocket = backup },
			expectName: "primary",
		},
		{
			name:           "fallback to first with websocket",
			setup:          func(m *MockAccountRepository) { m.withSocket = backup },
			expectName:     "backup",
			expectFallback: true,
		},
		{
			name:           "no account at all",
			setup:          func(m *MockAccountRepository) {},
			expectErr:      ErrNoFeedAccount,
			expectFallback: true,
		},
		{
			name:      "primary lookup error is not swallowed",
			setup:     func(m *MockAccountRepository) { m.primaryErr = errors.New("db down"); m.withSocket = backup },
			expectErr: errors.New("db down"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockAccountRepository()
			tt.setup(repo)
			svc := NewAccountService(repo, testEncryptionKey, utils.NewNopLogger())

			acc, err := svc.SelectAccount(context.Background())

			if tt.expectErr != nil {
				if err == nil {
					t.Fatalf("expected error %v, got nil", tt.expectErr)
				}
				if tt.expectErr == ErrNoFeedAccount && !errors.Is(err, ErrNoFeedAccount) {
					t.Errorf("expected ErrNoFeedAccount, got %v", err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if acc.Name != tt.expectName {
					t.Errorf("account = %q, want %q", acc.Name, tt.expectName)
				}
			}

			if tt.expectFallback && repo.withSocketCalls != 1 {
				t.Errorf("fallback query calls = %d, want 1", repo.withSocketCalls)
			}
			if !tt.expectFallback && repo.withSocketCalls != 0 {
				t.Errorf("fallback query should not run, calls = %d", repo.withSocketCalls)
			}
		})
	}
}

func TestAccountService_LoadFeedCredentials(t *testing.T) {
	t.Run("decrypts api key", func(t *testing.T) {
		repo := NewMockAccountRepository()
		repo.primary = &models.TradingAccount{
			ID:           1,
			Name:         "primary",
			HostURL:      "http://127.0.0.1:5000",
			WebSocketURL: "ws://127.0.0.1:8765",
			APIKey:       encryptedKey(t, "ak_live_123"),
			IsPrimary:    true,
		}
		svc := NewAccountService(repo, testEncryptionKey, utils.NewNopLogger())

		creds, err := svc.LoadFeedCredentials(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if creds.APIKey != "ak_live_123" {
			t.Errorf("api key = %q, want decrypted value", creds.APIKey)
		}
		if creds.WebSocketURL != "ws://127.0.0.1:8765" || creds.HostURL != "http://127.0.0.1:5000" || creds.AccountName != "primary" {
			t.Errorf("unexpected credentials %+v", creds)
		}
	})

	missing := []struct {
		name string
		acc  models.TradingAccount
	}{
		{"no websocket url", models.TradingAccount{Name: "a", HostURL: "http://h", APIKey: "x"}},
		{"no host url", models.TradingAccount{Name: "a", WebSocketURL: "ws://w", APIKey: "x"}},
		{"no api key", models.TradingAccount{Name: "a", HostURL: "http://h", WebSocketURL: "ws://w"}},
		{"undecryptable api key", models.TradingAccount{Name: "a", HostURL: "http://h", WebSocketURL: "ws://w", APIKey: "not-base64!"}},
	}

	for _, tt := range missing {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockAccountRepository()
			acc := tt.acc
			repo.primary = &acc
			svc := NewAccountService(repo, testEncryptionKey, utils.NewNopLogger())

			_, err := svc.LoadFeedCredentials(context.Background())
			if !errors.Is(err, ErrMissingCredential) {
				t.Errorf("expected ErrMissingCredential, got %v", err)
			}
		})
	}

	t.Run("no account", func(t *testing.T) {
		svc := NewAccountService(NewMockAccountRepository(), testEncryptionKey, utils.NewNopLogger())
		_, err := svc.LoadFeedCredentials(context.Background())
		if !errors.Is(err, ErrNoFeedAccount) {
			t.Errorf("expected ErrNoFeedAccount, got %v", err)
		}
	})
}

func TestRiskEventService_GetRecent(t *testing.T) {
	repo := NewMockRiskEventRepository()
	repo.events = []*models.RiskEvent{
		{ID: 3, ExecutionID: 1, EventType: models.ExitReasonStopLoss},
		{ID: 2, ExecutionID: 2, EventType: models.ExitReasonTakeProfit},
	}
	svc := NewRiskEventService(repo)
	ctx := context.Background()

	tests := []struct {
		name      string
		limit     int
		wantLimit int
	}{
		{"default when zero", 0, DefaultRiskEventLimit},
		{"default when negative", -5, DefaultRiskEventLimit},
		{"clamped", 10000, MaxRiskEventLimit},
		{"as is", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.GetRecent(ctx, tt.limit); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if repo.lastLimit != tt.wantLimit {
				t.Errorf("repository limit = %d, want %d", repo.lastLimit, tt.wantLimit)
			}
		})
	}
}

func TestRiskEventService_EmptyIsNotNil(t *testing.T) {
	svc := NewRiskEventService(NewMockRiskEventRepository())

	events, err := svc.GetRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events == nil {
		t.Error("expected empty slice, got nil")
	}

	byPos, err := svc.GetByPosition(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byPos == nil {
		t.Error("expected empty slice, got nil")
	}
}
