package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"riskwatch/internal/models"
	"riskwatch/internal/repository"
	"riskwatch/pkg/crypto"
	"riskwatch/pkg/utils"
)

// Ошибки сервиса аккаунтов
var (
	ErrNoFeedAccount     = errors.New("no trading account with websocket url configured")
	ErrMissingCredential = errors.New("trading account is missing feed credentials")
)

// AccountService выбирает торговый аккаунт, через который идёт поток котировок.
//
// Порядок выбора:
// 1. аккаунт с is_primary
// 2. иначе первый аккаунт с непустым websocket_url
//
// API ключ хранится в БД зашифрованным (AES-256-GCM) и расшифровывается
// только в момент выдачи FeedCredentials.
type AccountService struct {
	accountRepo   AccountRepositoryInterface
	encryptionKey []byte
	logger        *utils.Logger
}

// NewAccountService создает новый экземпляр AccountService
func NewAccountService(accountRepo AccountRepositoryInterface, encryptionKey []byte, logger *utils.Logger) *AccountService {
	if logger == nil {
		logger = utils.L()
	}
	return &AccountService{
		accountRepo:   accountRepo,
		encryptionKey: encryptionKey,
		logger:        logger.WithComponent("account_service"),
	}
}

// SelectAccount возвращает аккаунт для потока котировок без расшифровки ключа
func (s *AccountService) SelectAccount(ctx context.Context) (*models.TradingAccount, error) {
	acc, err := s.accountRepo.GetPrimary(ctx)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("load primary account: %w", err)
	}

	acc, err = s.accountRepo.GetFirstWithWebSocket(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrNoFeedAccount
		}
		return nil, fmt.Errorf("load websocket account: %w", err)
	}
	return acc, nil
}

// LoadFeedCredentials выбирает аккаунт и возвращает расшифрованные реквизиты.
// Пустые websocket_url, host_url или api_key дают ErrMissingCredential.
func (s *AccountService) LoadFeedCredentials(ctx context.Context) (*models.FeedCredentials, error) {
	acc, err := s.SelectAccount(ctx)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(acc.WebSocketURL) == "" {
		return nil, fmt.Errorf("%w: account %q has no websocket url", ErrMissingCredential, acc.Name)
	}
	if strings.TrimSpace(acc.HostURL) == "" {
		return nil, fmt.Errorf("%w: account %q has no host url", ErrMissingCredential, acc.Name)
	}
	if acc.APIKey == "" {
		return nil, fmt.Errorf("%w: account %q has no api key", ErrMissingCredential, acc.Name)
	}

	apiKey, err := crypto.Decrypt(acc.APIKey, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt api key for %q: %v", ErrMissingCredential, acc.Name, err)
	}

	s.logger.Info("loaded feed account",
		utils.String("account", acc.Name),
		utils.String("host_url", acc.HostURL),
		utils.String("websocket_url", acc.WebSocketURL),
	)

	return &models.FeedCredentials{
		AccountName:  acc.Name,
		HostURL:      acc.HostURL,
		WebSocketURL: acc.WebSocketURL,
		APIKey:       apiKey,
	}, nil
}
