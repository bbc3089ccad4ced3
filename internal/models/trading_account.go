package models

import "time"

// TradingAccount - брокерский аккаунт, дающий URL потока котировок и API-ключ
type TradingAccount struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"account_name"`
	HostURL      string    `json:"host_url" db:"host_url"`
	WebSocketURL string    `json:"websocket_url" db:"websocket_url"`
	APIKey       string    `json:"-" db:"api_key"` // зашифрован, не возвращается в JSON
	IsPrimary    bool      `json:"is_primary" db:"is_primary"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// FeedCredentials - расшифрованные параметры подключения к потоку
type FeedCredentials struct {
	AccountName  string
	HostURL      string
	WebSocketURL string
	APIKey       string
}
