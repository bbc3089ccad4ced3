package feed

import (
	"errors"
	"testing"
	"time"

	"riskwatch/internal/models"
)

func TestParseMessage(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		input      string
		wantKind   MessageKind
		wantErr    error
		wantTick   *models.Tick
		wantAuthOK bool
	}{
		{
			name:       "auth success",
			input:      `{"type":"auth","status":"success","message":"Authentication successful"}`,
			wantKind:   KindAuth,
			wantAuthOK: true,
		},
		{
			name:     "auth failure",
			input:    `{"type":"auth","status":"error","message":"Invalid API key"}`,
			wantKind: KindAuth,
		},
		{
			name:     "market data nested",
			input:    `{"type":"market_data","symbol":"INFY","exchange":"NSE","mode":2,"data":{"ltp":1605.8,"open":1600,"high":1610,"low":1598.5,"close":1602,"volume":1930758,"timestamp":1765781412568}}`,
			wantKind: KindTick,
			wantTick: &models.Tick{
				Symbol: "INFY", Exchange: "NSE", LTP: 1605.8, Open: 1600, High: 1610,
				Low: 1598.5, Close: 1602, Volume: 1930758, Timestamp: now,
			},
		},
		{
			name:     "flattened",
			input:    `{"symbol":"NIFTY24JANFUT","ltp":21750.5}`,
			wantKind: KindTick,
			wantTick: &models.Tick{Symbol: "NIFTY24JANFUT", LTP: 21750.5, Timestamp: now},
		},
		{
			name:     "numeric strings",
			input:    `{"type":"market_data","symbol":"TCS","exchange":"NSE","data":{"ltp":"3890.50","volume":"12"}}`,
			wantKind: KindTick,
			wantTick: &models.Tick{Symbol: "TCS", Exchange: "NSE", LTP: 3890.5, Volume: 12, Timestamp: now},
		},
		{
			name:    "market data without symbol",
			input:   `{"type":"market_data","data":{"ltp":10}}`,
			wantErr: ErrInvalidTick,
		},
		{
			name:    "market data with zero ltp",
			input:   `{"type":"market_data","symbol":"INFY","data":{"ltp":0}}`,
			wantErr: ErrInvalidTick,
		},
		{
			name:     "subscription ack",
			input:    `{"type":"subscribe","status":"success","message":"Subscribed"}`,
			wantKind: KindSubscription,
		},
		{
			name:     "error message",
			input:    `{"type":"error","message":"rate limited"}`,
			wantKind: KindError,
		},
		{
			name:     "status error without type",
			input:    `{"status":"error","message":"unknown action"}`,
			wantKind: KindError,
		},
		{
			name:     "unknown",
			input:    `{"type":"heartbeat"}`,
			wantKind: KindUnknown,
		},
		{
			name:    "malformed",
			input:   `{"type":`,
			wantErr: ErrMalformedMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.input), now)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", msg.Kind, tt.wantKind)
			}
			if msg.AuthSucceeded() != tt.wantAuthOK {
				t.Errorf("AuthSucceeded = %v, want %v", msg.AuthSucceeded(), tt.wantAuthOK)
			}
			if tt.wantTick != nil && msg.Tick != *tt.wantTick {
				t.Errorf("tick = %+v, want %+v", msg.Tick, *tt.wantTick)
			}
		})
	}
}

func TestEncodeRequests(t *testing.T) {
	inst := models.Instrument{Symbol: "INFY", Exchange: "NSE"}

	tests := []struct {
		name string
		msg  interface{}
		want string
	}{
		{"auth", AuthRequest{Action: ActionAuthenticate, APIKey: "k"}, `{"action":"authenticate","api_key":"k"}`},
		{"subscribe", NewSubscribe(inst), `{"action":"subscribe","symbol":"INFY","exchange":"NSE","mode":2,"depth":5}`},
		{"unsubscribe", NewUnsubscribe(inst), `{"action":"unsubscribe","symbol":"INFY","exchange":"NSE","mode":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Encode = %s, want %s", data, tt.want)
			}
		})
	}
}

func BenchmarkParseMessage(b *testing.B) {
	data := []byte(`{"type":"market_data","symbol":"INFY","exchange":"NSE","data":{"ltp":1605.8,"open":1600,"high":1610,"low":1598.5,"close":1602,"volume":1930758}}`)
	now := time.Now()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseMessage(data, now)
	}
}
