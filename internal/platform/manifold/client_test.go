package manifold

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

func TestCheckHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    error
	}{
		{"success passes", 200, `{}`, nil},
		{"created passes", 201, `{}`, nil},
		{"404 maps to not found", 404, `{"message":"Contract not found"}`, domain.ErrNotFound},
		{"401 maps to forbidden", 401, `{"message":"Invalid API key"}`, domain.ErrForbidden},
		{"403 maps to forbidden", 403, `{"message":"nope"}`, domain.ErrForbidden},
		{"insufficient balance by message", 400, `{"message":"Insufficient balance"}`, domain.ErrInsufficientBalance},
		{"trading closed by message", 400, `{"message":"Trading is closed"}`, domain.ErrTradingClosed},
		{"creator check maps to forbidden", 400, `{"message":"User is not the creator of this market"}`, domain.ErrForbidden},
		{"plain text body still matches", 400, `Insufficient balance`, domain.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkHTTPStatus(tt.statusCode, []byte(tt.body))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckHTTPStatusUnmatchedError(t *testing.T) {
	err := checkHTTPStatus(500, []byte(`{"message":"internal"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Contains(t, err.Error(), "internal")
}

func TestGetMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/m1", r.URL.Path)
		json.NewEncoder(w).Encode(APIMarket{
			ID:          "m1",
			Question:    "Will it rain?",
			Mechanism:   "cpmm-1",
			OutcomeType: "BINARY",
			Pool:        map[string]float64{"YES": 120, "NO": 80},
			P:           0.5,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	m, err := c.GetMarket(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, domain.Pool{Yes: 120, No: 80}, m.Pool)
}

func TestGetMarketNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Contract not found"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetMarket(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBetSendsAuthAndBody(t *testing.T) {
	var got placeBetRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bet", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.PlaceBet(context.Background(), "secret", "m1", 50, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, "Key secret", auth)
	assert.Equal(t, placeBetRequest{ContractID: "m1", Amount: 50, Outcome: "YES"}, got)
}

func TestGetMarketBetsPages(t *testing.T) {
	// First page is full, so the client must page once more with before set
	// to the last id.
	page1 := make([]APIBet, betHistoryPageSize)
	for i := range page1 {
		page1[i] = APIBet{ID: "bet-" + string(rune('a'+i%26)), Amount: 1, Shares: 2}
	}
	page1[betHistoryPageSize-1].ID = "last-of-page-1"

	var befores []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		befores = append(befores, r.URL.Query().Get("before"))
		if len(befores) == 1 {
			json.NewEncoder(w).Encode(page1)
			return
		}
		json.NewEncoder(w).Encode([]APIBet{{ID: "bet-final", Amount: 1, Shares: 2}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	bets, err := c.GetMarketBets(context.Background(), "m1")
	require.NoError(t, err)
	assert.Len(t, bets, betHistoryPageSize+1)
	assert.Equal(t, []string{"", "last-of-page-1"}, befores)
}

func TestGetMeUsesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Key good" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Invalid API key"}`))
			return
		}
		json.NewEncoder(w).Encode(APIUser{ID: "u1", Name: "Alice", Username: "alice", Balance: 500})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	u, err := c.GetMe(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = c.GetMe(context.Background(), "bad")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("GetMe with bad key = %v, want ErrForbidden", err)
	}
}
