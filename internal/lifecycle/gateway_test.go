package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayClient_Reads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chains/31337/contracts/0xabc/state":
			json.NewEncoder(w).Encode(map[string]string{"state": StateFrozen})
		case "/chains/31337/contracts/0xabc/timeline":
			json.NewEncoder(w).Encode(map[string]int64{"registeringEnds": 1000, "liveEnds": 2000})
		case "/chains/31337/contracts/0xabc/leaders/version":
			json.NewEncoder(w).Encode(map[string]int64{"version": 3})
		case "/chains/31337/contracts/0xabc/vaults/0xwallet":
			json.NewEncoder(w).Encode(map[string]any{"score": "12345", "settled": true})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewGatewayClient(srv.URL)
	ctx := context.Background()

	state, err := client.ContractState(ctx, 31337, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, StateFrozen, state)

	tl, err := client.ContractTimeline(ctx, 31337, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, Timeline{RegisteringEnds: 1000, LiveEnds: 2000}, tl)

	version, err := client.LeaderboardVersion(ctx, 31337, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)

	standing, err := client.VaultScore(ctx, 31337, "0xabc", "0xwallet")
	require.NoError(t, err)
	assert.Equal(t, VaultStanding{Score: "12345", Settled: true}, standing)
}

func TestGatewayClient_SubmitBodies(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = nil
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewGatewayClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, client.SubmitSettle(ctx, 31337, "0xabc", "0xwallet"))
	assert.Equal(t, "/chains/31337/contracts/0xabc/tx/settle", gotPath)
	assert.Equal(t, "0xwallet", gotBody["wallet"])

	require.NoError(t, client.SubmitUpdateLeaders(ctx, 31337, "0xabc", []LeaderUpdate{
		{Rank: 1, Wallet: "0xwallet", Score: "7"},
	}))
	assert.Equal(t, "/chains/31337/contracts/0xabc/tx/update-leaders", gotPath)
	updates, ok := gotBody["updates"].([]any)
	require.True(t, ok)
	assert.Len(t, updates, 1)
}

func TestGatewayClient_ErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nonce too low", http.StatusConflict)
	}))
	defer srv.Close()

	client := NewGatewayClient(srv.URL)

	err := client.SubmitFreeze(context.Background(), 31337, "0xabc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "nonce too low")
}
