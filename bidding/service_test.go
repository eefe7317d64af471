package bidding_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/curiobid/go-marketplace-client/backend"
	"github.com/curiobid/go-marketplace-client/backend/backendfake"
	"github.com/curiobid/go-marketplace-client/bidding"
)

func setupService(t *testing.T) (*bidding.Service, *backendfake.FakeBackend) {
	t.Helper()

	fb := backendfake.NewFakeBackend()
	svc, err := bidding.NewService(fb)
	require.NoError(t, err)
	return svc, fb
}

func TestNewServiceRequiresBackend(t *testing.T) {
	_, err := bidding.NewService(nil)
	require.Error(t, err)
}

func TestSuggestedAmounts(t *testing.T) {
	svc, _ := setupService(t)
	require.Equal(t, [4]float64{43, 44, 45, 47}, svc.SuggestedAmounts(42))
}

func TestPlaceBidSuccess(t *testing.T) {
	svc, fb := setupService(t)

	var gotName string
	var gotArgs map[string]any
	fb.ProcedureFunc = func(name string, args map[string]any) (json.RawMessage, error) {
		gotName = name
		gotArgs = args
		return json.RawMessage(`{"success":true,"bid_id":"bid-9","amount":45}`), nil
	}

	result, err := svc.PlaceBid(context.Background(), "auction-1", "user-1", 42, 45)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "bid-9", result.BidID)
	require.InDelta(t, 45.0, result.Amount, 1e-9)

	require.Equal(t, "place_bid", gotName)
	require.Equal(t, "auction-1", gotArgs["p_auction_id"])
	require.Equal(t, "user-1", gotArgs["p_user_id"])
}

func TestPlaceBidRejectedByBackend(t *testing.T) {
	svc, fb := setupService(t)
	fb.ProcedureFunc = func(string, map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`{"success":false,"error":"outbid"}`), nil
	}

	result, err := svc.PlaceBid(context.Background(), "auction-1", "user-1", 42, 50)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "outbid", result.Message)
}

func TestPlaceBidBelowMinimumNeverReachesBackend(t *testing.T) {
	svc, fb := setupService(t)

	// Minimum next bid at $42 is $43.
	_, err := svc.PlaceBid(context.Background(), "auction-1", "user-1", 42, 42.50)
	require.ErrorIs(t, err, bidding.ErrBidTooLow)
	require.Equal(t, 0, fb.ProcedureCalls())
}

func TestPlaceBidRequiresUser(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.PlaceBid(context.Background(), "auction-1", "", 42, 45)
	require.ErrorIs(t, err, backend.ErrNotAuthenticated)
}
