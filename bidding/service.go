// Package bidding places bids through the backend's settlement procedure.
// Bid validation and auction settlement are server-side; this service only
// pre-validates against the pricing ladder and passes the call through.
package bidding

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/curiobid/go-marketplace-client/backend"
	"github.com/curiobid/go-marketplace-client/pricing"
)

// ErrBidTooLow indicates the amount is below the current price plus one
// increment.
var ErrBidTooLow = errors.New("bid below minimum increment")

// PlacementResult is the settlement procedure's outcome.
type PlacementResult struct {
	Success bool    `json:"success"`
	BidID   string  `json:"bid_id,omitempty"`
	Amount  float64 `json:"amount,omitempty"`
	Message string  `json:"error,omitempty"`
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// Service is the bid placement surface consumed by the bidding UI.
type Service struct {
	backend backend.Client
	log     zerolog.Logger
}

func NewService(b backend.Client, options ...Option) (*Service, error) {
	if b == nil {
		return nil, errors.New("[bidding.NewService] backend client is required")
	}

	s := &Service{
		backend: b,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// SuggestedAmounts returns the quick-bid ladder for the current price.
func (s *Service) SuggestedAmounts(currentPrice float64) [4]float64 {
	return pricing.SuggestedBids(currentPrice)
}

// MinimumBid returns the smallest acceptable next bid.
func (s *Service) MinimumBid(currentPrice float64) float64 {
	return pricing.MinimumBid(currentPrice)
}

// PlaceBid submits a bid. The amount is checked against the increment
// ladder client-side so obviously short bids never reach the backend; the
// authoritative validation still happens in the settlement procedure.
func (s *Service) PlaceBid(ctx context.Context, auctionID, userID string, currentPrice, amount float64) (*PlacementResult, error) {
	if userID == "" {
		return nil, backend.ErrNotAuthenticated
	}
	if amount < pricing.MinimumBid(currentPrice) {
		return nil, ErrBidTooLow
	}

	args := map[string]any{
		"p_auction_id": auctionID,
		"p_user_id":    userID,
		"p_amount":     amount,
	}
	raw, err := s.backend.CallProcedure(ctx, "place_bid", args)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.PlaceBid] call procedure")
	}

	var result PlacementResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "[Service.PlaceBid] decode result")
	}

	if !result.Success {
		s.log.Debug().Str("auction_id", auctionID).Str("reason", result.Message).Msg("[Service.PlaceBid] bid rejected")
	}
	return &result, nil
}
