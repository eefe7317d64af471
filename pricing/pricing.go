// Package pricing computes bid increments and suggested bid amounts for
// auction listings. Increments follow a tiered ladder so that bidding steps
// stay proportionate to the current price.
package pricing

import "math"

// tier maps a strict upper price bound to the increment used below it.
type tier struct {
	below     float64
	increment float64
}

// ladder is ordered by ascending bound. IncrementFor returns the increment
// of the first tier whose bound exceeds the price; prices at or above the
// highest bound use topIncrement.
var ladder = []tier{
	{below: 1, increment: 0.05},
	{below: 5, increment: 0.25},
	{below: 15, increment: 0.50},
	{below: 60, increment: 1.00},
	{below: 150, increment: 2.50},
	{below: 300, increment: 5.00},
	{below: 600, increment: 10.00},
	{below: 1500, increment: 25.00},
	{below: 3000, increment: 50.00},
}

const topIncrement = 100.00

// bidSteps are the increment multiples offered as quick-bid options.
var bidSteps = [4]float64{1, 2, 3, 5}

// IncrementFor returns the bid increment for the given current price.
// Negative and non-finite prices are clamped to zero before the lookup.
func IncrementFor(price float64) float64 {
	if math.IsNaN(price) || price < 0 {
		price = 0
	}
	for _, t := range ladder {
		if price < t.below {
			return t.increment
		}
	}
	return topIncrement
}

// SuggestedBids returns four quick-bid amounts above the current price, at
// one, two, three, and five increments, each rounded to the cent.
func SuggestedBids(price float64) [4]float64 {
	increment := IncrementFor(price)
	var bids [4]float64
	for i, step := range bidSteps {
		bids[i] = roundToCents(price + increment*step)
	}
	return bids
}

// MinimumBid returns the smallest acceptable next bid: the current price
// plus one increment.
func MinimumBid(price float64) float64 {
	return roundToCents(price + IncrementFor(price))
}

// roundToCents rounds half away from zero at the cent boundary.
func roundToCents(v float64) float64 {
	return math.Round(v*100) / 100
}
