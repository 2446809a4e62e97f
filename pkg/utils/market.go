package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketStatus represents the NSE session state.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketClosed  MarketStatus = "CLOSED"
	MarketPreOpen MarketStatus = "PRE_OPEN"
)

// MarketStatusAt returns the session state at t. Holidays are not modelled.
func MarketStatusAt(t time.Time) MarketStatus {
	now := t.In(IndiaLocation)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketClosed
	}

	minutes := now.Hour()*60 + now.Minute()
	switch {
	case minutes >= 9*60 && minutes < 9*60+15:
		return MarketPreOpen
	case minutes >= 9*60+15 && minutes < 15*60+30:
		return MarketOpen
	}
	return MarketClosed
}

// NextSessionExpiry returns the next 06:00 IST after t, when broker access
// tokens lapse.
func NextSessionExpiry(t time.Time) time.Time {
	now := t.In(IndiaLocation)
	expiry := time.Date(now.Year(), now.Month(), now.Day(), 6, 0, 0, 0, IndiaLocation)
	if !now.Before(expiry) {
		expiry = expiry.Add(24 * time.Hour)
	}
	return expiry
}
