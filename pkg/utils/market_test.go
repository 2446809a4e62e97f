package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarketStatusAt(t *testing.T) {
	at := func(day, hour, min int) time.Time {
		return time.Date(2030, 1, day, hour, min, 0, 0, IndiaLocation)
	}
	// 2030-01-10 is a Thursday, 2030-01-12 a Saturday.
	assert.Equal(t, MarketPreOpen, MarketStatusAt(at(10, 9, 5)))
	assert.Equal(t, MarketOpen, MarketStatusAt(at(10, 9, 15)))
	assert.Equal(t, MarketOpen, MarketStatusAt(at(10, 15, 29)))
	assert.Equal(t, MarketClosed, MarketStatusAt(at(10, 15, 30)))
	assert.Equal(t, MarketClosed, MarketStatusAt(at(12, 11, 0)))
	assert.Equal(t, MarketOpen, MarketStatusAt(time.Date(2030, 1, 10, 5, 0, 0, 0, time.UTC)), "05:00 UTC is 10:30 IST")
}

func TestNextSessionExpiry(t *testing.T) {
	before := time.Date(2030, 1, 10, 5, 59, 0, 0, IndiaLocation)
	assert.Equal(t, time.Date(2030, 1, 10, 6, 0, 0, 0, IndiaLocation), NextSessionExpiry(before))

	after := time.Date(2030, 1, 10, 6, 0, 0, 0, IndiaLocation)
	assert.Equal(t, time.Date(2030, 1, 11, 6, 0, 0, 0, IndiaLocation), NextSessionExpiry(after))
}
