package repository

import (
	"time"
	_ "time/tzdata"
)

// DateLayout is the storage format of bar dates.
const DateLayout = "2006-01-02"

var marketLocation = loadMarketLocation()

func loadMarketLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// TradingDay returns the US market calendar date (YYYY-MM-DD) for ts.
func TradingDay(ts time.Time) string {
	return ts.In(marketLocation).Format(DateLayout)
}

// RecencyCutoff is the oldest bar date still considered fresh, days before now.
func RecencyCutoff(now time.Time, days int) string {
	return TradingDay(now.AddDate(0, 0, -days))
}

// MarketLocation is the time zone trading days are counted in.
func MarketLocation() *time.Location {
	return marketLocation
}
