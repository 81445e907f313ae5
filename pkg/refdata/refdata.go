package refdata

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// dateLayout matches the reference files' YYYY-MMM-D dates, e.g. 2046-Aug-15.
const dateLayout = "2006-Jan-2"

// BulletBond describes one bond in the tradable universe.
type BulletBond struct {
	ISIN        string
	Alias       string
	IssueDate   time.Time
	DatedDate   time.Time
	Maturity    time.Time
	Coupon      decimal.Decimal
	FreqMonths  int
	Outstanding int64
	Class       string
}

// BondFut describes one listed bond future.
type BondFut struct {
	Exchange         string
	Alias            string
	BBGCode          string
	FirstTradingDate time.Time
	FirstDeliveryDt  time.Time
	LastDeliveryDt   time.Time
	ConversionFactor string
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return t, nil
}
