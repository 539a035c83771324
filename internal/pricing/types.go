package pricing

import "time"

// Severity levels for a competitive snapshot, least to most exposed.
const (
	SeveritySuccess  = "success"
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Offer is one marketplace offer for a product.
type Offer struct {
	SellerID       string
	ListingPrice   float64
	Shipping       float64
	IsPrime        bool
	IsBuyBoxWinner bool
}

// Landed returns listing price plus shipping, the price buyers compare on.
func (o Offer) Landed() float64 {
	return o.ListingPrice + o.Shipping
}

// OfferEvent is a normalized offer-change event ready for analysis.
type OfferEvent struct {
	ASIN          string
	MarketplaceID string
	EventTime     time.Time
	Offers        []Offer
}

// Snapshot is the derived competitive state for one (ASIN, marketplace).
// Price and rank fields are pointers because absence is meaningful:
// zero is a valid price, nil means "no offer in that set".
type Snapshot struct {
	ASIN             string
	MarketplaceID    string
	YourPrice        *float64
	MarketLowPrice   *float64
	PrimeLowPrice    *float64
	YourRank         *int
	TotalOffers      int
	BuyBoxIsYours    bool
	Severity         string
	SourceDedupeHash string
	LastUpdated      time.Time
}

// Thresholds are the severity classification knobs. They are business
// heuristics, not invariants, so callers may tune them.
type Thresholds struct {
	SuccessRank      int     // rank at or below this is success while the gap stays under WarningGapPct
	WarningGapPct    float64 // price gap % that triggers warning
	HighGapPct       float64 // price gap % that triggers high (with HighOffers)
	CriticalGapPct   float64 // price gap % that triggers critical (with CriticalOffers/Rank)
	WarningOffers    int
	HighOffers       int
	CriticalOffers   int
	CriticalRankOver int
}

// DefaultThresholds returns the classification used in production.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SuccessRank:      3,
		WarningGapPct:    10,
		HighGapPct:       20,
		CriticalGapPct:   50,
		WarningOffers:    3,
		HighOffers:       5,
		CriticalOffers:   10,
		CriticalRankOver: 10,
	}
}
