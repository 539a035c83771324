package pricing

// Analyze turns a raw offer list into a competitive snapshot for the
// seller identified by sellerID. Pure function, no I/O.
func Analyze(ev OfferEvent, sellerID string, th Thresholds) Snapshot {
	snap := Snapshot{
		ASIN:          ev.ASIN,
		MarketplaceID: ev.MarketplaceID,
		TotalOffers:   len(ev.Offers),
		LastUpdated:   ev.EventTime,
	}

	for _, o := range ev.Offers {
		landed := o.Landed()
		if snap.MarketLowPrice == nil || landed < *snap.MarketLowPrice {
			v := landed
			snap.MarketLowPrice = &v
		}
		if o.IsPrime && (snap.PrimeLowPrice == nil || landed < *snap.PrimeLowPrice) {
			v := landed
			snap.PrimeLowPrice = &v
		}
		if o.SellerID == sellerID {
			if snap.YourPrice == nil || landed < *snap.YourPrice {
				v := landed
				snap.YourPrice = &v
			}
			if o.IsBuyBoxWinner {
				snap.BuyBoxIsYours = true
			}
		}
	}

	if snap.YourPrice == nil {
		snap.Severity = classify(snap, th)
		return snap
	}

	// 1-based rank of your best offer when all offers are sorted
	// ascending by landed price; ties do not push you down.
	rank := 1
	for _, o := range ev.Offers {
		if o.SellerID != sellerID && o.Landed() < *snap.YourPrice {
			rank++
		}
	}
	snap.YourRank = &rank

	snap.Severity = classify(snap, th)
	return snap
}

// classify applies the severity ladder, first match wins.
func classify(s Snapshot, th Thresholds) string {
	if s.BuyBoxIsYours {
		return SeveritySuccess
	}
	if s.YourPrice == nil || s.MarketLowPrice == nil {
		return SeverityInfo
	}
	if *s.MarketLowPrice <= 0 {
		// gap undefined for a zero-priced market low
		return SeverityInfo
	}
	gapPct := (*s.YourPrice - *s.MarketLowPrice) / *s.MarketLowPrice * 100

	// a top-3 rank only counts as healthy while the gap stays under the
	// warning threshold; rank 2 of 2 at +33% is not a good position
	if s.YourRank != nil && *s.YourRank <= th.SuccessRank && gapPct < th.WarningGapPct {
		return SeveritySuccess
	}

	if gapPct >= th.CriticalGapPct && s.TotalOffers >= th.CriticalOffers &&
		s.YourRank != nil && *s.YourRank > th.CriticalRankOver {
		return SeverityCritical
	}
	if gapPct >= th.HighGapPct && s.TotalOffers >= th.HighOffers {
		return SeverityHigh
	}
	if gapPct >= th.WarningGapPct || s.TotalOffers >= th.WarningOffers {
		return SeverityWarning
	}
	return SeverityInfo
}
