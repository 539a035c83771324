package validation

// RefreshRequest is the payload for POST /products/:asin/refresh. The ASIN
// itself travels in the path; the body selects the marketplace to fetch.
type RefreshRequest struct {
	MarketplaceID string `json:"marketplace_id" validate:"required,marketplace_id"`
}
