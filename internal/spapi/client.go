package spapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/sellerpulse/pricewatch/internal/pricing"
)

// sha256 of an empty body, required by SigV4 for GET requests
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

const defaultRetryAfter = 5 * time.Second

// Client is the read path of the external pricing API: one item-offers
// lookup per call, bearer-token authenticated and SigV4 signed with the
// assumed-role credential when one is configured.
type Client struct {
	httpClient *http.Client
	endpoint   string
	region     string
	tokens     *TokenSource
	roles      *RoleSource
	signer     *v4.Signer
	nowFunc    func() time.Time
}

// NewClient builds a pricing client. roles may be nil for sandbox
// endpoints that accept the bearer token alone.
func NewClient(httpClient *http.Client, endpoint, region string, tokens *TokenSource, roles *RoleSource) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		region:     region,
		tokens:     tokens,
		roles:      roles,
		signer:     v4.NewSigner(),
		nowFunc:    time.Now,
	}
}

type itemOffersResponse struct {
	Payload struct {
		ASIN   string `json:"ASIN"`
		Offers []struct {
			SellerID     string `json:"SellerId"`
			ListingPrice struct {
				Amount float64 `json:"Amount"`
			} `json:"ListingPrice"`
			Shipping struct {
				Amount float64 `json:"Amount"`
			} `json:"Shipping"`
			IsBuyBoxWinner   bool `json:"IsBuyBoxWinner"`
			PrimeInformation struct {
				IsPrime bool `json:"IsPrime"`
			} `json:"PrimeInformation"`
		} `json:"Offers"`
	} `json:"payload"`
}

// GetItemOffers fetches the current offer list for one product. The
// returned event is stamped with the fetch time so the monotonic ordering
// rule treats it as the freshest view.
func (c *Client) GetItemOffers(ctx context.Context, asin, marketplaceID string) (pricing.OfferEvent, error) {
	var ev pricing.OfferEvent

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return ev, err
	}

	u := fmt.Sprintf("%s/products/pricing/v0/items/%s/offers?%s",
		c.endpoint, url.PathEscape(asin), url.Values{
			"MarketplaceId": {marketplaceID},
			"ItemCondition": {"New"},
		}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ev, &APIError{Message: err.Error(), Transient: true}
	}
	req.Header.Set("x-amz-access-token", token)

	if c.roles != nil {
		creds, err := c.roles.Credentials(ctx)
		if err != nil {
			return ev, err
		}
		if err := c.signer.SignHTTP(ctx, creds, req, emptyPayloadHash, "execute-api", c.region, c.nowFunc()); err != nil {
			return ev, &APIError{Message: fmt.Sprintf("sign request: %v", err), Transient: true}
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ev, &APIError{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests:
		return ev, &ThrottleError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ev, &APIError{StatusCode: resp.StatusCode, Message: "bad request for asin " + asin, Fatal: true}
	default:
		return ev, &APIError{StatusCode: resp.StatusCode, Message: "upstream failure", Transient: true}
	}

	var body itemOffersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ev, &APIError{Message: fmt.Sprintf("decode item offers: %v", err), Transient: true}
	}

	ev = pricing.OfferEvent{
		ASIN:          asin,
		MarketplaceID: marketplaceID,
		EventTime:     c.nowFunc().UTC(),
		Offers:        make([]pricing.Offer, 0, len(body.Payload.Offers)),
	}
	for _, o := range body.Payload.Offers {
		ev.Offers = append(ev.Offers, pricing.Offer{
			SellerID:       o.SellerID,
			ListingPrice:   o.ListingPrice.Amount,
			Shipping:       o.Shipping.Amount,
			IsPrime:        o.PrimeInformation.IsPrime,
			IsBuyBoxWinner: o.IsBuyBoxWinner,
		})
	}
	return ev, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
