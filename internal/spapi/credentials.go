package spapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/sellerpulse/pricewatch/internal/aws"
)

// refreshMargin renews credentials this long before their actual expiry.
const refreshMargin = 5 * time.Minute

// TokenSource caches the LWA bearer token, refreshing it lazily via the
// OAuth refresh-token grant. The refresh runs under the lock so concurrent
// callers cannot stampede the token endpoint.
type TokenSource struct {
	mu           sync.Mutex
	httpClient   *http.Client
	endpoint     string
	clientID     string
	clientSecret string
	refreshToken string

	token     string
	expiresAt time.Time
	nowFunc   func() time.Time
}

// NewTokenSource builds a token source for one LWA client.
func NewTokenSource(httpClient *http.Client, endpoint, clientID, clientSecret, refreshToken string) *TokenSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenSource{
		httpClient:   httpClient,
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		nowFunc:      time.Now,
	}
}

// Token returns the cached bearer token, refreshing when it is within the
// safety margin of expiry.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.nowFunc().Before(s.expiresAt.Add(-refreshMargin)) {
		return s.token, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.refreshToken},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Err: fmt.Errorf("token endpoint returned status %d", resp.StatusCode)}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &AuthError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if body.AccessToken == "" {
		return "", &AuthError{Err: fmt.Errorf("token endpoint returned empty access_token")}
	}

	s.token = body.AccessToken
	s.expiresAt = s.nowFunc().Add(time.Duration(body.ExpiresIn) * time.Second)
	return s.token, nil
}

// RoleSource caches the assumed-role signing credential for the endpoints
// that additionally require a signed request.
type RoleSource struct {
	mu         sync.Mutex
	client     aws.STSAPI
	roleARN    string
	externalID string

	creds     sdkaws.Credentials
	expiresAt time.Time
	nowFunc   func() time.Time
}

// NewRoleSource builds a role source for one assumed role.
func NewRoleSource(client aws.STSAPI, roleARN, externalID string) *RoleSource {
	return &RoleSource{
		client:     client,
		roleARN:    roleARN,
		externalID: externalID,
		nowFunc:    time.Now,
	}
}

// Credentials returns the cached signing credential, assuming the role
// again when within the safety margin of expiry.
func (s *RoleSource) Credentials(ctx context.Context) (sdkaws.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds.AccessKeyID != "" && s.nowFunc().Before(s.expiresAt.Add(-refreshMargin)) {
		return s.creds, nil
	}

	input := &sts.AssumeRoleInput{
		RoleArn:         &s.roleARN,
		RoleSessionName: awsString("pricewatch"),
		DurationSeconds: awsInt32(3600),
	}
	if s.externalID != "" {
		input.ExternalId = &s.externalID
	}

	out, err := s.client.AssumeRole(ctx, input)
	if err != nil {
		return sdkaws.Credentials{}, &AuthError{Err: fmt.Errorf("assume role: %w", err)}
	}
	if out.Credentials == nil {
		return sdkaws.Credentials{}, &AuthError{Err: fmt.Errorf("assume role returned no credentials")}
	}

	s.creds = fromSTS(out.Credentials)
	s.expiresAt = s.creds.Expires
	return s.creds, nil
}

func fromSTS(c *ststypes.Credentials) sdkaws.Credentials {
	creds := sdkaws.Credentials{
		Source:    "AssumeRole",
		CanExpire: true,
	}
	if c.AccessKeyId != nil {
		creds.AccessKeyID = *c.AccessKeyId
	}
	if c.SecretAccessKey != nil {
		creds.SecretAccessKey = *c.SecretAccessKey
	}
	if c.SessionToken != nil {
		creds.SessionToken = *c.SessionToken
	}
	if c.Expiration != nil {
		creds.Expires = *c.Expiration
	}
	return creds
}

func awsString(s string) *string { return &s }
func awsInt32(i int32) *int32    { return &i }
