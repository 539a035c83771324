package validation

import "testing"

func TestRefreshRequest_Valid(t *testing.T) {
	v := New()

	req := RefreshRequest{MarketplaceID: "A1PA6795UKMFR9"}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestRefreshRequest_MissingMarketplace(t *testing.T) {
	v := New()

	if err := v.Struct(RefreshRequest{}); err == nil {
		t.Fatal("expected validation error for missing marketplace_id, got nil")
	}
}

func TestRefreshRequest_BadMarketplace(t *testing.T) {
	v := New()

	req := RefreshRequest{MarketplaceID: "not a marketplace"}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for malformed marketplace_id, got nil")
	}
}

func TestValidASIN(t *testing.T) {
	cases := []struct {
		asin string
		want bool
	}{
		{"B00TEST001", true},
		{"0316769487", true}, // ISBN-style
		{"b00test001", false},
		{"B00TEST00", false},
		{"B00TEST0011", false},
		{"B00TEST-01", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidASIN(tc.asin); got != tc.want {
			t.Errorf("ValidASIN(%q) = %v, want %v", tc.asin, got, tc.want)
		}
	}
}
