package pricing

import (
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, JST)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"¥1,980", 1980, true},
		{"￥１，９８０", 1980, true},
		{"1980円", 1980, true},
		{"税込 2,480 円", 2480, true},
		{"500pt", 500, true},
		{" 3000 ", 3000, true},
		{"価格未定", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePrice(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParsePrice(%q) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExtractComputesDiscount(t *testing.T) {
	price, sale := Extract("¥1,980", "¥980", "", testNow)
	if price != 1980 {
		t.Errorf("price = %d, want 1980", price)
	}
	if sale == nil {
		t.Fatal("sale = nil, want SaleInfo")
	}
	if sale.RegularPrice != 1980 || sale.SalePrice != 980 {
		t.Errorf("sale = %d/%d, want 1980/980", sale.RegularPrice, sale.SalePrice)
	}
	if sale.DiscountPercent != 51 {
		t.Errorf("DiscountPercent = %d, want 51", sale.DiscountPercent)
	}
	if sale.SaleType != SaleTypeSale {
		t.Errorf("SaleType = %q, want %q", sale.SaleType, SaleTypeSale)
	}
	if sale.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", sale.ExpiresAt)
	}
}

func TestExtractExplicitPercentWins(t *testing.T) {
	_, sale := Extract("2,000円", "1,000円", "タイムセール 30%OFF", testNow)
	if sale == nil {
		t.Fatal("sale = nil")
	}
	if sale.DiscountPercent != 30 {
		t.Errorf("DiscountPercent = %d, want 30", sale.DiscountPercent)
	}
	if sale.SaleType != SaleTypeTimesale {
		t.Errorf("SaleType = %q, want %q", sale.SaleType, SaleTypeTimesale)
	}
}

func TestExtractNoSaleWhenNotCheaper(t *testing.T) {
	for _, tc := range [][2]string{
		{"¥980", "¥980"},
		{"¥980", "¥1,980"},
	} {
		price, sale := Extract(tc[0], tc[1], "", testNow)
		if sale != nil {
			t.Errorf("Extract(%q, %q) sale = %+v, want nil", tc[0], tc[1], sale)
		}
		if price == 0 {
			t.Errorf("Extract(%q, %q) price = 0", tc[0], tc[1])
		}
	}
}

func TestExtractSinglePriceIsRegular(t *testing.T) {
	price, sale := Extract("", "¥2,980", "", testNow)
	if price != 2980 || sale != nil {
		t.Errorf("Extract() = %d, %+v, want 2980, nil", price, sale)
	}
	price, sale = Extract("¥2,980", "", "", testNow)
	if price != 2980 || sale != nil {
		t.Errorf("Extract() = %d, %+v, want 2980, nil", price, sale)
	}
}

func TestExtractFromText(t *testing.T) {
	price, sale := ExtractFromText("通常価格 1,980円 → 980円 キャンペーン 6/30まで", testNow)
	if price != 1980 {
		t.Errorf("price = %d, want 1980", price)
	}
	if sale == nil {
		t.Fatal("sale = nil")
	}
	if sale.SaleType != SaleTypeCampaign {
		t.Errorf("SaleType = %q, want campaign", sale.SaleType)
	}
	want := time.Date(2025, 6, 30, 23, 59, 59, 0, JST)
	if sale.ExpiresAt == nil || !sale.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", sale.ExpiresAt, want)
	}
	if !sale.ExpiryInferred {
		t.Error("ExpiryInferred = false, want true")
	}
}

func TestParseExpiryFullDate(t *testing.T) {
	got, inferred, ok := ParseExpiry("セール期間：2025/07/01(火) 10:00まで", testNow)
	if !ok {
		t.Fatal("ok = false")
	}
	want := time.Date(2025, 7, 1, 10, 0, 0, 0, JST)
	if !got.Equal(want) {
		t.Errorf("ParseExpiry() = %v, want %v", got, want)
	}
	if inferred {
		t.Error("inferred = true for a dated expiry")
	}
}

func TestParseExpiryRollsYearlessPastDateForward(t *testing.T) {
	got, inferred, ok := ParseExpiry("1月5日まで", testNow)
	if !ok {
		t.Fatal("ok = false")
	}
	want := time.Date(2026, 1, 5, 23, 59, 59, 0, JST)
	if !got.Equal(want) {
		t.Errorf("ParseExpiry() = %v, want %v", got, want)
	}
	if !inferred {
		t.Error("inferred = false, want true")
	}
}

func TestParseExpiryYearlessSameDayStaysInCurrentYear(t *testing.T) {
	got, _, ok := ParseExpiry("6/15まで", testNow)
	if !ok {
		t.Fatal("ok = false")
	}
	if got.Year() != 2025 {
		t.Errorf("year = %d, want 2025 (end of today has not passed)", got.Year())
	}
}

func TestParseExpiryNearYearBoundary(t *testing.T) {
	now := time.Date(2025, 12, 31, 22, 0, 0, 0, JST)
	got, _, ok := ParseExpiry("12/30まで", now)
	if !ok {
		t.Fatal("ok = false")
	}
	if got.Year() != 2026 {
		t.Errorf("year = %d, want 2026", got.Year())
	}
}

func TestParseExpiryRejectsInvalidDates(t *testing.T) {
	for _, s := range []string{"13/40", "2/30", "no date here"} {
		if _, _, ok := ParseExpiry(s, testNow); ok {
			t.Errorf("ParseExpiry(%q) ok = true, want false", s)
		}
	}
}

func TestDiscountPercent(t *testing.T) {
	if got := DiscountPercent(1980, 980); got != 51 {
		t.Errorf("DiscountPercent(1980, 980) = %d, want 51", got)
	}
	if got := DiscountPercent(0, 100); got != 0 {
		t.Errorf("DiscountPercent(0, 100) = %d, want 0", got)
	}
}
