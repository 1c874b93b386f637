// Package pricing turns price-bearing page text into a regular price and an
// optional sale.
package pricing

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"
)

const (
	SaleTypeTimesale = "timesale"
	SaleTypeCampaign = "campaign"
	SaleTypeSale     = "sale"
)

// SaleInfo describes a discounted price. SalePrice is always strictly lower
// than RegularPrice.
type SaleInfo struct {
	RegularPrice    int        `json:"regularPrice"`
	SalePrice       int        `json:"salePrice"`
	DiscountPercent int        `json:"discountPercent"`
	SaleType        string     `json:"saleType"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	// ExpiryInferred is set when the expiry text had no year and one was
	// chosen by the roll-forward rule.
	ExpiryInferred bool `json:"expiryInferred,omitempty"`
}

var (
	rePrice      = regexp.MustCompile(`(?i)¥\s*(\d{1,3}(?:,\d{3})+|\d+)|(\d{1,3}(?:,\d{3})+|\d+)\s*(?:円|yen|jpy|pt)`)
	reBareNumber = regexp.MustCompile(`^\s*(\d{1,3}(?:,\d{3})+|\d+)\s*$`)
	rePercentOff = regexp.MustCompile(`(?i)(\d{1,2})\s*%\s*(?:off|オフ|引き|割引)`)
	reTimesale   = regexp.MustCompile(`(?i)タイムセール|time\s*sale|期間限定セール`)
	reCampaign   = regexp.MustCompile(`(?i)キャンペーン|campaign`)
	reHalfPrice  = regexp.MustCompile(`半額`)
)

// ParsePrice extracts the first currency amount from text. A bare number is
// accepted when it is the whole text.
func ParsePrice(text string) (int, bool) {
	s := width.Fold.String(text)
	if m := rePrice.FindStringSubmatch(s); m != nil {
		return atoi(firstNonEmpty(m[1:]...))
	}
	if m := reBareNumber.FindStringSubmatch(s); m != nil {
		return atoi(m[1])
	}
	return 0, false
}

// Prices returns every currency amount in text in document order.
func Prices(text string) []int {
	s := width.Fold.String(text)
	var out []int
	for _, m := range rePrice.FindAllStringSubmatch(s, -1) {
		if n, ok := atoi(firstNonEmpty(m[1:]...)); ok {
			out = append(out, n)
		}
	}
	return out
}

// Extract reconciles a struck-through price with the current one. context is
// the text surrounding the price block and is searched for an explicit
// discount, the sale kind and an expiry date. The returned price is the
// regular price; sale is nil unless struck is strictly greater than current.
func Extract(struck, current, context string, now time.Time) (price int, sale *SaleInfo) {
	regular, hasRegular := ParsePrice(struck)
	salePrice, hasSale := ParsePrice(current)

	switch {
	case hasRegular && hasSale && regular > salePrice:
		return regular, newSale(regular, salePrice, strings.Join([]string{struck, current, context}, " "), now)
	case hasRegular && !hasSale:
		return regular, nil
	case hasSale:
		// a struck price that is not higher than the current one is noise
		return salePrice, nil
	}
	return 0, nil
}

// ExtractFromText handles price blocks where the old and new price appear in
// one run of text, e.g. "通常価格 1,980円 → 980円 (51%OFF) 10/31まで".
func ExtractFromText(text string, now time.Time) (price int, sale *SaleInfo) {
	prices := Prices(text)
	switch len(prices) {
	case 0:
		return 0, nil
	case 1:
		return prices[0], nil
	}
	regular, current := prices[0], prices[1]
	if regular <= current {
		return regular, nil
	}
	return regular, newSale(regular, current, text, now)
}

// FromPrices builds a SaleInfo from two numeric prices, as delivered by APIs.
// It returns nil unless sale is strictly lower than regular.
func FromPrices(regular, sale int, context string, now time.Time) *SaleInfo {
	if sale <= 0 || regular <= sale {
		return nil
	}
	return newSale(regular, sale, context, now)
}

func newSale(regular, salePrice int, context string, now time.Time) *SaleInfo {
	s := width.Fold.String(context)
	info := &SaleInfo{
		RegularPrice:    regular,
		SalePrice:       salePrice,
		DiscountPercent: DiscountPercent(regular, salePrice),
		SaleType:        saleType(s),
	}
	if m := rePercentOff.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			info.DiscountPercent = n
		}
	} else if reHalfPrice.MatchString(s) {
		info.DiscountPercent = 50
	}
	if exp, inferred, ok := ParseExpiry(s, now); ok {
		info.ExpiresAt = &exp
		info.ExpiryInferred = inferred
	}
	return info
}

// DiscountPercent computes round((1 - sale/regular) * 100).
func DiscountPercent(regular, sale int) int {
	if regular <= 0 {
		return 0
	}
	return int(math.Round((1 - float64(sale)/float64(regular)) * 100))
}

func saleType(s string) string {
	switch {
	case reTimesale.MatchString(s):
		return SaleTypeTimesale
	case reCampaign.MatchString(s):
		return SaleTypeCampaign
	}
	return SaleTypeSale
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
