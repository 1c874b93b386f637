package estimator

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/catalog-dev/catalog-ingest/internal/fetch"
)

// Count is what a strategy observed.
type Count struct {
	N         int
	Source    string
	Estimated bool
}

// Strategy obtains a source's live total.
type Strategy interface {
	Total(ctx context.Context) (Count, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context) (Count, error)

func (f StrategyFunc) Total(ctx context.Context) (Count, error) { return f(ctx) }

// Reporter is implemented by sources that know how to count their catalog.
type Reporter interface {
	TotalStrategy() Strategy
}

// Defaulter is implemented by reporters that carry a hard-coded catalog size
// to report while no live or persisted count exists.
type Defaulter interface {
	FallbackEstimate() int
}

var ErrNoSignal = errors.New("no total count signal in response")

// APICount reads an authoritative count field from a vendor API.
func APICount(label string, count func(ctx context.Context) (int, error)) Strategy {
	return StrategyFunc(func(ctx context.Context) (Count, error) {
		n, err := count(ctx)
		if err != nil {
			return Count{}, err
		}
		return Count{N: n, Source: label}, nil
	})
}

// CSVLines downloads a CSV dump and counts its records minus the header.
func CSVLines(client *fetch.Client, url, label string) Strategy {
	return StrategyFunc(func(ctx context.Context) (Count, error) {
		resp, err := client.Get(ctx, fetch.Request{URL: url})
		if err != nil {
			return Count{}, err
		}
		n, err := CountCSVRecords(resp.Body)
		if err != nil {
			return Count{}, err
		}
		return Count{N: n, Source: label}, nil
	})
}

// CountCSVRecords counts data records, excluding the header row.
func CountCSVRecords(body []byte) (int, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	n := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("count csv records: %w", err)
		}
		n++
	}
	if n == 0 {
		return 0, ErrNoSignal
	}
	return n - 1, nil
}

// MaxID fetches a listing page and reports the highest numeric id matched
// by re's first capture group.
func MaxID(client *fetch.Client, url string, re *regexp.Regexp, label string) Strategy {
	return StrategyFunc(func(ctx context.Context) (Count, error) {
		resp, err := client.Get(ctx, fetch.Request{URL: url})
		if err != nil {
			return Count{}, err
		}
		n, ok := MaxMatch(resp.Body, re)
		if !ok {
			return Count{}, ErrNoSignal
		}
		return Count{N: n, Source: label}, nil
	})
}

// MaxMatch returns the maximum integer captured by re in body.
func MaxMatch(body []byte, re *regexp.Regexp) (int, bool) {
	max, found := 0, false
	for _, m := range re.FindAllSubmatch(body, -1) {
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(string(m[1]))
		if err != nil {
			continue
		}
		if !found || n > max {
			max, found = n, true
		}
	}
	return max, found
}

// Static reports a hard-coded estimate for sources without a live signal.
func Static(site string, n int) Strategy {
	return StrategyFunc(func(context.Context) (Count, error) {
		return Count{N: n, Source: EstimateLabel(site), Estimated: true}, nil
	})
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return fmt.Sprintf("strategy panicked: %v", p.v) }
