package sources

// SearchParams are the query options shared by the vendor REST APIs.
type SearchParams struct {
	Keyword string
	Sort    string
	IDs     []string
	Limit   int
	Offset  int
}

// SearchResult is one page of normalised API items with the total the API
// reports for the whole query.
type SearchResult struct {
	Items      []*ProductInfo
	TotalCount int
}

// NormalizeBatch runs parse over every item of a batch. Items that fail to
// parse are skipped; the first error is returned alongside the rest.
func NormalizeBatch(batch *Batch, parse func(BatchItem) (*ProductInfo, error)) (*SearchResult, error) {
	res := &SearchResult{TotalCount: batch.TotalCount}
	var firstErr error
	for _, item := range batch.Items {
		p, err := parse(item)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Items = append(res.Items, p)
	}
	return res, firstErr
}
