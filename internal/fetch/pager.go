package fetch

import (
	"context"
	"errors"
	"fmt"

	"sheet-etl/internal/record"
)

// PageRequest describes one page call. Offset-paged APIs use Index or
// Offset, token-paged APIs use Token.
type PageRequest struct {
	Index  int // zero-based page number
	Offset int // records requested before this page
	Size   int // records requested in this page
	Token  string
}

// Page is one API response.
type Page struct {
	Records []record.Source
	// NextToken is the continuation token of token-paged APIs.
	NextToken string
}

type PageFunc func(ctx context.Context, req PageRequest) (Page, error)

// Pager turns a page call into a Source. It requests min(PageSize,
// remaining) records per call and stops when a page comes back short, Max
// records were produced, or a token-paged API hands out no further token.
type Pager struct {
	// Endpoint names the API in errors.
	Endpoint string
	PageSize int
	// Max caps the total number of records. Zero means no cap.
	Max int
	// TokenPaged marks APIs that continue via Page.NextToken.
	TokenPaged bool
	Fetch      PageFunc
}

func (p Pager) Each(ctx context.Context, visit func(record.Source) error) error {
	if p.PageSize <= 0 {
		return fmt.Errorf("%s: page size must be positive", p.Endpoint)
	}

	produced := 0
	req := PageRequest{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		size := p.PageSize
		if p.Max > 0 {
			remaining := p.Max - produced
			if remaining <= 0 {
				return nil
			}
			size = min(size, remaining)
		}
		req.Size = size

		page, err := p.Fetch(ctx, req)
		if err != nil {
			return fmt.Errorf("%s page %d: %w", p.Endpoint, req.Index+1, err)
		}

		recs := page.Records
		if len(recs) > size {
			recs = recs[:size]
		}
		for _, rec := range recs {
			if err := visit(rec); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
			produced++
		}

		if len(page.Records) < size {
			return nil
		}
		if p.TokenPaged {
			if page.NextToken == "" {
				return nil
			}
			req.Token = page.NextToken
		}
		req.Index++
		req.Offset += size
	}
}
