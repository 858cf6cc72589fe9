package pagination

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Sternrassler/apiclient/pkg/cache"
	"github.com/Sternrassler/apiclient/pkg/client"
)

// Page is the envelope of one page of a collection.
type Page struct {
	Total   int   `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Data    []any `json:"data"`
}

// Validate rejects envelopes without a usable page size.
func (p Page) Validate() error {
	if p.PerPage <= 0 {
		return fmt.Errorf("per_page must be positive, got %d", p.PerPage)
	}
	if p.Total < 0 {
		return fmt.Errorf("total must not be negative, got %d", p.Total)
	}
	return nil
}

// TotalPages returns the number of pages of the collection.
func (p Page) TotalPages() int {
	if p.Total == 0 {
		return 1
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

// ClientFetcher fetches pages through the request orchestrator.
type ClientFetcher struct {
	client *client.Client
	opts   []client.RequestOption
}

// NewClientFetcher creates a fetcher submitting GET requests through c.
// opts apply to every page request, e.g. a fetch policy or per_page.
func NewClientFetcher(c *client.Client, opts ...client.RequestOption) *ClientFetcher {
	return &ClientFetcher{client: c, opts: opts}
}

// FetchPage implements PageFetcher.
func (f *ClientFetcher) FetchPage(ctx context.Context, path string, pageNum int) (cache.Payload, int, error) {
	opts := append([]client.RequestOption{}, f.opts...)
	opts = append(opts, client.WithParam("page", strconv.Itoa(pageNum)))

	req := client.NewRequest[Page](client.MethodGet, path, opts...)
	resp, err := client.Await(ctx, f.client, req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Payload, resp.Model.TotalPages(), nil
}
