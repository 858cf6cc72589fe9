// Package pagination provides parallel batch fetching for paginated collections.
//
// Collection responses carry "total", "page" and "per_page" fields. The
// batch fetcher reads the first page to learn the page count and fetches the
// remaining pages with a bounded worker pool.
//
// Example usage:
//
//	fetcher := pagination.NewClientFetcher(apiClient,
//		client.WithParam("per_page", "50"),
//		client.WithFetchPolicy(client.NetworkOnly),
//	)
//	batch := pagination.NewBatchFetcher(fetcher, pagination.DefaultConfig())
//	pages, err := batch.FetchAllPages(ctx, "/me/videos")
//
// The batch fetcher:
//   - Fetches first page to determine total pages
//   - Spawns worker pool (default 5 workers)
//   - Distributes remaining pages across workers
//   - Collects results with progress logging
//   - Returns partial data together with the error when a page fails
package pagination
