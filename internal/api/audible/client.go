package audible

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/logger"
)

// Client represents an Audible catalog API client.
// It is used for automatic linking: searching the catalog by title and author
// yields candidate ASINs to match against the Audiobookshelf library.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxResults int
	logger     *logger.Logger
}

// Product is a catalog entry from the Audible products API
type Product struct {
	ASIN  string `json:"asin"`
	Title string `json:"title"`
}

// searchResponse is the products endpoint response shape
type searchResponse struct {
	Products     []Product `json:"products"`
	TotalResults int       `json:"total_results"`
}

// NewClient creates a new Audible catalog client for the given region
// (e.g. ".com", ".co.uk", ".de").
func NewClient(region string, maxResults int, log *logger.Logger) *Client {
	if region == "" {
		region = ".com"
	}
	if maxResults <= 0 {
		maxResults = 25
	}
	if log == nil {
		log = logger.Get()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		baseURL:    "https://api.audible" + region,
		maxResults: maxResults,
		logger: log.With(map[string]interface{}{
			"component": "audible_client",
		}),
	}
}

// NewClientWithBaseURL creates a client against an explicit base URL.
// Used by tests to point at a local server.
func NewClientWithBaseURL(baseURL string, maxResults int, log *logger.Logger) *Client {
	c := NewClient("", maxResults, log)
	c.baseURL = baseURL
	return c
}

// SearchByTitleAuthor searches the Audible catalog and returns candidate ASINs
// ordered by catalog relevance, with retries on server errors.
func (c *Client) SearchByTitleAuthor(ctx context.Context, title, author string) ([]string, error) {
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	params := url.Values{}
	params.Set("title", title)
	if author != "" {
		params.Set("author", author)
	}
	params.Set("num_results", strconv.Itoa(c.maxResults))

	searchURL := fmt.Sprintf("%s/1.0/catalog/products?%s", c.baseURL, params.Encode())

	const maxRetries = 3
	const initialBackoff = 500 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff * time.Duration(1<<uint(attempt-1))
			c.logger.Debug("Retrying Audible search", map[string]interface{}{
				"attempt": attempt + 1,
				"title":   title,
				"backoff": backoff.String(),
			})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error response: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("client error response: %d", resp.StatusCode)
		}

		var result searchResponse
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		asins := make([]string, 0, len(result.Products))
		for _, p := range result.Products {
			if p.ASIN != "" {
				asins = append(asins, p.ASIN)
			}
		}

		c.logger.Debug("Audible search completed", map[string]interface{}{
			"title":         title,
			"author":        author,
			"total_results": result.TotalResults,
			"candidates":    len(asins),
		})
		return asins, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}
