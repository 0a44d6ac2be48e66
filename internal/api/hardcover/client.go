package hardcover

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	graphql "github.com/hasura/go-graphql-client"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/logger"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/util"
)

const (
	// DefaultBaseURL is the default Hardcover GraphQL endpoint
	DefaultBaseURL = "https://api.hardcover.app/v1/graphql"
	// DefaultTimeout is the default HTTP timeout for GraphQL requests
	DefaultTimeout = 30 * time.Second
)

// audiobookFormatID is Hardcover's reading format for audiobooks;
// only audiobook editions carry ASINs useful for linking.
const audiobookFormatID = 2

// editionSearchQuery finds audiobook editions by title and author name.
const editionSearchQuery = `
query EditionsByTitleAuthor($title: String!, $author: String!, $limit: Int!) {
  editions(
    where: {
      title: {_ilike: $title},
      asin: {_is_null: false},
      reading_format_id: {_eq: 2},
      book: {contributions: {author: {name: {_ilike: $author}}}}
    },
    limit: $limit
  ) {
    asin
    title
  }
}`

// headerAddingTransport is an http.RoundTripper that adds the headers required
// for authenticating with the Hardcover API.
type headerAddingTransport struct {
	token string
	rt    http.RoundTripper
}

// RoundTrip implements the http.RoundTripper interface
func (t *headerAddingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := strings.TrimSpace(t.token)
	if token != "" && !strings.HasPrefix(token, "Bearer ") {
		token = "Bearer " + token
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	return t.rt.RoundTrip(req)
}

// Client is a catalog-search client backed by the Hardcover GraphQL API.
// It satisfies the same contract as the Audible client: title/author in,
// ordered candidate ASINs out.
type Client struct {
	gqlClient   *graphql.Client
	logger      *logger.Logger
	rateLimiter *util.RateLimiter
	maxResults  int
}

// NewClient creates a new Hardcover catalog client
func NewClient(token string, maxResults int, log *logger.Logger) *Client {
	return NewClientWithBaseURL(DefaultBaseURL, token, maxResults, log)
}

// NewClientWithBaseURL creates a client against an explicit endpoint.
// Used by tests to point at a local server.
func NewClientWithBaseURL(baseURL, token string, maxResults int, log *logger.Logger) *Client {
	if maxResults <= 0 {
		maxResults = 25
	}
	if log == nil {
		log = logger.Get()
	}

	authClient := &http.Client{
		Timeout: DefaultTimeout,
		Transport: &headerAddingTransport{
			token: token,
			rt:    http.DefaultTransport,
		},
	}

	return &Client{
		gqlClient:   graphql.NewClient(baseURL, authClient),
		rateLimiter: util.NewRateLimiter(time.Second, 3),
		maxResults:  maxResults,
		logger: log.With(map[string]interface{}{
			"component": "hardcover_client",
		}),
	}
}

// SearchByTitleAuthor queries Hardcover for audiobook editions matching the
// title and author and returns their ASINs in result order.
func (c *Client) SearchByTitleAuthor(ctx context.Context, title, author string) ([]string, error) {
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var result struct {
		Editions []struct {
			ASIN  string `json:"asin"`
			Title string `json:"title"`
		} `json:"editions"`
	}

	variables := map[string]interface{}{
		"title":  title,
		"author": author,
		"limit":  c.maxResults,
	}

	if err := c.gqlClient.Exec(ctx, editionSearchQuery, &result, variables); err != nil {
		return nil, fmt.Errorf("hardcover edition search failed: %w", err)
	}

	seen := make(map[string]bool, len(result.Editions))
	asins := make([]string, 0, len(result.Editions))
	for _, ed := range result.Editions {
		if ed.ASIN == "" || seen[ed.ASIN] {
			continue
		}
		seen[ed.ASIN] = true
		asins = append(asins, ed.ASIN)
	}

	c.logger.Debug("Hardcover search completed", map[string]interface{}{
		"title":      title,
		"author":     author,
		"candidates": len(asins),
	})
	return asins, nil
}
