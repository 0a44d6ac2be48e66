package audiobookshelf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/cache"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/logger"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/models"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/util"
)

const (
	apiPath = "/api"

	// DefaultTimeout is the default per-request timeout
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry count for idempotent reads.
	// Mutating requests are never retried automatically.
	DefaultMaxRetries = 3
	// collectionsCacheTTL bounds how long the flattened collections view is reused
	collectionsCacheTTL = 5 * time.Minute
)

// Client is a client for the Audiobookshelf API
type Client struct {
	baseURL     string
	token       string
	client      *http.Client
	logger      *logger.Logger
	rateLimiter *util.RateLimiter
	maxRetries  int
	retryDelay  time.Duration

	collectionsCache cache.Cache[string, *models.CollectionSet]
}

// ClientConfig holds optional client settings
type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	RateLimit  time.Duration
	Burst      int
}

// NewClient creates a new Audiobookshelf client with default settings
func NewClient(baseURL, token string) *Client {
	return NewClientWithConfig(baseURL, token, nil)
}

// NewClientWithConfig creates a new Audiobookshelf client with custom settings
func NewClientWithConfig(baseURL, token string, cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	log := logger.Get().With(map[string]interface{}{
		"component": "audiobookshelf_client",
	})

	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:           log,
		rateLimiter:      util.NewRateLimiter(cfg.RateLimit, cfg.Burst),
		maxRetries:       cfg.MaxRetries,
		retryDelay:       cfg.RetryDelay,
		collectionsCache: cache.WithTTL(cache.NewMemoryCache[string, *models.CollectionSet](log), collectionsCacheTTL),
	}
}

// get performs a GET request with rate limiting and bounded retries.
// Only network errors and 5xx responses are retried; 4xx responses are not.
func (c *Client) get(ctx context.Context, endpoint string, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Debug("Retrying request", map[string]interface{}{
				"endpoint": endpoint,
				"attempt":  attempt + 1,
				"backoff":  backoff.String(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPath+endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := c.rateLimiter.OnRateLimit(0)
			c.logger.Warn("Rate limited by server", map[string]interface{}{
				"endpoint": endpoint,
				"wait":     wait.String(),
			})
			lastErr = &APIError{StatusCode: resp.StatusCode, Body: string(body)}
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = &APIError{StatusCode: resp.StatusCode, Body: string(body)}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		c.rateLimiter.OnSuccess()
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

// send performs a mutating request. Mutations are never retried so a flaky
// connection cannot apply the same side effect twice.
func (c *Client) send(ctx context.Context, method, endpoint string, payload interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPath+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	c.rateLimiter.OnSuccess()
	return nil
}

// GetLibraries fetches all libraries from Audiobookshelf
func (c *Client) GetLibraries(ctx context.Context) ([]models.AudiobookshelfLibrary, error) {
	var result struct {
		Libraries []models.AudiobookshelfLibrary `json:"libraries"`
	}
	if err := c.get(ctx, "/libraries", &result); err != nil {
		return nil, err
	}
	c.logger.Debug("Fetched libraries", map[string]interface{}{
		"count": len(result.Libraries),
	})
	return result.Libraries, nil
}

// GetLibraryItems returns all library items from a specific library
func (c *Client) GetLibraryItems(ctx context.Context, libraryID string) ([]models.AudiobookshelfItem, error) {
	if libraryID == "" {
		return nil, fmt.Errorf("library ID is required")
	}
	var result models.AudiobookshelfItemsResponse
	endpoint := fmt.Sprintf("/libraries/%s/items?minified=0", libraryID)
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("Fetched library items", map[string]interface{}{
		"library_id": libraryID,
		"count":      len(result.Results),
	})
	return result.Results, nil
}

// ListItems returns items from the configured libraries, or from every
// book library on the server when no library IDs are given.
func (c *Client) ListItems(ctx context.Context, libraryIDs []string) ([]models.AudiobookshelfItem, error) {
	if len(libraryIDs) == 0 {
		libraries, err := c.GetLibraries(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate libraries: %w", err)
		}
		for _, lib := range libraries {
			if lib.MediaType != "book" {
				continue
			}
			libraryIDs = append(libraryIDs, lib.ID)
		}
	}

	var all []models.AudiobookshelfItem
	for _, id := range libraryIDs {
		items, err := c.GetLibraryItems(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}

// GetItem fetches a single library item by ID
func (c *Client) GetItem(ctx context.Context, itemID string) (*models.AudiobookshelfItem, error) {
	if itemID == "" {
		return nil, fmt.Errorf("item ID is required")
	}
	var item models.AudiobookshelfItem
	if err := c.get(ctx, "/items/"+itemID, &item); err != nil {
		return nil, WithItemID(err, itemID)
	}
	return &item, nil
}

// GetUserProgress fetches the current user's progress data, including bookmarks
func (c *Client) GetUserProgress(ctx context.Context) (*models.UserProgress, error) {
	var progress models.UserProgress
	if err := c.get(ctx, "/me", &progress); err != nil {
		return nil, err
	}
	c.logger.Debug("Fetched user progress", map[string]interface{}{
		"media_progress_count": len(progress.MediaProgress),
		"bookmarks_count":      len(progress.Bookmarks),
	})
	return &progress, nil
}

// GetItemSessions fetches the listening sessions for a single item,
// ordered oldest first.
func (c *Client) GetItemSessions(ctx context.Context, itemID string) ([]models.ListeningSession, error) {
	if itemID == "" {
		return nil, fmt.Errorf("item ID is required")
	}
	var result struct {
		Sessions []models.ListeningSession `json:"sessions"`
	}
	if err := c.get(ctx, "/me/item/listening-sessions/"+itemID, &result); err != nil {
		return nil, WithItemID(err, itemID)
	}
	return result.Sessions, nil
}

// UpdateItemMetadata patches an item's media payload. The caller supplies
// exactly the fields to change; the server merges them.
func (c *Client) UpdateItemMetadata(ctx context.Context, itemID string, payload map[string]interface{}) error {
	if itemID == "" {
		return fmt.Errorf("item ID is required")
	}
	if err := c.send(ctx, http.MethodPatch, "/items/"+itemID+"/media", payload); err != nil {
		return WithItemID(err, itemID)
	}
	c.logger.Debug("Updated item metadata", map[string]interface{}{
		"item_id": itemID,
	})
	return nil
}

// GetCollections fetches collections and playlists and flattens them into a
// single membership view. Results are cached briefly since writeback consults
// this once per record.
func (c *Client) GetCollections(ctx context.Context) (*models.CollectionSet, error) {
	if cached, ok := c.collectionsCache.Get("all"); ok {
		return cached, nil
	}

	set := &models.CollectionSet{
		ByItem: make(map[string][]string),
		IDs:    make(map[string]string),
	}

	var collections struct {
		Collections []models.Collection `json:"collections"`
	}
	if err := c.get(ctx, "/collections", &collections); err != nil {
		return nil, fmt.Errorf("failed to fetch collections: %w", err)
	}
	for _, col := range collections.Collections {
		set.IDs[col.Name] = col.ID
		for _, book := range col.Books {
			set.ByItem[book.ID] = append(set.ByItem[book.ID], col.Name)
		}
	}

	var playlists struct {
		Playlists []models.Playlist `json:"playlists"`
	}
	if err := c.get(ctx, "/playlists", &playlists); err != nil {
		return nil, fmt.Errorf("failed to fetch playlists: %w", err)
	}
	for _, pl := range playlists.Playlists {
		label := models.PlaylistPrefix + pl.Name
		set.IDs[label] = pl.ID
		for _, item := range pl.Items {
			set.ByItem[item.LibraryItemID] = append(set.ByItem[item.LibraryItemID], label)
		}
	}

	c.collectionsCache.Set("all", set, collectionsCacheTTL)
	return set, nil
}

// InvalidateCollections drops the cached collections view, forcing the next
// GetCollections call to refetch.
func (c *Client) InvalidateCollections() {
	c.collectionsCache.Delete("all")
}

// AddToCollection adds an item to a collection or playlist. Memberships are
// only ever added; nothing in this client removes one.
func (c *Client) AddToCollection(ctx context.Context, membershipName, resourceID, itemID string) error {
	if models.IsPlaylist(membershipName) {
		payload := map[string]interface{}{
			"items": []map[string]string{{"libraryItemId": itemID}},
		}
		return c.send(ctx, http.MethodPost, "/playlists/"+resourceID+"/batch/add", payload)
	}
	payload := map[string]interface{}{
		"books": []string{itemID},
	}
	return c.send(ctx, http.MethodPost, "/collections/"+resourceID+"/batch/add", payload)
}
