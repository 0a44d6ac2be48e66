package audiobookshelf

import (
	"errors"
	"fmt"
)

// Sentinel errors for classifying API failures. Callers match these with
// errors.Is to decide whether a record is skipped, failed or retried.
var (
	// ErrNotFound indicates the requested resource does not exist on the server
	ErrNotFound = errors.New("resource not found")
	// ErrPermission indicates the credential lacks the required permission
	ErrPermission = errors.New("permission denied")
	// ErrConflict indicates the resource changed between fetch and write
	ErrConflict = errors.New("resource conflict")
)

// APIError is an error response from the Audiobookshelf API
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("audiobookshelf API error %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps the HTTP status onto the matching sentinel error
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case 404:
		return ErrNotFound
	case 401, 403:
		return ErrPermission
	case 409:
		return ErrConflict
	}
	return nil
}

// ItemError is a custom error type that includes a library item ID.
// It is used to pass item IDs through error chains without string parsing.
type ItemError struct {
	Err    error
	ItemID string
}

// Error implements the error interface
func (e *ItemError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s (item ID: %s)", e.Err.Error(), e.ItemID)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *ItemError) Unwrap() error {
	return e.Err
}

// WithItemID wraps an error with a library item ID
func WithItemID(err error, itemID string) error {
	if err == nil {
		return nil
	}
	return &ItemError{
		Err:    err,
		ItemID: itemID,
	}
}

// GetItemID returns the item ID from an error if it's an ItemError
func GetItemID(err error) (string, bool) {
	var itemErr *ItemError
	if errors.As(err, &itemErr) {
		return itemErr.ItemID, itemErr.ItemID != ""
	}
	return "", false
}
