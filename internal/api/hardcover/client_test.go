package hardcover

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchByTitleAuthor(t *testing.T) {
	var gotAuth string
	var gotVariables map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var body struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotVariables = body.Variables
		assert.Contains(t, body.Query, "editions")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"editions": []map[string]string{
					{"asin": "B002V1OF70", "title": "Dune"},
					{"asin": "B002V1OF70", "title": "Dune"},
					{"asin": "B08G9PRS1K", "title": "Dune (Dramatized)"},
					{"asin": "", "title": "no asin"},
				},
			},
		})
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "tok", 10, nil)
	asins, err := client.SearchByTitleAuthor(context.Background(), "Dune", "Frank Herbert")
	require.NoError(t, err)

	// Duplicates and blank identifiers are dropped, order preserved
	assert.Equal(t, []string{"B002V1OF70", "B08G9PRS1K"}, asins)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "Dune", gotVariables["title"])
	assert.Equal(t, "Frank Herbert", gotVariables["author"])
	assert.Equal(t, float64(10), gotVariables["limit"])
}

func TestSearchRequiresTitle(t *testing.T) {
	client := NewClientWithBaseURL("http://unused.invalid", "tok", 10, nil)
	_, err := client.SearchByTitleAuthor(context.Background(), "", "Frank Herbert")
	assert.Error(t, err)
}

func TestSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]string{{"message": "query rejected"}},
		})
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "tok", 10, nil)
	_, err := client.SearchByTitleAuthor(context.Background(), "Dune", "Frank Herbert")
	assert.Error(t, err)
}

func TestTokenPrefixNormalized(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"editions": []map[string]string{}},
		})
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "Bearer already-prefixed", 10, nil)
	_, err := client.SearchByTitleAuthor(context.Background(), "Dune", "")
	require.NoError(t, err)
	assert.Equal(t, "Bearer already-prefixed", gotAuth)
}
