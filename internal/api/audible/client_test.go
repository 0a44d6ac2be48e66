package audible

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRegions(t *testing.T) {
	assert.Equal(t, "https://api.audible.com", NewClient("", 0, nil).baseURL)
	assert.Equal(t, "https://api.audible.de", NewClient(".de", 0, nil).baseURL)
}

func TestSearchByTitleAuthor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1.0/catalog/products", r.URL.Path)
		assert.Equal(t, "Dune", r.URL.Query().Get("title"))
		assert.Equal(t, "Frank Herbert", r.URL.Query().Get("author"))
		assert.Equal(t, "10", r.URL.Query().Get("num_results"))

		json.NewEncoder(w).Encode(searchResponse{
			Products: []Product{
				{ASIN: "B002V1OF70", Title: "Dune"},
				{ASIN: "", Title: "no asin entry"},
				{ASIN: "B08G9PRS1K", Title: "Dune (Dramatized)"},
			},
			TotalResults: 3,
		})
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, 10, nil)
	asins, err := client.SearchByTitleAuthor(context.Background(), "Dune", "Frank Herbert")
	require.NoError(t, err)
	assert.Equal(t, []string{"B002V1OF70", "B08G9PRS1K"}, asins)
}

func TestSearchRequiresTitle(t *testing.T) {
	client := NewClientWithBaseURL("http://unused.invalid", 10, nil)
	_, err := client.SearchByTitleAuthor(context.Background(), "", "Frank Herbert")
	assert.Error(t, err)
}

func TestSearchRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(searchResponse{
			Products: []Product{{ASIN: "B0RETRY"}},
		})
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, 5, nil)
	asins, err := client.SearchByTitleAuthor(context.Background(), "Dune", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"B0RETRY"}, asins)
	assert.Equal(t, 2, attempts)
}

func TestSearchClientErrorNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, 5, nil)
	_, err := client.SearchByTitleAuthor(context.Background(), "Dune", "")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
