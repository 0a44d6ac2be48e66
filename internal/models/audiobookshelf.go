package models

// AudiobookshelfLibrary represents a library on the Audiobookshelf server
type AudiobookshelfLibrary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
}

// AudiobookshelfItem represents a library item from the Audiobookshelf API
type AudiobookshelfItem struct {
	ID          string  `json:"id"`
	LibraryID   string  `json:"libraryId"`
	LibraryName string  `json:"libraryName,omitempty"`
	Path        string  `json:"path"`
	MediaType   string  `json:"mediaType"`
	Size        int64   `json:"size"`
	NumFiles    int     `json:"numFiles"`
	Media       struct {
		ID          string  `json:"id"`
		Duration    float64 `json:"duration"`
		NumChapters int     `json:"numChapters"`
		CoverPath   string  `json:"coverPath"`
		Metadata    struct {
			Title         string   `json:"title"`
			Subtitle      string   `json:"subtitle"`
			AuthorName    string   `json:"authorName"`
			NarratorName  string   `json:"narratorName"`
			SeriesName    string   `json:"seriesName"`
			Genres        []string `json:"genres"`
			PublishedYear string   `json:"publishedYear"`
			Publisher     string   `json:"publisher"`
			Description   string   `json:"description"`
			ISBN          string   `json:"isbn"`
			ASIN          string   `json:"asin"`
			Language      string   `json:"language"`
			Explicit      bool     `json:"explicit"`
			Abridged      bool     `json:"abridged"`
		} `json:"metadata"`
		Tags []string `json:"tags"`
	} `json:"media"`
}

// AudiobookshelfItemsResponse represents the response when fetching library items
type AudiobookshelfItemsResponse struct {
	Results []AudiobookshelfItem `json:"results"`
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Page    int                  `json:"page"`
}
