package models

// PlaylistPrefix distinguishes playlist memberships from collection memberships
// in the flattened collections field. Playlists and collections are separate
// resources on the server but a single list-valued field locally.
const PlaylistPrefix = "PL "

// Collection represents an Audiobookshelf collection
type Collection struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Books []struct {
		ID string `json:"id"`
	} `json:"books"`
}

// Playlist represents an Audiobookshelf playlist
type Playlist struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Items []struct {
		LibraryItemID string `json:"libraryItemId"`
	} `json:"items"`
}

// CollectionSet is the flattened view of collections and playlists:
// item ID -> membership names, and membership name -> resource ID.
// Playlist names carry the PlaylistPrefix.
type CollectionSet struct {
	ByItem map[string][]string
	IDs    map[string]string
}

// NamesFor returns the membership names for an item, never nil
func (cs *CollectionSet) NamesFor(itemID string) []string {
	if cs == nil || cs.ByItem == nil {
		return nil
	}
	return cs.ByItem[itemID]
}

// IsPlaylist reports whether a membership name refers to a playlist
func IsPlaylist(name string) bool {
	return len(name) >= len(PlaylistPrefix) && name[:len(PlaylistPrefix)] == PlaylistPrefix
}
