package linker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xrash/smetrics"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/library"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/logger"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/mapper"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/models"
)

// minConfidence is the score below which a remote item is not offered as a
// candidate at all. Jaro-Winkler scores unrelated strings near 0.5, so the
// floor sits well above that.
const minConfidence = 0.6

// CatalogClient searches a third-party catalog for audiobook identifiers.
// Both the Audible and the Hardcover client satisfy it.
type CatalogClient interface {
	SearchByTitleAuthor(ctx context.Context, title, author string) ([]string, error)
}

// Candidate is a remote item offered as a possible match for a local record
type Candidate struct {
	Item       models.AudiobookshelfItem
	Confidence float64
}

// Config holds the resolver's tuning knobs
type Config struct {
	// TieThreshold is the confidence delta below which the two best
	// candidates count as tied. Zero disables tie detection and the best
	// candidate always wins.
	TieThreshold float64
	// NegativeCache controls whether no-match outcomes are cached
	NegativeCache bool
}

// Resolver links local records to remote library items. Resolution is
// deterministic: identical inputs always produce the same candidate ranking.
type Resolver struct {
	store   *library.Store
	cache   *MatchCache
	catalog CatalogClient
	logger  *logger.Logger
	cfg     Config
}

// NewResolver creates a resolver. catalog may be nil when quick-linking is
// not used.
func NewResolver(store *library.Store, cache *MatchCache, catalog CatalogClient, cfg Config, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Get()
	}
	return &Resolver{
		store:   store,
		cache:   cache,
		catalog: catalog,
		cfg:     cfg,
		logger: log.With(map[string]interface{}{
			"component": "linker",
		}),
	}
}

// FindCandidates ranks remote items by similarity to the local record.
// A record without a title yields no candidates and triggers no scoring.
// An exact identifier match outranks any textual similarity.
func (r *Resolver) FindCandidates(rec *library.LocalRecord, items []models.AudiobookshelfItem) []Candidate {
	title := normalize(rec.Title)
	if title == "" {
		return nil
	}
	authors := rec.AuthorList()
	localASIN := r.recordASIN(rec)

	var identifierMatches, textMatches []Candidate
	for _, item := range items {
		if localASIN != "" && strings.EqualFold(item.Media.Metadata.ASIN, localASIN) {
			identifierMatches = append(identifierMatches, Candidate{Item: item, Confidence: 1.0})
			continue
		}
		confidence := scoreItem(title, authors, &item)
		if confidence < minConfidence {
			continue
		}
		textMatches = append(textMatches, Candidate{Item: item, Confidence: confidence})
	}

	// Stable sort keeps the server's item order for equal scores, so the
	// ranking is reproducible run to run.
	sort.SliceStable(textMatches, func(i, j int) bool {
		return textMatches[i].Confidence > textMatches[j].Confidence
	})
	return append(identifierMatches, textMatches...)
}

// AutoLink resolves a record against the remote items by similarity and links
// it to the winner. A tie within the configured threshold returns an
// AmbiguousMatchError and leaves the record unlinked.
func (r *Resolver) AutoLink(ctx context.Context, rec *library.LocalRecord, items []models.AudiobookshelfItem) (string, error) {
	signature := Signature(rec.Title, rec.Authors)
	unlock := r.cache.LockSignature(signature)
	defer unlock()

	if remoteID, err, done := r.resolveFromCache(rec, signature, items); done {
		return remoteID, err
	}

	candidates := r.FindCandidates(rec, items)
	if len(candidates) == 0 {
		if r.cfg.NegativeCache {
			r.cache.StoreNegative(signature)
		}
		return "", ErrNoMatch
	}
	if r.cfg.TieThreshold > 0 && len(candidates) > 1 {
		if candidates[0].Confidence-candidates[1].Confidence < r.cfg.TieThreshold {
			return "", &AmbiguousMatchError{RecordID: rec.ID, Candidates: candidates}
		}
	}

	winner := candidates[0].Item.ID
	if err := r.link(rec, signature, winner); err != nil {
		return "", err
	}
	r.logger.Info("Record auto-linked", map[string]interface{}{
		"record_id":  rec.ID,
		"remote_id":  winner,
		"confidence": candidates[0].Confidence,
	})
	return winner, nil
}

// QuickLink resolves a record through the catalog provider: the provider is
// searched by title and author, and the returned identifiers are intersected
// with the remote items' identifiers. The record is linked only when exactly
// one remote item survives the intersection. Both a title and an author are
// required; a record missing either yields no match without contacting the
// provider.
func (r *Resolver) QuickLink(ctx context.Context, rec *library.LocalRecord, items []models.AudiobookshelfItem) (string, error) {
	if normalize(rec.Title) == "" {
		return "", ErrNoMatch
	}
	authors := rec.AuthorList()
	if len(authors) == 0 {
		return "", ErrNoMatch
	}

	signature := Signature(rec.Title, rec.Authors)
	unlock := r.cache.LockSignature(signature)
	defer unlock()

	if remoteID, err, done := r.resolveFromCache(rec, signature, items); done {
		return remoteID, err
	}

	asins, err := r.catalog.SearchByTitleAuthor(ctx, rec.Title, authors[0])
	if err != nil {
		return "", err
	}

	byASIN := make(map[string][]models.AudiobookshelfItem)
	for _, item := range items {
		if asin := strings.ToUpper(item.Media.Metadata.ASIN); asin != "" {
			byASIN[asin] = append(byASIN[asin], item)
		}
	}

	var matched []models.AudiobookshelfItem
	seen := make(map[string]bool)
	for _, asin := range asins {
		for _, item := range byASIN[strings.ToUpper(asin)] {
			if !seen[item.ID] {
				seen[item.ID] = true
				matched = append(matched, item)
			}
		}
	}

	switch len(matched) {
	case 0:
		if r.cfg.NegativeCache {
			r.cache.StoreNegative(signature)
		}
		return "", ErrNoMatch
	case 1:
		winner := matched[0].ID
		if err := r.link(rec, signature, winner); err != nil {
			return "", err
		}
		r.logger.Info("Record quick-linked", map[string]interface{}{
			"record_id": rec.ID,
			"remote_id": winner,
			"asin":      matched[0].Media.Metadata.ASIN,
		})
		return winner, nil
	default:
		candidates := make([]Candidate, 0, len(matched))
		for i, item := range matched {
			candidates = append(candidates, Candidate{
				Item:       item,
				Confidence: 1.0 - float64(i)/float64(len(matched)),
			})
		}
		return "", &AmbiguousMatchError{RecordID: rec.ID, Candidates: candidates}
	}
}

// Link links a record to an explicitly chosen remote item, bypassing scoring.
// The item must exist in the remote listing.
func (r *Resolver) Link(rec *library.LocalRecord, items []models.AudiobookshelfItem, remoteID string) error {
	found := false
	for i := range items {
		if items[i].ID == remoteID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("remote item %q not found: %w", remoteID, ErrNoMatch)
	}

	signature := Signature(rec.Title, rec.Authors)
	unlock := r.cache.LockSignature(signature)
	defer unlock()

	if err := r.link(rec, signature, remoteID); err != nil {
		return err
	}
	r.logger.Info("Record linked", map[string]interface{}{
		"record_id": rec.ID,
		"remote_id": remoteID,
	})
	return nil
}

// Unlink clears a record's link and drops its cached match so a later link
// attempt resolves fresh instead of replaying the old outcome.
func (r *Resolver) Unlink(rec *library.LocalRecord) error {
	if err := r.store.ClearLinkKey(rec.ID); err != nil {
		return err
	}
	rec.LinkKey = ""
	rec.LinkStale = false
	r.cache.Invalidate(Signature(rec.Title, rec.Authors))
	r.logger.Info("Record unlinked", map[string]interface{}{
		"record_id": rec.ID,
	})
	return nil
}

// resolveFromCache consults the match cache. done reports whether the cache
// settled resolution: a positive hit whose remote item still exists links the
// record, a negative hit short-circuits to no match. A positive hit naming a
// vanished item is dropped so resolution can retry.
func (r *Resolver) resolveFromCache(rec *library.LocalRecord, signature string, items []models.AudiobookshelfItem) (string, error, bool) {
	entry, ok := r.cache.Lookup(signature)
	if !ok {
		return "", nil, false
	}
	if entry.Negative {
		return "", ErrNoMatch, true
	}
	for _, item := range items {
		if item.ID == entry.RemoteID {
			if err := r.link(rec, "", entry.RemoteID); err != nil {
				return "", err, true
			}
			return entry.RemoteID, nil, true
		}
	}
	r.cache.Invalidate(signature)
	return "", nil, false
}

// link persists the link and (when signature is non-empty) the cache entry
func (r *Resolver) link(rec *library.LocalRecord, signature, remoteID string) error {
	if err := r.store.SetLinkKey(rec.ID, remoteID); err != nil {
		return err
	}
	rec.LinkKey = remoteID
	rec.LinkStale = false
	if signature != "" {
		r.cache.StorePositive(signature, remoteID)
	}
	return nil
}

// recordASIN reads the record's stored identifier, degrading to empty on any
// store failure
func (r *Resolver) recordASIN(rec *library.LocalRecord) string {
	fields, err := r.store.GetFields(rec.ID)
	if err != nil {
		return ""
	}
	if v, ok := fields[mapper.RoleASIN]; ok && v.Kind == mapper.KindText {
		return v.Text
	}
	return ""
}

// scoreItem computes the similarity confidence between a local record and a
// remote item. Title similarity dominates; author similarity breaks near-ties.
func scoreItem(normalizedTitle string, authors []string, item *models.AudiobookshelfItem) float64 {
	itemTitle := normalize(item.Media.Metadata.Title)
	if itemTitle == "" {
		return 0
	}
	titleScore := smetrics.JaroWinkler(normalizedTitle, itemTitle, 0.7, 4)

	authorScore := 0.0
	if len(authors) > 0 {
		itemAuthors := splitAuthors(item.Media.Metadata.AuthorName)
		for _, a := range authors {
			for _, b := range itemAuthors {
				if s := smetrics.JaroWinkler(normalize(a), normalize(b), 0.7, 4); s > authorScore {
					authorScore = s
				}
			}
		}
	} else {
		// Without local authors the title has to carry the decision
		authorScore = titleScore
	}

	return 0.75*titleScore + 0.25*authorScore
}

// splitAuthors splits the server's comma-separated author string
func splitAuthors(names string) []string {
	parts := strings.Split(names, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
