package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/api/audiobookshelf"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/library"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/logger"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/mapper"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/models"
)

// RemoteWriter is the mutating slice of the server client used by writeback
type RemoteWriter interface {
	UpdateItemMetadata(ctx context.Context, itemID string, payload map[string]interface{}) error
	AddToCollection(ctx context.Context, membershipName, resourceID, itemID string) error
	InvalidateCollections()
}

// Reconciler pushes local field edits back to the remote server. A field
// counts as locally edited when its current value differs from the snapshot
// the engine took at its last write.
//
// Scalar edits replace the remote value. Collection edits are add-only: local
// names missing remotely are added, remote memberships are never removed, and
// remote collections are never created or deleted.
type Reconciler struct {
	client RemoteWriter
	logger *logger.Logger
}

// NewReconciler creates a writeback reconciler
func NewReconciler(client RemoteWriter, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Get()
	}
	return &Reconciler{
		client: client,
		logger: log.With(map[string]interface{}{
			"component": "writeback",
		}),
	}
}

// Reconcile pushes the record's local edits to the remote item. It returns
// the values that were written back, keyed by role, so the caller can keep
// the local edit instead of overwriting it with the stale remote value.
// Warnings cover conditions that skip a single membership without failing
// the record.
func (r *Reconciler) Reconcile(ctx context.Context, rec *library.LocalRecord, item *models.AudiobookshelfItem,
	current, snapshot map[mapper.FieldRole]mapper.Value, remoteNames []string, memberships *models.CollectionSet) (map[mapper.FieldRole]mapper.Value, []string, error) {

	written := make(map[mapper.FieldRole]mapper.Value)
	var warnings []string

	payload := make(map[string]interface{})
	metadata := make(map[string]interface{})

	for role, value := range current {
		if !role.WritebackEligible() {
			continue
		}
		snap, ok := snapshot[role]
		if !ok || value.Equal(snap) {
			continue
		}

		if role == mapper.RoleCollections {
			union, collectionWarnings, err := r.reconcileCollections(ctx, item.ID, value, remoteNames, memberships)
			if err != nil {
				return written, warnings, err
			}
			warnings = append(warnings, collectionWarnings...)
			written[role] = union
			continue
		}

		applyScalarEdit(metadata, payload, role, value)
		written[role] = value
	}

	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	if len(payload) > 0 {
		if err := r.updateWithConflictRetry(ctx, item.ID, payload); err != nil {
			return nil, warnings, err
		}
		r.logger.Info("Wrote local edits to server", map[string]interface{}{
			"record_id": rec.ID,
			"item_id":   item.ID,
			"fields":    len(written),
		})
	}

	return written, warnings, nil
}

// updateWithConflictRetry sends the metadata patch. A conflict response gets
// exactly one retry; any other failure is final since mutations must not be
// replayed blindly.
func (r *Reconciler) updateWithConflictRetry(ctx context.Context, itemID string, payload map[string]interface{}) error {
	err := r.client.UpdateItemMetadata(ctx, itemID, payload)
	if err == nil {
		return nil
	}
	if !errors.Is(err, audiobookshelf.ErrConflict) {
		return err
	}
	r.logger.Warn("Metadata update conflicted, retrying once", map[string]interface{}{
		"item_id": itemID,
	})
	return r.client.UpdateItemMetadata(ctx, itemID, payload)
}

// reconcileCollections performs the add-only membership union. The returned
// value is the union in remote-first order: existing remote memberships keep
// their order, newly added local names follow in local order.
func (r *Reconciler) reconcileCollections(ctx context.Context, itemID string, local mapper.Value,
	remoteNames []string, memberships *models.CollectionSet) (mapper.Value, []string, error) {

	remote := make(map[string]bool, len(remoteNames))
	union := append([]string(nil), remoteNames...)
	for _, name := range remoteNames {
		remote[name] = true
	}

	var warnings []string
	added := false
	for _, name := range local.List {
		if remote[name] {
			continue
		}
		resourceID, known := memberships.IDs[name]
		if !known {
			warnings = append(warnings, fmt.Sprintf("collection %q does not exist on the server; skipped", name))
			continue
		}
		if err := r.client.AddToCollection(ctx, name, resourceID, itemID); err != nil {
			return mapper.ListValue(union), warnings, err
		}
		union = append(union, name)
		remote[name] = true
		added = true
	}
	if added {
		r.client.InvalidateCollections()
	}

	if len(union) == 0 {
		return mapper.Empty(), warnings, nil
	}
	return mapper.ListValue(union), warnings, nil
}

// applyScalarEdit places one edited field into the patch payload using the
// server's media update shapes.
func applyScalarEdit(metadata, payload map[string]interface{}, role mapper.FieldRole, value mapper.Value) {
	switch role {
	case mapper.RoleTitle:
		metadata["title"] = value.Text
	case mapper.RoleSubtitle:
		metadata["subtitle"] = value.Text
	case mapper.RoleAuthor:
		authors := make([]map[string]string, 0, len(value.List))
		for _, name := range value.List {
			authors = append(authors, map[string]string{"name": name})
		}
		metadata["authors"] = authors
	case mapper.RoleNarrator:
		metadata["narrators"] = value.List
	case mapper.RoleSeries:
		name, sequence := splitSeries(value.Text)
		series := map[string]string{"name": name}
		if sequence != "" {
			series["sequence"] = sequence
		}
		metadata["series"] = []map[string]string{series}
	case mapper.RolePublisher:
		metadata["publisher"] = value.Text
	case mapper.RolePublishedYear:
		metadata["publishedYear"] = value.Text
	case mapper.RoleGenres:
		metadata["genres"] = value.List
	case mapper.RoleLanguage:
		metadata["language"] = value.Text
	case mapper.RoleAbridged:
		metadata["abridged"] = value.Bool
	case mapper.RoleExplicit:
		metadata["explicit"] = value.Bool
	case mapper.RoleTags:
		payload["tags"] = value.List
	}
}

// splitSeries splits "Name #3" into the series name and sequence
func splitSeries(s string) (name, sequence string) {
	idx := strings.LastIndex(s, " #")
	if idx < 0 {
		return strings.TrimSpace(s), ""
	}
	seq := strings.TrimSpace(s[idx+2:])
	if _, err := strconv.ParseFloat(seq, 64); err != nil {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(s[:idx]), seq
}
