package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/api/audiobookshelf"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/library"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/logger"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/mapper"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/models"
)

// RemoteClient is the server surface the orchestrator needs. The
// Audiobookshelf client satisfies it; tests substitute fakes.
type RemoteClient interface {
	RemoteWriter
	ListItems(ctx context.Context, libraryIDs []string) ([]models.AudiobookshelfItem, error)
	GetItem(ctx context.Context, itemID string) (*models.AudiobookshelfItem, error)
	GetUserProgress(ctx context.Context) (*models.UserProgress, error)
	GetItemSessions(ctx context.Context, itemID string) ([]models.ListeningSession, error)
	GetCollections(ctx context.Context) (*models.CollectionSet, error)
}

// Config holds the orchestrator's settings
type Config struct {
	// LibraryIDs restricts which remote libraries are listed; empty means all
	LibraryIDs []string
	// Workers bounds how many records are processed concurrently
	Workers int
	// SkipFinished skips finished records whose values have not changed
	SkipFinished bool
	// Writeback enables pushing local edits back to the server
	Writeback bool
	// Roles is the set of field roles to sync; empty means all
	Roles []mapper.FieldRole
	// DecimalPrecision is the rounding precision for float field values
	DecimalPrecision int
}

// Orchestrator drives a sync run: it fetches remote state, maps it onto the
// configured field roles and writes each record's fields atomically. Each
// record moves through pending, fetching, mapping and writing before ending
// done, skipped or failed; one record's failure never stops the run.
type Orchestrator struct {
	store      *library.Store
	client     RemoteClient
	reconciler *Reconciler
	cfg        Config
	logger     *logger.Logger
}

// NewOrchestrator creates a sync orchestrator
func NewOrchestrator(store *library.Store, client RemoteClient, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if log == nil {
		log = logger.Get()
	}
	return &Orchestrator{
		store:      store,
		client:     client,
		reconciler: NewReconciler(client, log),
		cfg:        cfg,
		logger: log.With(map[string]interface{}{
			"component": "sync",
		}),
	}
}

// remoteState is the server data fetched once per run and shared by workers
type remoteState struct {
	itemsByID   map[string]*models.AudiobookshelfItem
	progress    map[string]*models.MediaProgress
	bookmarks   map[string][]models.Bookmark
	memberships *models.CollectionSet
}

// RunSync synchronizes the given records. An empty scope selects every
// linked record. Results keep scope order. Cancellation takes effect at
// record boundaries: in-flight records finish, unstarted ones are skipped.
func (o *Orchestrator) RunSync(ctx context.Context, scope []uint) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}

	records, preResults, err := o.resolveScope(scope)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Starting sync run", map[string]interface{}{
		"run_id":  report.RunID,
		"records": len(records),
		"workers": o.cfg.Workers,
	})

	state, err := o.fetchRemoteState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote state: %w", err)
	}

	results := make([]RecordResult, len(records))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					results[idx] = RecordResult{
						RecordID: records[idx].ID,
						Title:    records[idx].Title,
						State:    StateSkipped,
						Failure:  FailureCanceled,
						Reason:   "run canceled",
					}
					continue
				}
				results[idx] = o.syncRecord(ctx, &records[idx], state)
			}
		}()
	}
	for idx := range records {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	report.Results = append(preResults, results...)
	report.FinishedAt = time.Now()

	done, skipped, failed := report.Counts()
	o.logger.Info("Sync run finished", map[string]interface{}{
		"run_id":  report.RunID,
		"done":    done,
		"skipped": skipped,
		"failed":  failed,
	})
	return report, nil
}

// resolveScope turns the requested scope into records to process. Scope IDs
// that do not resolve to a linked record produce report entries up front.
func (o *Orchestrator) resolveScope(scope []uint) ([]library.LocalRecord, []RecordResult, error) {
	if len(scope) == 0 {
		records, err := o.store.ListLinkedRecords()
		if err != nil {
			return nil, nil, err
		}
		return records, nil, nil
	}

	var records []library.LocalRecord
	var preResults []RecordResult
	for _, id := range scope {
		rec, err := o.store.GetRecord(id)
		if err != nil {
			if errors.Is(err, library.ErrRecordNotFound) {
				preResults = append(preResults, RecordResult{
					RecordID: id,
					State:    StateFailed,
					Failure:  FailureNotFound,
					Reason:   "record does not exist locally",
				})
				continue
			}
			return nil, nil, err
		}
		if !rec.Linked() {
			preResults = append(preResults, RecordResult{
				RecordID: id,
				Title:    rec.Title,
				State:    StateSkipped,
				Reason:   "record is not linked",
			})
			continue
		}
		records = append(records, *rec)
	}
	return records, preResults, nil
}

// fetchRemoteState pulls the shared server data once per run
func (o *Orchestrator) fetchRemoteState(ctx context.Context) (*remoteState, error) {
	items, err := o.client.ListItems(ctx, o.cfg.LibraryIDs)
	if err != nil {
		return nil, err
	}
	userProgress, err := o.client.GetUserProgress(ctx)
	if err != nil {
		return nil, err
	}
	memberships, err := o.client.GetCollections(ctx)
	if err != nil {
		return nil, err
	}

	state := &remoteState{
		itemsByID:   make(map[string]*models.AudiobookshelfItem, len(items)),
		progress:    make(map[string]*models.MediaProgress, len(userProgress.MediaProgress)),
		bookmarks:   make(map[string][]models.Bookmark),
		memberships: memberships,
	}
	for i := range items {
		state.itemsByID[items[i].ID] = &items[i]
	}
	for i := range userProgress.MediaProgress {
		p := &userProgress.MediaProgress[i]
		state.progress[p.LibraryItemID] = p
	}
	for _, b := range userProgress.Bookmarks {
		state.bookmarks[b.LibraryItemID] = append(state.bookmarks[b.LibraryItemID], b)
	}
	return state, nil
}

// syncRecord runs one record through the sync states
func (o *Orchestrator) syncRecord(ctx context.Context, rec *library.LocalRecord, state *remoteState) RecordResult {
	result := RecordResult{
		RecordID: rec.ID,
		Title:    rec.Title,
		RemoteID: rec.LinkKey,
		State:    StatePending,
	}

	if rec.LinkStale {
		result.State = StateSkipped
		result.Reason = "link is marked stale; relink the record"
		return result
	}

	// Fetching
	result.State = StateFetching
	item, err := o.fetchItem(ctx, rec, state)
	if err != nil {
		// A vanished remote item is not this record's failure: the link is
		// flagged stale and the record sits out runs until it is relinked.
		if errors.Is(err, audiobookshelf.ErrNotFound) {
			result.State = StateSkipped
			result.Failure = FailureNotFound
			result.Reason = "remote item no longer exists; link marked stale"
			return result
		}
		return o.fail(result, rec, err)
	}

	sessions, err := o.client.GetItemSessions(ctx, item.ID)
	if err != nil {
		// Sessions only feed derived statistics; losing them degrades the
		// mapping instead of failing the record.
		o.logger.Warn("Failed to fetch listening sessions", map[string]interface{}{
			"record_id": rec.ID,
			"item_id":   item.ID,
			"error":     err.Error(),
		})
		result.Warnings = append(result.Warnings, "listening sessions unavailable; derived statistics omitted")
		sessions = nil
	}

	// Mapping
	result.State = StateMapping
	progressRecord := &models.ProgressRecord{
		Progress:  state.progress[item.ID],
		Sessions:  sessions,
		Bookmarks: state.bookmarks[item.ID],
	}
	remoteNames := state.memberships.NamesFor(item.ID)
	mapped := mapper.Map(item, progressRecord, remoteNames, mapper.Config{
		Roles:            o.cfg.Roles,
		DecimalPrecision: o.cfg.DecimalPrecision,
	})

	snapshot, err := o.store.GetSnapshot(rec.ID)
	if err != nil {
		return o.fail(result, rec, err)
	}

	if o.cfg.SkipFinished && progressRecord.Progress != nil && progressRecord.Progress.IsFinished {
		if unchanged(mapped, snapshot) {
			result.State = StateSkipped
			result.Reason = "finished and unchanged since last sync"
			return result
		}
	}

	// Writing
	result.State = StateWriting
	if o.cfg.Writeback {
		current, err := o.store.GetFields(rec.ID)
		if err != nil {
			return o.fail(result, rec, err)
		}
		written, warnings, err := o.reconciler.Reconcile(ctx, rec, item, current, snapshot, remoteNames, state.memberships)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			return o.fail(result, rec, err)
		}
		// Keep the local edit: the value just pushed to the server wins
		// over the stale remote value mapped above.
		for role, value := range written {
			mapped[role] = value
		}
	}

	if err := o.store.SetFields(rec.ID, mapped); err != nil {
		return o.fail(result, rec, err)
	}

	result.State = StateDone
	result.FieldsWritten = len(mapped)
	return result
}

// fetchItem resolves the record's link key to a remote item. A vanished item
// marks the link stale; the key itself is kept for inspection.
func (o *Orchestrator) fetchItem(ctx context.Context, rec *library.LocalRecord, state *remoteState) (*models.AudiobookshelfItem, error) {
	if item, ok := state.itemsByID[rec.LinkKey]; ok {
		return item, nil
	}
	item, err := o.client.GetItem(ctx, rec.LinkKey)
	if err != nil {
		if errors.Is(err, audiobookshelf.ErrNotFound) {
			if staleErr := o.store.MarkLinkStale(rec.ID); staleErr != nil {
				o.logger.Error("Failed to mark link stale", map[string]interface{}{
					"record_id": rec.ID,
					"error":     staleErr.Error(),
				})
			}
		}
		return nil, err
	}
	return item, nil
}

// fail finalizes a record result with a classified failure
func (o *Orchestrator) fail(result RecordResult, rec *library.LocalRecord, err error) RecordResult {
	result.State = StateFailed
	result.Failure = classifyFailure(err)
	result.Reason = err.Error()
	o.logger.Error("Record sync failed", map[string]interface{}{
		"record_id": rec.ID,
		"failure":   string(result.Failure),
		"error":     err.Error(),
	})
	return result
}

// unchanged reports whether every mapped value equals its snapshot
func unchanged(mapped, snapshot map[mapper.FieldRole]mapper.Value) bool {
	for role, value := range mapped {
		snap, ok := snapshot[role]
		if !ok || !value.Equal(snap) {
			return false
		}
	}
	return true
}
