package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/api/audiobookshelf"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/library"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/mapper"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/models"
)

// fakeRemote is an in-memory RemoteClient
type fakeRemote struct {
	items       []models.AudiobookshelfItem
	progress    *models.UserProgress
	memberships *models.CollectionSet
	sessions    map[string][]models.ListeningSession

	updateErrs  []error
	updates     []map[string]interface{}
	added       []string
	invalidated int

	onSessions func(itemID string)
}

func (f *fakeRemote) ListItems(ctx context.Context, libraryIDs []string) ([]models.AudiobookshelfItem, error) {
	return f.items, nil
}

func (f *fakeRemote) GetItem(ctx context.Context, itemID string) (*models.AudiobookshelfItem, error) {
	for i := range f.items {
		if f.items[i].ID == itemID {
			return &f.items[i], nil
		}
	}
	return nil, audiobookshelf.WithItemID(&audiobookshelf.APIError{StatusCode: 404, Body: "not found"}, itemID)
}

func (f *fakeRemote) GetUserProgress(ctx context.Context) (*models.UserProgress, error) {
	if f.progress != nil {
		return f.progress, nil
	}
	return &models.UserProgress{}, nil
}

func (f *fakeRemote) GetItemSessions(ctx context.Context, itemID string) ([]models.ListeningSession, error) {
	if f.onSessions != nil {
		f.onSessions(itemID)
	}
	return f.sessions[itemID], nil
}

func (f *fakeRemote) GetCollections(ctx context.Context) (*models.CollectionSet, error) {
	if f.memberships != nil {
		return f.memberships, nil
	}
	return &models.CollectionSet{ByItem: map[string][]string{}, IDs: map[string]string{}}, nil
}

func (f *fakeRemote) UpdateItemMetadata(ctx context.Context, itemID string, payload map[string]interface{}) error {
	f.updates = append(f.updates, payload)
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		return err
	}
	return nil
}

func (f *fakeRemote) AddToCollection(ctx context.Context, membershipName, resourceID, itemID string) error {
	f.added = append(f.added, membershipName+":"+itemID)
	return nil
}

func (f *fakeRemote) InvalidateCollections() {
	f.invalidated++
}

func newTestStore(t *testing.T) *library.Store {
	t.Helper()
	db, err := library.NewDatabase(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return library.NewStore(db, nil)
}

func linkedRecord(t *testing.T, store *library.Store, title, linkKey string) *library.LocalRecord {
	t.Helper()
	rec := &library.LocalRecord{Title: title, LinkKey: linkKey}
	require.NoError(t, store.CreateRecord(rec))
	return rec
}

func bookItem(id, title string) models.AudiobookshelfItem {
	item := models.AudiobookshelfItem{ID: id}
	item.Media.Duration = 64800
	item.Media.Metadata.Title = title
	item.Media.Metadata.AuthorName = "Frank Herbert"
	return item
}

func TestRunSyncHappyPath(t *testing.T) {
	store := newTestStore(t)
	rec := linkedRecord(t, store, "Dune", "li_dune")

	remote := &fakeRemote{
		items: []models.AudiobookshelfItem{bookItem("li_dune", "Dune")},
		progress: &models.UserProgress{
			MediaProgress: []models.MediaProgress{
				{LibraryItemID: "li_dune", CurrentTime: 32400, LastUpdate: 1735689600000},
			},
		},
	}

	o := NewOrchestrator(store, remote, Config{Workers: 1, DecimalPrecision: 2}, nil)
	report, err := o.RunSync(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.NotEmpty(t, report.RunID)

	res := report.Results[0]
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, rec.ID, res.RecordID)
	assert.Equal(t, len(mapper.AllRoles), res.FieldsWritten)

	fields, err := store.GetFields(rec.ID)
	require.NoError(t, err)
	assert.True(t, fields[mapper.RoleProgress].Equal(mapper.NumberValue(50)))
	assert.True(t, fields[mapper.RoleProgressTime].Equal(mapper.TextValue("9:00")))
	assert.True(t, fields[mapper.RoleTimeRemaining].Equal(mapper.TextValue("9:00")))

	snap, err := store.GetSnapshot(rec.ID)
	require.NoError(t, err)
	assert.Len(t, snap, len(mapper.AllRoles))
}

func TestRunSyncResultsKeepScopeOrder(t *testing.T) {
	store := newTestStore(t)
	var ids []uint
	var items []models.AudiobookshelfItem
	for i := 1; i <= 5; i++ {
		itemID := fmt.Sprintf("li_%d", i)
		rec := linkedRecord(t, store, fmt.Sprintf("Book %d", i), itemID)
		ids = append(ids, rec.ID)
		items = append(items, bookItem(itemID, fmt.Sprintf("Book %d", i)))
	}

	remote := &fakeRemote{items: items}
	o := NewOrchestrator(store, remote, Config{Workers: 4}, nil)

	// Reverse scope: the report must follow it regardless of worker timing
	scope := []uint{ids[4], ids[2], ids[0]}
	report, err := o.RunSync(context.Background(), scope)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, ids[4], report.Results[0].RecordID)
	assert.Equal(t, ids[2], report.Results[1].RecordID)
	assert.Equal(t, ids[0], report.Results[2].RecordID)
}

func TestRunSyncScopeErrors(t *testing.T) {
	store := newTestStore(t)
	unlinked := &library.LocalRecord{Title: "Hyperion"}
	require.NoError(t, store.CreateRecord(unlinked))

	remote := &fakeRemote{}
	o := NewOrchestrator(store, remote, Config{Workers: 1}, nil)

	report, err := o.RunSync(context.Background(), []uint{9999, unlinked.ID})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	assert.Equal(t, StateFailed, report.Results[0].State)
	assert.Equal(t, FailureNotFound, report.Results[0].Failure)
	assert.Equal(t, StateSkipped, report.Results[1].State)
}

func TestRunSyncStaleLinkSkipped(t *testing.T) {
	store := newTestStore(t)
	rec := linkedRecord(t, store, "Dune", "li_dune")
	require.NoError(t, store.MarkLinkStale(rec.ID))

	remote := &fakeRemote{items: []models.AudiobookshelfItem{bookItem("li_dune", "Dune")}}
	o := NewOrchestrator(store, remote, Config{Workers: 1}, nil)

	report, err := o.RunSync(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, StateSkipped, report.Results[0].State)
}

func TestRunSyncVanishedItemSkipsAndMarksLinkStale(t *testing.T) {
	store := newTestStore(t)
	rec := linkedRecord(t, store, "Dune", "li_gone")

	remote := &fakeRemote{items: []models.AudiobookshelfItem{bookItem("li_other", "Other")}}
	o := NewOrchestrator(store, remote, Config{Workers: 1}, nil)

	report, err := o.RunSync(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, StateSkipped, report.Results[0].State)
	assert.Equal(t, FailureNotFound, report.Results[0].Failure)
	assert.Contains(t, report.Results[0].Reason, "link marked stale")

	got, err := store.GetRecord(rec.ID)
	require.NoError(t, err)
	assert.True(t, got.LinkStale)
	assert.Equal(t, "li_gone", got.LinkKey)
}

func TestRunSyncCancellationAtRecordBoundary(t *testing.T) {
	store := newTestStore(t)
	var items []models.AudiobookshelfItem
	for i := 1; i <= 5; i++ {
		itemID := fmt.Sprintf("li_%d", i)
		linkedRecord(t, store, fmt.Sprintf("Book %d", i), itemID)
		items = append(items, bookItem(itemID, fmt.Sprintf("Book %d", i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	processed := 0
	remote := &fakeRemote{
		items: items,
		onSessions: func(itemID string) {
			processed++
			if processed == 3 {
				cancel()
			}
		},
	}

	o := NewOrchestrator(store, remote, Config{Workers: 1}, nil)
	report, err := o.RunSync(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 5)

	// The record in flight when cancellation hit still finishes
	for i := 0; i < 3; i++ {
		assert.Equal(t, StateDone, report.Results[i].State, "record %d", i+1)
	}
	for i := 3; i < 5; i++ {
		assert.Equal(t, StateSkipped, report.Results[i].State, "record %d", i+1)
		assert.Equal(t, FailureCanceled, report.Results[i].Failure, "record %d", i+1)
	}
}

func TestRunSyncSkipsFinishedUnchanged(t *testing.T) {
	store := newTestStore(t)
	linkedRecord(t, store, "Dune", "li_dune")

	remote := &fakeRemote{
		items: []models.AudiobookshelfItem{bookItem("li_dune", "Dune")},
		progress: &models.UserProgress{
			MediaProgress: []models.MediaProgress{
				{LibraryItemID: "li_dune", CurrentTime: 64800, IsFinished: true, LastUpdate: 1735689600000},
			},
		},
	}

	o := NewOrchestrator(store, remote, Config{Workers: 1, SkipFinished: true}, nil)

	first, err := o.RunSync(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateDone, first.Results[0].State)

	second, err := o.RunSync(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, second.Results[0].State)

	// New progress data syncs again even though the book stays finished
	remote.progress.MediaProgress[0].LastUpdate = 1735776000000
	third, err := o.RunSync(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateDone, third.Results[0].State)
}

func TestRunSyncWritebackKeepsLocalEdit(t *testing.T) {
	store := newTestStore(t)
	rec := linkedRecord(t, store, "Dune", "li_dune")

	remote := &fakeRemote{items: []models.AudiobookshelfItem{bookItem("li_dune", "Dune")}}

	o := NewOrchestrator(store, remote, Config{Workers: 1, Writeback: true}, nil)
	_, err := o.RunSync(context.Background(), nil)
	require.NoError(t, err)

	// Local edit after the first sync
	require.NoError(t, store.SetField(rec.ID, mapper.RoleTitle, mapper.TextValue("Dune: Deluxe Edition")))

	report, err := o.RunSync(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.Results[0].State)

	// The edit was pushed to the server
	require.Len(t, remote.updates, 1)
	metadata, ok := remote.updates[0]["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Dune: Deluxe Edition", metadata["title"])

	// And the local value survives instead of reverting to the remote title
	fields, err := store.GetFields(rec.ID)
	require.NoError(t, err)
	assert.True(t, fields[mapper.RoleTitle].Equal(mapper.TextValue("Dune: Deluxe Edition")))
}
