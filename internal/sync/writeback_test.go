package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/api/audiobookshelf"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/library"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/mapper"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/models"
)

func testMemberships() *models.CollectionSet {
	return &models.CollectionSet{
		ByItem: map[string][]string{"li_dune": {"B", "C"}},
		IDs:    map[string]string{"A": "col_a", "B": "col_b", "C": "col_c"},
	}
}

func reconcile(t *testing.T, remote *fakeRemote, current, snapshot map[mapper.FieldRole]mapper.Value) (map[mapper.FieldRole]mapper.Value, []string, error) {
	t.Helper()
	r := NewReconciler(remote, nil)
	rec := &library.LocalRecord{ID: 1, Title: "Dune", LinkKey: "li_dune"}
	item := bookItem("li_dune", "Dune")
	return r.Reconcile(context.Background(), rec, &item, current, snapshot, testMemberships().ByItem["li_dune"], testMemberships())
}

func TestReconcileCollectionsAddOnlyUnion(t *testing.T) {
	remote := &fakeRemote{}
	current := map[mapper.FieldRole]mapper.Value{
		mapper.RoleCollections: mapper.ListValue([]string{"A", "B"}),
	}
	snapshot := map[mapper.FieldRole]mapper.Value{
		mapper.RoleCollections: mapper.ListValue([]string{"B", "C"}),
	}

	written, warnings, err := reconcile(t, remote, current, snapshot)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// Only the new local name is added; existing remote memberships stay
	assert.Equal(t, []string{"A:li_dune"}, remote.added)
	assert.Equal(t, 1, remote.invalidated)

	union := written[mapper.RoleCollections]
	require.Equal(t, mapper.KindTextList, union.Kind)
	assert.Equal(t, []string{"B", "C", "A"}, union.List)
}

func TestReconcileCollectionsUnknownNameWarns(t *testing.T) {
	remote := &fakeRemote{}
	current := map[mapper.FieldRole]mapper.Value{
		mapper.RoleCollections: mapper.ListValue([]string{"Does Not Exist", "A"}),
	}
	snapshot := map[mapper.FieldRole]mapper.Value{
		mapper.RoleCollections: mapper.ListValue([]string{"B", "C"}),
	}

	written, warnings, err := reconcile(t, remote, current, snapshot)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "Does Not Exist")

	// The unknown name is skipped, the known one added, nothing created
	assert.Equal(t, []string{"A:li_dune"}, remote.added)
	assert.Equal(t, []string{"B", "C", "A"}, written[mapper.RoleCollections].List)
}

func TestReconcileCollectionsNoLocalChange(t *testing.T) {
	remote := &fakeRemote{}
	value := mapper.ListValue([]string{"B", "C"})
	current := map[mapper.FieldRole]mapper.Value{mapper.RoleCollections: value}
	snapshot := map[mapper.FieldRole]mapper.Value{mapper.RoleCollections: value}

	written, warnings, err := reconcile(t, remote, current, snapshot)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Empty(t, written)
	assert.Empty(t, remote.added)
	assert.Zero(t, remote.invalidated)
}

func TestReconcileScalarEditsReplace(t *testing.T) {
	remote := &fakeRemote{}
	current := map[mapper.FieldRole]mapper.Value{
		mapper.RoleTitle:  mapper.TextValue("Dune: Deluxe Edition"),
		mapper.RoleAuthor: mapper.ListValue([]string{"Frank Herbert", "Brian Herbert"}),
		mapper.RoleSeries: mapper.TextValue("Dune #1"),
		mapper.RoleTags:   mapper.ListValue([]string{"sci-fi"}),
	}
	snapshot := map[mapper.FieldRole]mapper.Value{
		mapper.RoleTitle:  mapper.TextValue("Dune"),
		mapper.RoleAuthor: mapper.ListValue([]string{"Frank Herbert"}),
		mapper.RoleSeries: mapper.TextValue("Dune"),
		mapper.RoleTags:   mapper.ListValue([]string{"sci-fi"}),
	}

	written, _, err := reconcile(t, remote, current, snapshot)
	require.NoError(t, err)
	require.Len(t, remote.updates, 1)

	payload := remote.updates[0]
	metadata, ok := payload["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Dune: Deluxe Edition", metadata["title"])
	assert.Equal(t, []map[string]string{
		{"name": "Frank Herbert"}, {"name": "Brian Herbert"},
	}, metadata["authors"])
	assert.Equal(t, []map[string]string{
		{"name": "Dune", "sequence": "1"},
	}, metadata["series"])

	// Tags are unchanged so they never enter the payload
	_, hasTags := payload["tags"]
	assert.False(t, hasTags)

	assert.Len(t, written, 3)
}

func TestReconcileIgnoresIneligibleRoles(t *testing.T) {
	remote := &fakeRemote{}
	current := map[mapper.FieldRole]mapper.Value{
		mapper.RoleProgress:     mapper.NumberValue(80),
		mapper.RoleListenedTime: mapper.TextValue("3:00"),
	}
	snapshot := map[mapper.FieldRole]mapper.Value{
		mapper.RoleProgress:     mapper.NumberValue(50),
		mapper.RoleListenedTime: mapper.TextValue("2:00"),
	}

	written, warnings, err := reconcile(t, remote, current, snapshot)
	require.NoError(t, err)
	assert.Empty(t, written)
	assert.Empty(t, warnings)
	assert.Empty(t, remote.updates)
}

func TestReconcileFieldWithoutSnapshotNotPushed(t *testing.T) {
	remote := &fakeRemote{}
	current := map[mapper.FieldRole]mapper.Value{
		mapper.RoleTitle: mapper.TextValue("Dune"),
	}

	written, _, err := reconcile(t, remote, current, nil)
	require.NoError(t, err)
	assert.Empty(t, written)
	assert.Empty(t, remote.updates)
}

func TestReconcileConflictRetriedOnce(t *testing.T) {
	conflict := &audiobookshelf.APIError{StatusCode: 409, Body: "conflict"}

	t.Run("retry succeeds", func(t *testing.T) {
		remote := &fakeRemote{updateErrs: []error{conflict}}
		current := map[mapper.FieldRole]mapper.Value{
			mapper.RoleTitle: mapper.TextValue("New Title"),
		}
		snapshot := map[mapper.FieldRole]mapper.Value{
			mapper.RoleTitle: mapper.TextValue("Old Title"),
		}

		written, _, err := reconcile(t, remote, current, snapshot)
		require.NoError(t, err)
		assert.Len(t, remote.updates, 2)
		assert.Len(t, written, 1)
	})

	t.Run("second conflict is final", func(t *testing.T) {
		remote := &fakeRemote{updateErrs: []error{conflict, conflict}}
		current := map[mapper.FieldRole]mapper.Value{
			mapper.RoleTitle: mapper.TextValue("New Title"),
		}
		snapshot := map[mapper.FieldRole]mapper.Value{
			mapper.RoleTitle: mapper.TextValue("Old Title"),
		}

		_, _, err := reconcile(t, remote, current, snapshot)
		require.Error(t, err)
		assert.ErrorIs(t, err, audiobookshelf.ErrConflict)
		assert.Len(t, remote.updates, 2)
	})

	t.Run("permission error is not retried", func(t *testing.T) {
		remote := &fakeRemote{updateErrs: []error{&audiobookshelf.APIError{StatusCode: 403, Body: "forbidden"}}}
		current := map[mapper.FieldRole]mapper.Value{
			mapper.RoleTitle: mapper.TextValue("New Title"),
		}
		snapshot := map[mapper.FieldRole]mapper.Value{
			mapper.RoleTitle: mapper.TextValue("Old Title"),
		}

		_, _, err := reconcile(t, remote, current, snapshot)
		require.Error(t, err)
		assert.ErrorIs(t, err, audiobookshelf.ErrPermission)
		assert.Len(t, remote.updates, 1)
	})
}

func TestSplitSeries(t *testing.T) {
	tests := []struct {
		in       string
		name     string
		sequence string
	}{
		{"Dune #1", "Dune", "1"},
		{"Dune #3.5", "Dune", "3.5"},
		{"Dune", "Dune", ""},
		{"The #1 Ladies' Detective Agency", "The #1 Ladies' Detective Agency", ""},
	}
	for _, tt := range tests {
		name, seq := splitSeries(tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.sequence, seq, tt.in)
	}
}
