package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpieflow/magpie/internal/workflow"
)

func TestCreateFolder_UniqueName(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.CreateFolder(&Folder{Name: "reports"}))
	err := s.CreateFolder(&Folder{Name: "reports"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateFolder_RequiresName(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	assert.Error(t, s.CreateFolder(&Folder{}))
}

func TestListFolders_SortedByName(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.CreateFolder(&Folder{Name: "zeta"}))
	require.NoError(t, s.CreateFolder(&Folder{Name: "alpha"}))

	folders, err := s.ListFolders()
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "alpha", folders[0].Name)
	assert.Equal(t, "zeta", folders[1].Name)
}

func TestDeleteFolder_DetachesWorkflowsAndChildren(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	parent := &Folder{Name: "parent"}
	require.NoError(t, s.CreateFolder(parent))
	child := &Folder{Name: "child", ParentID: parent.ID}
	require.NoError(t, s.CreateFolder(child))

	wf := &workflow.Workflow{Name: "filed", Folder: parent.ID}
	require.NoError(t, s.SaveWorkflow(wf, ""))

	require.NoError(t, s.DeleteFolder(parent.ID))

	_, err := s.GetFolder(parent.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Workflow survives, now unfiled.
	got, err := s.GetWorkflow(wf.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Folder)

	// Child folder survives at the root.
	gotChild, err := s.GetFolder(child.ID)
	require.NoError(t, err)
	assert.Empty(t, gotChild.ParentID)
}
