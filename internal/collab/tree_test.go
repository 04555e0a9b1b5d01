package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsync/devsync/pkg/proto"
)

func TestComputePath(t *testing.T) {
	tree := []proto.FSNode{
		{ID: "d1", Name: "src", Type: proto.NodeDirectory, Path: "/src"},
	}

	assert.Equal(t, "/main.py", computePath(tree, "", "main.py"))
	assert.Equal(t, "/src/util.py", computePath(tree, "d1", "util.py"))

	// An unresolvable parent falls back to a root-style path.
	assert.Equal(t, "/orphan.py", computePath(tree, "gone", "orphan.py"))
}

func TestNewNode(t *testing.T) {
	var tree []proto.FSNode

	node := newNode(tree, "", "main.py", proto.NodeFile)
	assert.NotEmpty(t, node.ID)
	assert.Equal(t, "main.py", node.Name)
	assert.Equal(t, proto.NodeFile, node.Type)
	assert.Equal(t, "/main.py", node.Path)
	assert.NotZero(t, node.UpdatedAt)

	tree = append(tree, node)
	second := newNode(tree, "", "main.py", proto.NodeFile)
	assert.NotEqual(t, node.ID, second.ID)
}

func TestRenameNode(t *testing.T) {
	tree := []proto.FSNode{
		{ID: "d1", Name: "src", Type: proto.NodeDirectory, Path: "/src"},
		{ID: "f1", Name: "old.py", Type: proto.NodeFile, ParentID: "d1", Path: "/src/old.py"},
	}

	node := renameNode(tree, "f1", "new.py")
	require.NotNil(t, node)
	assert.Equal(t, "new.py", node.Name)
	assert.Equal(t, "/src/new.py", node.Path)
	assert.Equal(t, "new.py", tree[1].Name)

	assert.Nil(t, renameNode(tree, "missing", "x"))
}

func TestRenameNode_DescendantPathsStayCached(t *testing.T) {
	tree := []proto.FSNode{
		{ID: "d1", Name: "src", Type: proto.NodeDirectory, Path: "/src"},
		{ID: "f1", Name: "a.py", Type: proto.NodeFile, ParentID: "d1", Path: "/src/a.py"},
	}

	node := renameNode(tree, "d1", "lib")
	require.NotNil(t, node)
	assert.Equal(t, "/lib", node.Path)

	// Children keep their cached path until their own next mutation;
	// ParentID plus Name is the source of truth.
	assert.Equal(t, "/src/a.py", tree[1].Path)
	assert.Equal(t, "/lib/b.py", computePath(tree, "d1", "b.py"))
}

func TestDeleteSubtree(t *testing.T) {
	tree := []proto.FSNode{
		{ID: "d1", Name: "src", Type: proto.NodeDirectory},
		{ID: "d2", Name: "nested", Type: proto.NodeDirectory, ParentID: "d1"},
		{ID: "f1", Name: "a.py", Type: proto.NodeFile, ParentID: "d2"},
		{ID: "f2", Name: "b.py", Type: proto.NodeFile, ParentID: "d1"},
		{ID: "f3", Name: "keep.py", Type: proto.NodeFile},
	}

	newTree, removed := deleteSubtree(tree, "d1")

	require.Len(t, newTree, 1)
	assert.Equal(t, "f3", newTree[0].ID)
	assert.ElementsMatch(t, []string{"d1", "d2", "f1", "f2"}, removed)
}

func TestDeleteSubtree_Leaf(t *testing.T) {
	tree := []proto.FSNode{
		{ID: "d1", Name: "src", Type: proto.NodeDirectory},
		{ID: "f1", Name: "a.py", Type: proto.NodeFile, ParentID: "d1"},
	}

	newTree, removed := deleteSubtree(tree, "f1")
	require.Len(t, newTree, 1)
	assert.Equal(t, []string{"f1"}, removed)
}

func TestDeleteSubtree_MissingID(t *testing.T) {
	tree := []proto.FSNode{{ID: "f1", Name: "a.py", Type: proto.NodeFile}}

	newTree, removed := deleteSubtree(tree, "ghost")
	assert.Len(t, newTree, 1)

	// The requested id is reported even when absent from the tree so
	// callers still cascade object cleanup.
	assert.Equal(t, []string{"ghost"}, removed)
}

func TestDeleteSubtree_ParentCycle(t *testing.T) {
	// Corrupt data with a parent cycle must still terminate.
	tree := []proto.FSNode{
		{ID: "a", Name: "a", Type: proto.NodeDirectory, ParentID: "b"},
		{ID: "b", Name: "b", Type: proto.NodeDirectory, ParentID: "a"},
		{ID: "c", Name: "c", Type: proto.NodeFile},
	}

	newTree, removed := deleteSubtree(tree, "a")
	require.Len(t, newTree, 1)
	assert.Equal(t, "c", newTree[0].ID)
	assert.ElementsMatch(t, []string{"a", "b"}, removed)
}

func TestFindNode(t *testing.T) {
	tree := []proto.FSNode{{ID: "f1", Name: "a.py", Type: proto.NodeFile}}

	require.NotNil(t, findNode(tree, "f1"))
	assert.Nil(t, findNode(tree, "f2"))
}
