package collab

import (
	"time"

	"github.com/google/uuid"

	"github.com/devsync/devsync/pkg/proto"
)

// computePath derives a node's materialized path from its parent's
// cached path. Root nodes and unresolvable parents get a root-style
// path. ParentID plus name is the source of truth; Path is only a cache.
func computePath(tree []proto.FSNode, parentID, name string) string {
	if parentID == "" {
		return "/" + name
	}
	for i := range tree {
		if tree[i].ID == parentID {
			return tree[i].Path + "/" + name
		}
	}
	return "/" + name
}

// newNode builds a tree node with a fresh id; the caller appends it.
func newNode(tree []proto.FSNode, parentID, name, nodeType string) proto.FSNode {
	return proto.FSNode{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      nodeType,
		ParentID:  parentID,
		Path:      computePath(tree, parentID, name),
		UpdatedAt: time.Now().UnixMilli(),
	}
}

// renameNode renames the matched node in place and recomputes its own
// path only. Descendants keep their cached paths; they go stale after an
// ancestor rename, which is the documented current behavior. Returns nil
// when the id is not in the tree.
func renameNode(tree []proto.FSNode, id, name string) *proto.FSNode {
	for i := range tree {
		if tree[i].ID != id {
			continue
		}
		tree[i].Name = name
		tree[i].Path = computePath(tree, tree[i].ParentID, name)
		tree[i].UpdatedAt = time.Now().UnixMilli()
		return &tree[i]
	}
	return nil
}

// deleteSubtree removes id and every transitive descendant, computed by
// fixed-point expansion: any node whose parent is in the removal set
// joins the set until no pass grows it. Growth is monotonic and bounded
// by the node count, so a parentId cycle cannot loop forever. Returns
// the pruned tree and the complete removed-id set so callers can cascade
// document and object deletion.
func deleteSubtree(tree []proto.FSNode, id string) ([]proto.FSNode, []string) {
	remove := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for i := range tree {
			if remove[tree[i].ParentID] && !remove[tree[i].ID] {
				remove[tree[i].ID] = true
				changed = true
			}
		}
	}

	newTree := make([]proto.FSNode, 0, len(tree))
	removed := make([]string, 0, len(remove))
	rootSeen := false
	for i := range tree {
		if remove[tree[i].ID] {
			removed = append(removed, tree[i].ID)
			if tree[i].ID == id {
				rootSeen = true
			}
			continue
		}
		newTree = append(newTree, tree[i])
	}
	if !rootSeen {
		removed = append(removed, id)
	}
	return newTree, removed
}

// findNode returns a pointer into the tree, or nil.
func findNode(tree []proto.FSNode, id string) *proto.FSNode {
	for i := range tree {
		if tree[i].ID == id {
			return &tree[i]
		}
	}
	return nil
}
