package indexmanager

import (
	"context"
	"fmt"

	"github.com/leafdb/leafdb/core/indexing/btree"
	"github.com/xlab/treeprint"
)

// RenderChain draws the leaf chain starting at firstLeafID, one branch per leaf
// with its keys underneath.
func (m *LeafManager[K]) RenderChain(ctx context.Context, firstLeafID btree.PageID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tree := treeprint.NewWithRoot("leaf chain")
	seen := make(map[btree.PageID]bool)
	for id := firstLeafID; id != btree.InvalidPageID; {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if seen[id] {
			return "", fmt.Errorf("%w: leaf chain loops back to page %d", btree.ErrCorruptPage, id)
		}
		seen[id] = true

		leaf, err := m.readLeaf(id)
		if err != nil {
			return "", err
		}
		addLeaf(tree, leaf)
		id = leaf.GetNextPageID()
	}
	return tree.String(), nil
}

// RenderTree draws the tree below rootID: internal pages as branches labelled
// with their separators, leaves as in RenderChain.
func (m *LeafManager[K]) RenderTree(ctx context.Context, rootID btree.PageID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tree := treeprint.NewWithRoot(fmt.Sprintf("root %d", rootID))
	if err := m.renderNode(ctx, tree, rootID, 0); err != nil {
		return "", err
	}
	return tree.String(), nil
}

func (m *LeafManager[K]) renderNode(ctx context.Context, branch treeprint.Tree, pageID btree.PageID, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > 32 {
		return fmt.Errorf("%w: tree deeper than 32 levels at page %d", btree.ErrCorruptPage, pageID)
	}
	page, err := m.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	page.RLock()
	data := append([]byte(nil), page.GetData()...)
	page.RUnlock()
	if err := m.pool.UnpinPage(pageID, false); err != nil {
		return err
	}

	switch btree.ReadPageType(data) {
	case btree.LeafPageType:
		leaf, err := btree.DecodeLeafPage[K](data)
		if err != nil {
			return err
		}
		addLeaf(branch, leaf)
		return nil
	case btree.InternalPageType:
		node, err := btree.DecodeInternalPage[K](data)
		if err != nil {
			return err
		}
		sub := branch.AddMetaBranch(fmt.Sprintf("internal %d", pageID), fmt.Sprintf("size=%d/%d", node.GetSize(), node.GetMaxSize()))
		for i := 0; i < node.GetSize(); i++ {
			label := "< first separator"
			if i > 0 {
				label = fmt.Sprintf(">= %d", btree.Int64FromKey(node.KeyAt(i)))
			}
			if err := m.renderNode(ctx, sub.AddBranch(label), node.ValueAt(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: page %d has no tree page type", btree.ErrCorruptPage, pageID)
	}
}

func addLeaf[K btree.Key](tree treeprint.Tree, leaf *btree.LeafPage[K]) {
	meta := fmt.Sprintf("leaf %d", leaf.GetPageID())
	label := fmt.Sprintf("size=%d/%d next=%d", leaf.GetSize(), leaf.GetMaxSize(), leaf.GetNextPageID())
	branch := tree.AddMetaBranch(meta, label)
	if keys := leaf.ToString(false); keys != "" {
		branch.AddNode(keys)
	}
}

// readLeaf pins, copies out and unpins one leaf.
func (m *LeafManager[K]) readLeaf(pageID btree.PageID) (*btree.LeafPage[K], error) {
	set := newLatchSet(m.pool)
	lp, err := set.fetch(pageID, false)
	if err != nil {
		return nil, err
	}
	leaf, derr := m.decodeLeaf(lp)
	if err := set.releaseAll(); err != nil {
		return nil, err
	}
	return leaf, derr
}
