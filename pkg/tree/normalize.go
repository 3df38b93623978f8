package tree

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/feedview/feedview/pkg/domain"
)

// normalize makes the tree canonical: children sorted by name, every node
// carrying a stable id, feed URLs stripped of leading whitespace, and sibling
// names unique. Idempotent - a second pass reports no change. Returns whether
// anything was modified.
func normalize(root *domain.FeedNode) bool {
	modified := sortChildren(root)
	modified = fixNode(root) || modified
	return modified
}

// sortChildren orders every folder's children by name, depth first
func sortChildren(n *domain.FeedNode) bool {
	if !n.IsFolder() {
		return false
	}

	modified := false
	for _, child := range n.Children {
		modified = sortChildren(child) || modified
	}

	if sort.SliceIsSorted(n.Children, func(i, j int) bool {
		return n.Children[i].Name < n.Children[j].Name
	}) {
		return modified
	}
	sort.SliceStable(n.Children, func(i, j int) bool {
		return n.Children[i].Name < n.Children[j].Name
	})
	return true
}

// fixNode assigns missing ids, trims feed URLs and deduplicates sibling names
// by suffixing " (2)", " (3)", ... in order of first occurrence
func fixNode(n *domain.FeedNode) bool {
	modified := false

	if n.ID == "" {
		n.ID = uuid.NewString()
		modified = true
	}

	if n.URL != "" {
		trimmed := strings.TrimLeftFunc(n.URL, unicode.IsSpace)
		if trimmed != n.URL {
			n.URL = trimmed
			modified = true
		}
	}

	if !n.IsFolder() {
		return modified
	}

	seen := map[string]int{}
	for _, child := range n.Children {
		base := child.Name
		for {
			if _, taken := seen[child.Name]; !taken {
				break
			}
			seen[base]++
			child.Name = fmt.Sprintf("%s (%d)", base, seen[base])
			modified = true
		}
		seen[child.Name] = 1

		modified = fixNode(child) || modified
	}

	return modified
}
