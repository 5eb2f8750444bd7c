package folders

import (
	"sort"
	"strings"

	"github.com/natserract/sfclean/pkg/resource"
)

// PathSeparator splits human-supplied folder paths.
const PathSeparator = "/"

// DefaultSuggestionLimit caps SuggestSimilar when no limit is given.
const DefaultSuggestionLimit = 5

// Suggestion is a "did you mean" candidate for a failed lookup.
type Suggestion struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Tree is a read-only index over one folder snapshot. All lookups are pure
// functions of the snapshot, so the same input always yields the same node.
type Tree struct {
	nodes    []resource.Node
	byID     map[string]int
	children map[string][]int
}

// NewTree indexes nodes. Listing order is kept and decides ties.
func NewTree(nodes []resource.Node) *Tree {
	t := &Tree{
		nodes:    nodes,
		byID:     make(map[string]int, len(nodes)),
		children: make(map[string][]int),
	}
	for i, n := range nodes {
		t.byID[n.ID] = i
		if !n.IsRoot() {
			t.children[n.ParentID] = append(t.children[n.ParentID], i)
		}
	}
	return t
}

// Nodes returns the indexed nodes in listing order.
func (t *Tree) Nodes() []resource.Node {
	return t.nodes
}

// Len is the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Get returns the node with id.
func (t *Tree) Get(id string) (resource.Node, bool) {
	i, ok := t.byID[id]
	if !ok {
		return resource.Node{}, false
	}
	return t.nodes[i], true
}

// ResolvePath walks path segment by segment. The first segment matches a
// root folder, or failing that the first folder with that name anywhere, so
// users may omit the top-level category. Names compare case-insensitively.
func (t *Tree) ResolvePath(path string) (resource.Node, bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return resource.Node{}, false
	}

	current, ok := t.findRoot(segments[0])
	if !ok {
		current, ok = t.ResolveByName(segments[0])
		if !ok {
			return resource.Node{}, false
		}
	}

	for _, seg := range segments[1:] {
		next, found := t.findChild(current.ID, seg)
		if !found {
			return resource.Node{}, false
		}
		current = next
	}
	return current, true
}

// ResolveByName returns the first folder named name. Names are not unique,
// so this is best-effort.
func (t *Tree) ResolveByName(name string) (resource.Node, bool) {
	for _, n := range t.nodes {
		if strings.EqualFold(n.Name, name) {
			return n, true
		}
	}
	return resource.Node{}, false
}

// Subtree returns the direct children of rootID, or with recursive set every
// descendant in breadth-first order. The root itself is not included.
func (t *Tree) Subtree(rootID string, recursive bool) []resource.Node {
	var out []resource.Node
	seen := map[string]bool{rootID: true}
	level := []string{rootID}

	for len(level) > 0 {
		var next []string
		for _, id := range level {
			for _, i := range t.children[id] {
				child := t.nodes[i]
				if seen[child.ID] {
					continue
				}
				seen[child.ID] = true
				out = append(out, child)
				next = append(next, child.ID)
			}
		}
		if !recursive {
			break
		}
		level = next
	}
	return out
}

// DeletionOrder returns rootID and all its descendants, deepest first. Nodes
// at the same depth keep breadth-first order.
func (t *Tree) DeletionOrder(rootID string) []resource.Node {
	root, ok := t.Get(rootID)
	if !ok {
		return nil
	}

	all := append([]resource.Node{root}, t.Subtree(rootID, true)...)
	depth := make(map[string]int, len(all))
	for _, n := range all {
		depth[n.ID] = t.depthBelow(n.ID, rootID)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return depth[all[i].ID] > depth[all[j].ID]
	})
	return all
}

// depthBelow counts parent steps from id up to ancestorID.
func (t *Tree) depthBelow(id, ancestorID string) int {
	steps := 0
	current := id
	// A corrupt snapshot could contain a cycle; never walk more than len(nodes).
	for current != ancestorID && steps <= len(t.nodes) {
		n, ok := t.Get(current)
		if !ok || n.IsRoot() {
			break
		}
		current = n.ParentID
		steps++
	}
	return steps
}

// Path renders the full path of id, root first.
func (t *Tree) Path(id string) string {
	var names []string
	current := id
	for i := 0; i <= len(t.nodes); i++ {
		n, ok := t.Get(current)
		if !ok {
			break
		}
		names = append(names, n.Name)
		if n.IsRoot() {
			break
		}
		current = n.ParentID
	}
	for l, r := 0, len(names)-1; l < r; l, r = l+1, r-1 {
		names[l], names[r] = names[r], names[l]
	}
	return strings.Join(names, PathSeparator)
}

// SuggestSimilar returns folders whose name contains query, case-insensitively.
func (t *Tree) SuggestSimilar(query string, limit int) []Suggestion {
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}

	var out []Suggestion
	for _, n := range t.nodes {
		if !strings.Contains(strings.ToLower(n.Name), needle) {
			continue
		}
		out = append(out, Suggestion{Name: n.Name, Path: t.Path(n.ID)})
		if len(out) == limit {
			break
		}
	}
	return out
}

func (t *Tree) findRoot(name string) (resource.Node, bool) {
	for _, n := range t.nodes {
		if n.IsRoot() && strings.EqualFold(n.Name, name) {
			return n, true
		}
	}
	return resource.Node{}, false
}

func (t *Tree) findChild(parentID, name string) (resource.Node, bool) {
	for _, i := range t.children[parentID] {
		if strings.EqualFold(t.nodes[i].Name, name) {
			return t.nodes[i], true
		}
	}
	return resource.Node{}, false
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, PathSeparator) {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
