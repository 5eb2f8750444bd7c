package folders

import (
	"testing"

	"github.com/natserract/sfclean/pkg/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(nodes []resource.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

// A(root) -> B -> C, B -> D, A -> E; Z(root) -> B2 named "B".
func sampleTree() *Tree {
	return NewTree([]resource.Node{
		{ID: "a", Name: "A", ParentID: "0"},
		{ID: "b", Name: "B", ParentID: "a"},
		{ID: "c", Name: "C", ParentID: "b"},
		{ID: "d", Name: "D", ParentID: "b"},
		{ID: "e", Name: "E", ParentID: "a"},
		{ID: "z", Name: "Z", ParentID: "0"},
		{ID: "b2", Name: "B", ParentID: "z"},
	})
}

func TestResolvePath(t *testing.T) {
	tree := sampleTree()

	tests := []struct {
		path   string
		wantID string
		found  bool
	}{
		{path: "A/B/C", wantID: "c", found: true},
		{path: "a/b/c", wantID: "c", found: true},
		{path: "/A/B/C/", wantID: "c", found: true},
		{path: "Z/B", wantID: "b2", found: true},
		{path: "B/C", wantID: "c", found: true},
		{path: "A/X", found: false},
		{path: "A/C", found: false},
		{path: "", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				node, ok := tree.ResolvePath(tt.path)
				assert.Equal(t, tt.found, ok)
				assert.Equal(t, tt.wantID, node.ID)
			}
		})
	}
}

func TestSubtree(t *testing.T) {
	tree := sampleTree()

	assert.Equal(t, []string{"b", "e"}, ids(tree.Subtree("a", false)))
	assert.Equal(t, []string{"b", "e", "c", "d"}, ids(tree.Subtree("a", true)))
	assert.Empty(t, tree.Subtree("c", true))
}

func TestDeletionOrderPlacesDescendantsFirst(t *testing.T) {
	tree := NewTree([]resource.Node{
		{ID: "a", Name: "A", ParentID: "0"},
		{ID: "b", Name: "B", ParentID: "a"},
		{ID: "c", Name: "C", ParentID: "b"},
	})
	assert.Equal(t, []string{"c", "b", "a"}, ids(tree.DeletionOrder("a")))

	order := sampleTree().DeletionOrder("a")
	pos := map[string]int{}
	for i, n := range order {
		pos[n.ID] = i
	}
	require.Len(t, order, 5)
	for _, n := range order {
		if n.ID == "a" {
			continue
		}
		assert.Less(t, pos[n.ID], pos[n.ParentID], "%s must precede its parent", n.ID)
	}
}

func TestDeletionOrderUnknownRoot(t *testing.T) {
	assert.Nil(t, sampleTree().DeletionOrder("missing"))
}

func TestDeletionOrderSurvivesCycle(t *testing.T) {
	tree := NewTree([]resource.Node{
		{ID: "x", Name: "X", ParentID: "y"},
		{ID: "y", Name: "Y", ParentID: "x"},
	})
	assert.Len(t, tree.DeletionOrder("x"), 2)
}

func TestPathAndSuggestions(t *testing.T) {
	tree := sampleTree()
	assert.Equal(t, "A/B/C", tree.Path("c"))

	got := tree.SuggestSimilar("b", 0)
	assert.Equal(t, []Suggestion{{Name: "B", Path: "A/B"}, {Name: "B", Path: "Z/B"}}, got)

	assert.Len(t, tree.SuggestSimilar("", 5), 0)
	assert.Len(t, tree.SuggestSimilar("b", 1), 1)
}
