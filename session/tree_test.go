package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/core"
)

func node(id, parent string, text string) *Node {
	return &Node{
		ID:        id,
		ParentID:  parent,
		Timestamp: time.Now().UTC(),
		Message:   core.NewUserMessage(text),
	}
}

func TestTreeApply(t *testing.T) {
	tree := NewTree()
	require.NoError(t, tree.Apply(node("root", "", "hello")))
	require.NoError(t, tree.Apply(node("a", "root", "a")))
	require.NoError(t, tree.Apply(node("b", "a", "b")))

	assert.Equal(t, 3, tree.Len())
	assert.Equal(t, "root", tree.RootID())
	assert.Equal(t, "b", tree.CurrentLeaf())
	assert.Equal(t, []string{"a"}, tree.Get("root").Children)

	t.Run("idempotent reapply", func(t *testing.T) {
		require.NoError(t, tree.Apply(node("a", "root", "a")))
		assert.Equal(t, 3, tree.Len())
		assert.Equal(t, []string{"a"}, tree.Get("root").Children)
	})

	t.Run("unknown parent rejected", func(t *testing.T) {
		err := tree.Apply(node("orphan", "missing", "x"))
		require.Error(t, err)
		assert.Equal(t, 3, tree.Len())
	})

	t.Run("second root rejected", func(t *testing.T) {
		err := tree.Apply(node("root2", "", "x"))
		require.Error(t, err)
	})

	t.Run("empty id rejected", func(t *testing.T) {
		require.Error(t, tree.Apply(node("", "root", "x")))
	})
}

func TestTreeBranching(t *testing.T) {
	tree := NewTree()
	require.NoError(t, tree.Apply(node("root", "", "question")))
	require.NoError(t, tree.Apply(node("answer1", "root", "first try")))

	// Regenerate: select the parent again and add a sibling. Nothing is deleted.
	require.NoError(t, tree.SelectLeaf("root"))
	require.NoError(t, tree.Apply(node("answer2", "root", "second try")))

	assert.Equal(t, []string{"answer1", "answer2"}, tree.Get("root").Children)
	assert.Equal(t, "answer2", tree.CurrentLeaf())
	assert.NotNil(t, tree.Get("answer1"))
	assert.ElementsMatch(t, []string{"answer1", "answer2"}, tree.Leaves())

	path := tree.CurrentPath()
	require.Len(t, path, 2)
	assert.Equal(t, "root", path[0].ID)
	assert.Equal(t, "answer2", path[1].ID)

	msgs := Messages(path)
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", core.TextOf(msgs[0].Blocks()))

	t.Run("select unknown leaf", func(t *testing.T) {
		require.Error(t, tree.SelectLeaf("nope"))
	})

	t.Run("path of unknown node", func(t *testing.T) {
		_, err := tree.Path("nope")
		require.Error(t, err)
	})
}
