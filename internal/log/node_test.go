package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeHeight(t *testing.T) {
	heights := []uint32{0, 1, 0, 2, 0, 1, 0, 3, 0, 1, 0, 2, 0, 1, 0}
	for index, height := range heights {
		assert.Equal(t, height, Node(index).Height(), "node %d", index)
	}
}

func TestNodeSides(t *testing.T) {
	sides := []Side{
		SideLeft, SideLeft, SideRight, SideLeft, SideLeft, SideRight, SideRight, SideLeft,
		SideLeft, SideLeft, SideRight, SideRight, SideLeft, SideRight, SideRight,
	}
	for index, side := range sides {
		assert.Equal(t, side, Node(index).SideOf(), "node %d", index)
	}
}

func TestNodeSiblings(t *testing.T) {
	assert.Equal(t, Node(2), Node(0).RightSibling())
	assert.Equal(t, Node(5), Node(1).RightSibling())
	assert.Equal(t, Node(0), Node(2).LeftSibling())
	assert.Equal(t, Node(11), Node(3).RightSibling())
	assert.Equal(t, Node(6), Node(4).RightSibling())
	assert.Equal(t, Node(1), Node(5).LeftSibling())
	assert.Equal(t, Node(4), Node(6).LeftSibling())
	assert.Equal(t, Node(23), Node(7).RightSibling())
	assert.Equal(t, Node(10), Node(8).RightSibling())
	assert.Equal(t, Node(13), Node(9).RightSibling())
	assert.Equal(t, Node(8), Node(10).LeftSibling())
	assert.Equal(t, Node(3), Node(11).LeftSibling())
	assert.Equal(t, Node(14), Node(12).RightSibling())
	assert.Equal(t, Node(9), Node(13).LeftSibling())
	assert.Equal(t, Node(12), Node(14).LeftSibling())
}

func TestNodeParentsAndChildren(t *testing.T) {
	parents := []Node{1, 3, 1, 7, 5, 3, 5, 15, 9, 11, 9, 7, 13, 11, 13}
	for index, parent := range parents {
		assert.Equal(t, parent, Node(index).Parent(), "node %d", index)
	}

	childCases := []struct {
		node        Node
		left, right Node
	}{
		{1, 0, 2}, {3, 1, 5}, {5, 4, 6}, {7, 3, 11}, {9, 8, 10}, {11, 9, 13}, {13, 12, 14},
	}
	for _, tc := range childCases {
		left, right := tc.node.Children()
		assert.Equal(t, tc.left, left)
		assert.Equal(t, tc.right, right)
	}
}

func TestNodeExistence(t *testing.T) {
	assert.Equal(t, Node(2), Node(1).RightmostDescendant())
	assert.Equal(t, Node(6), Node(3).RightmostDescendant())
	assert.Equal(t, Node(6), Node(5).RightmostDescendant())
	assert.Equal(t, Node(14), Node(7).RightmostDescendant())
	assert.Equal(t, Node(10), Node(9).RightmostDescendant())
	assert.Equal(t, Node(14), Node(11).RightmostDescendant())
	assert.Equal(t, Node(14), Node(13).RightmostDescendant())

	cases := []struct {
		index  Node
		minLen uint64
	}{
		{1, 2}, {3, 4}, {5, 4}, {7, 8}, {9, 6}, {11, 8}, {13, 8},
	}
	for _, tc := range cases {
		for length := uint64(0); length <= 8; length++ {
			expected := length >= tc.minLen
			assert.Equal(t, expected, tc.index.ExistsAtLength(length),
				"node %d at length %d", tc.index, length)
		}
	}
}

func TestFirstNodesWithHeight(t *testing.T) {
	assert.Equal(t, Node(0), FirstNodeWithHeight(0))
	assert.Equal(t, Node(1), FirstNodeWithHeight(1))
	assert.Equal(t, Node(3), FirstNodeWithHeight(2))
	assert.Equal(t, Node(7), FirstNodeWithHeight(3))
	assert.Equal(t, Node(15), FirstNodeWithHeight(4))

	first1 := FirstNodeWithHeight(1)
	assert.Equal(t, Node(4), first1.NextNodeWithHeight(0))
	assert.Equal(t, Node(5), first1.NextNodeWithHeight(1))

	first2 := FirstNodeWithHeight(2)
	assert.Equal(t, Node(8), first2.NextNodeWithHeight(0))
	assert.Equal(t, Node(9), first2.NextNodeWithHeight(1))
	assert.Equal(t, Node(11), first2.NextNodeWithHeight(2))

	first3 := FirstNodeWithHeight(3)
	assert.Equal(t, Node(16), first3.NextNodeWithHeight(0))
	assert.Equal(t, Node(17), first3.NextNodeWithHeight(1))
	assert.Equal(t, Node(19), first3.NextNodeWithHeight(2))
	assert.Equal(t, Node(23), first3.NextNodeWithHeight(3))
}

func TestBroots(t *testing.T) {
	assert.Empty(t, BrootsForLen(0))
	assert.Equal(t, []Node{0}, BrootsForLen(1))
	assert.Equal(t, []Node{1}, BrootsForLen(2))
	assert.Equal(t, []Node{1, 4}, BrootsForLen(3))
	assert.Equal(t, []Node{3}, BrootsForLen(4))
	assert.Equal(t, []Node{3, 8}, BrootsForLen(5))
	assert.Equal(t, []Node{3, 9}, BrootsForLen(6))
	assert.Equal(t, []Node{3, 9, 12}, BrootsForLen(7))
	assert.Equal(t, []Node{7}, BrootsForLen(8))
}
