package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func groupWith(admin uint, ids ...uint) *Conversation {
	c := &Conversation{IsGroup: true, AdminID: &admin}
	for i, id := range ids {
		c.Members = append(c.Members, ConversationMember{UserID: id, Seq: i})
	}
	return c
}

func TestPairKeyForIsSymmetric(t *testing.T) {
	assert.Equal(t, "3:9", PairKeyFor(3, 9))
	assert.Equal(t, PairKeyFor(3, 9), PairKeyFor(9, 3))
}

func TestSuccessorFollowsStoredOrder(t *testing.T) {
	c := groupWith(1, 2, 3, 1)

	next, ok := c.Successor(1)
	assert.True(t, ok)
	assert.Equal(t, uint(2), next)

	next, ok = c.Successor(2)
	assert.True(t, ok)
	assert.Equal(t, uint(3), next)
}

func TestSuccessorOfSoleMember(t *testing.T) {
	c := groupWith(1, 1)
	_, ok := c.Successor(1)
	assert.False(t, ok)
}

func TestMembershipHelpers(t *testing.T) {
	c := groupWith(1, 1, 2, 3)
	assert.True(t, c.HasMember(2))
	assert.False(t, c.HasMember(4))
	assert.True(t, c.IsAdmin(1))
	assert.False(t, c.IsAdmin(2))
	assert.Equal(t, []uint{1, 2, 3}, c.MemberIDs())
	assert.Equal(t, 3, c.NextSeq())

	private := &Conversation{}
	assert.False(t, private.IsAdmin(1))
}
