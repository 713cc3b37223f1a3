package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-relay/internal/imtypes"
	"im-relay/internal/models"
	"im-relay/internal/storage"
)

// assertGroupInvariant 检查群组恰好有一个管理员且管理员是成员。
func assertGroupInvariant(t *testing.T, env *testEnv, conversationID uint) *models.Conversation {
	t.Helper()
	group, err := env.convoRepo.GetByID(context.Background(), conversationID)
	require.NoError(t, err)
	require.NotNil(t, group.AdminID)
	assert.True(t, group.HasMember(*group.AdminID), "admin %d must be a member", *group.AdminID)
	assert.NotEmpty(t, group.Members)
	return group
}

func TestGroupLifecycleScenario(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	u1, u2, u3 := env.users[0], env.users[1], env.users[2]

	group, err := env.conversations.CreateGroup(ctx, u1, "Team", []uint{u2, u3})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{u1, u2, u3}, group.MemberIDs())
	assert.Equal(t, u1, *group.AdminID)

	res, err := env.groups.Leave(ctx, u1, group.ID)
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	assert.Equal(t, "Left group successfully", res.Message)
	require.NotNil(t, res.NewAdminID)

	after := assertGroupInvariant(t, env, group.ID)
	assert.Contains(t, []uint{u2, u3}, *after.AdminID)
	assert.ElementsMatch(t, []uint{u2, u3}, after.MemberIDs())
	assert.Equal(t, u2, *after.AdminID, "first remaining member in stored order")

	_, err = env.groups.Leave(ctx, u2, group.ID)
	require.NoError(t, err)
	res, err = env.groups.Leave(ctx, u3, group.ID)
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.Equal(t, "Group deleted", res.Message)

	_, err = env.conversations.GetConversation(ctx, u3, group.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, imtypes.ChatEventGroupDeleted, env.publisher.last().Type)
}

func TestLeaveByNonAdminKeepsAdmin(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	u1, u2, u3 := env.users[0], env.users[1], env.users[2]

	group, err := env.conversations.CreateGroup(ctx, u1, "g", []uint{u2, u3})
	require.NoError(t, err)

	res, err := env.groups.Leave(ctx, u2, group.ID)
	require.NoError(t, err)
	assert.Nil(t, res.NewAdminID)

	after := assertGroupInvariant(t, env, group.ID)
	assert.Equal(t, u1, *after.AdminID)
	assert.ElementsMatch(t, []uint{u1, u3}, after.MemberIDs())

	_, err = env.groups.Leave(ctx, u2, group.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddMember(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()
	u1, u2, u3, u4 := env.users[0], env.users[1], env.users[2], env.users[3]

	group, err := env.conversations.CreateGroup(ctx, u1, "g", []uint{u2})
	require.NoError(t, err)

	_, err = env.groups.AddMember(ctx, u2, group.ID, u3)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.groups.AddMember(ctx, u1, group.ID, u2)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = env.groups.AddMember(ctx, u1, group.ID, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := env.groups.AddMember(ctx, u1, group.ID, u3)
	require.NoError(t, err)
	assert.Equal(t, []uint{u2, u1, u3}, updated.MemberIDs())
	assertGroupInvariant(t, env, group.ID)

	event := env.publisher.last()
	assert.Equal(t, imtypes.ChatEventMemberAdded, event.Type)
	assert.Equal(t, u3, event.TargetUserID)

	private, err := env.conversations.AccessOneToOne(ctx, u1, u4)
	require.NoError(t, err)
	_, err = env.groups.AddMember(ctx, u1, private.ID, u3)
	assert.ErrorIs(t, err, ErrNotGroup)

	_, err = env.groups.AddMember(ctx, u1, 4242, u3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveMember(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()
	u1, u2, u3, u4 := env.users[0], env.users[1], env.users[2], env.users[3]

	group, err := env.conversations.CreateGroup(ctx, u1, "g", []uint{u2, u3})
	require.NoError(t, err)

	// 管理员不能被移除，无论操作者是谁
	_, err = env.groups.RemoveMember(ctx, u1, group.ID, u1)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.groups.RemoveMember(ctx, u2, group.ID, u1)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.groups.RemoveMember(ctx, u2, group.ID, u3)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.groups.RemoveMember(ctx, u1, group.ID, u4)
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := env.groups.RemoveMember(ctx, u1, group.ID, u3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{u1, u2}, updated.MemberIDs())
	assertGroupInvariant(t, env, group.ID)

	event := env.publisher.last()
	assert.Equal(t, imtypes.ChatEventMemberRemoved, event.Type)
	assert.Contains(t, event.RecipientIDs, u3)

	private, err := env.conversations.AccessOneToOne(ctx, u1, u4)
	require.NoError(t, err)
	_, err = env.groups.RemoveMember(ctx, u1, private.ID, u4)
	assert.ErrorIs(t, err, ErrNotGroup)
}

func TestLeaveOnPrivateConversation(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()

	private, err := env.conversations.AccessOneToOne(ctx, env.users[0], env.users[1])
	require.NoError(t, err)
	_, err = env.groups.Leave(ctx, env.users[0], private.ID)
	assert.ErrorIs(t, err, ErrNotGroup)
}

func TestAdminInvariantUnderMixedOperations(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()
	u := env.users

	group, err := env.conversations.CreateGroup(ctx, u[0], "g", []uint{u[1], u[2]})
	require.NoError(t, err)

	steps := []func() error{
		func() error { _, err := env.groups.AddMember(ctx, u[0], group.ID, u[3]); return err },
		func() error { _, err := env.groups.Leave(ctx, u[0], group.ID); return err },
		func() error { _, err := env.groups.AddMember(ctx, u[1], group.ID, u[4]); return err },
		func() error { _, err := env.groups.RemoveMember(ctx, u[1], group.ID, u[2]); return err },
		func() error { _, err := env.groups.Leave(ctx, u[1], group.ID); return err },
		func() error { _, err := env.groups.Leave(ctx, u[4], group.ID); return err },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		assertGroupInvariant(t, env, group.ID)
	}

	final := assertGroupInvariant(t, env, group.ID)
	assert.Equal(t, []uint{u[3]}, final.MemberIDs())
	assert.Equal(t, u[3], *final.AdminID)
}

// interleavingRepo 在第一次 GetByID 返回后执行 hook，用来让另一个请求插在读取与写入之间。
type interleavingRepo struct {
	storage.ConversationRepository
	once *sync.Once
	hook func()
}

func newInterleavingRepo(inner storage.ConversationRepository, hook func()) *interleavingRepo {
	return &interleavingRepo{ConversationRepository: inner, once: &sync.Once{}, hook: hook}
}

func (r *interleavingRepo) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	c, err := r.ConversationRepository.GetByID(ctx, id)
	r.once.Do(r.hook)
	return c, err
}

func (r *interleavingRepo) Transaction(ctx context.Context, fn func(repo storage.ConversationRepository) error) error {
	return r.ConversationRepository.Transaction(ctx, func(tx storage.ConversationRepository) error {
		return fn(&interleavingRepo{ConversationRepository: tx, once: r.once, hook: r.hook})
	})
}

// startConcurrently 在后台运行 op 并给它时间推进；它若被事务挡住，会在事务提交后才完成。
func startConcurrently(op func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- op() }()
	time.Sleep(100 * time.Millisecond)
	return done
}

func TestRemoveMemberWithConcurrentAdminLeave(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	u1, u2, u3 := env.users[0], env.users[1], env.users[2]

	group, err := env.conversations.CreateGroup(ctx, u1, "g", []uint{u2, u3})
	require.NoError(t, err)
	require.Equal(t, []uint{u2, u3, u1}, group.MemberIDs())

	var leaveDone <-chan error
	repo := newInterleavingRepo(env.convoRepo, func() {
		leaveDone = startConcurrently(func() error {
			_, err := env.groups.Leave(ctx, u1, group.ID)
			return err
		})
	})
	groups := NewGroupService(repo, env.userRepo, env.publisher)

	_, err = groups.RemoveMember(ctx, u1, group.ID, u2)
	require.NoError(t, err)
	require.NoError(t, <-leaveDone)

	after := assertGroupInvariant(t, env, group.ID)
	assert.Equal(t, []uint{u3}, after.MemberIDs())
	assert.Equal(t, u3, *after.AdminID)
}

func TestAddMemberWithConcurrentAdminLeave(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	u1, u2, u3 := env.users[0], env.users[1], env.users[2]

	group, err := env.conversations.CreateGroup(ctx, u1, "g", []uint{u2})
	require.NoError(t, err)

	var leaveDone <-chan error
	repo := newInterleavingRepo(env.convoRepo, func() {
		leaveDone = startConcurrently(func() error {
			_, err := env.groups.Leave(ctx, u1, group.ID)
			return err
		})
	})
	groups := NewGroupService(repo, env.userRepo, env.publisher)

	_, err = groups.AddMember(ctx, u1, group.ID, u3)
	require.NoError(t, err)
	require.NoError(t, <-leaveDone)

	after := assertGroupInvariant(t, env, group.ID)
	assert.Equal(t, []uint{u2, u3}, after.MemberIDs())
	assert.Equal(t, u2, *after.AdminID)
}

func TestLastTwoMembersLeavingConcurrently(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	u1, u2 := env.users[0], env.users[1]

	group, err := env.conversations.CreateGroup(ctx, u1, "g", []uint{u2})
	require.NoError(t, err)

	var (
		otherDone <-chan error
		other     *LeaveResult
	)
	repo := newInterleavingRepo(env.convoRepo, func() {
		otherDone = startConcurrently(func() error {
			var err error
			other, err = env.groups.Leave(ctx, u2, group.ID)
			return err
		})
	})
	groups := NewGroupService(repo, env.userRepo, env.publisher)

	res, err := groups.Leave(ctx, u1, group.ID)
	require.NoError(t, err)
	require.NoError(t, <-otherDone)

	assert.NotEqual(t, res.Deleted, other.Deleted, "exactly one leave deletes the group")
	_, err = env.convoRepo.GetByID(ctx, group.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
