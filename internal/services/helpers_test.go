package services

import (
	"context"
	"sync"
	"testing"

	"im-relay/internal/imtypes"
	"im-relay/internal/storage"
	"im-relay/internal/storage/storagetest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []imtypes.ChatEvent
}

func (p *recordingPublisher) PublishChatEvent(_ context.Context, event imtypes.ChatEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []imtypes.ChatEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]imtypes.ChatEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) last() imtypes.ChatEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type testEnv struct {
	users         []uint
	publisher     *recordingPublisher
	conversations ConversationService
	messages      MessageService
	groups        GroupService
	convoRepo     storage.ConversationRepository
	userRepo      storage.UserRepository
}

func newTestEnv(t *testing.T, userCount int) *testEnv {
	t.Helper()
	db := storagetest.NewDB(t)
	users := storagetest.CreateUsers(t, db, userCount)

	userRepo := storage.NewGormUserRepository(db)
	convoRepo := storage.NewGormConversationRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)
	pub := &recordingPublisher{}

	return &testEnv{
		users:         users,
		publisher:     pub,
		conversations: NewConversationService(convoRepo, msgRepo, userRepo, pub),
		messages:      NewMessageService(msgRepo, convoRepo, userRepo, pub),
		groups:        NewGroupService(convoRepo, userRepo, pub),
		convoRepo:     convoRepo,
		userRepo:      userRepo,
	}
}
