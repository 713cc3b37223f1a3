package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-relay/internal/config"
	"im-relay/internal/middleware"
	"im-relay/internal/models"
	"im-relay/internal/services"
	"im-relay/internal/storage"
	"im-relay/internal/storage/storagetest"
)

type memoryBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func (b *memoryBlacklist) Add(_ context.Context, jti string, exp time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[jti] = exp
	return nil
}

func (b *memoryBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.revoked[jti]
	return ok, nil
}

type apiClient struct {
	t      *testing.T
	router *mux.Router
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	db := storagetest.NewDB(t)
	authCfg := config.AuthConfig{JWTSecretKey: "handler-test-secret", JWTExpiry: time.Hour}
	blacklist := &memoryBlacklist{revoked: map[string]time.Time{}}

	userRepo := storage.NewGormUserRepository(db)
	convoRepo := storage.NewGormConversationRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)
	contactRepo := storage.NewGormContactRepository(db)
	publisher := services.NewNoopEventPublisher()

	convoService := services.NewConversationService(convoRepo, msgRepo, userRepo, publisher)
	messageService := services.NewMessageService(msgRepo, convoRepo, userRepo, publisher)

	storageCfg := config.StorageConfig{Type: "local", LocalPath: t.TempDir(), BaseURL: "/uploads", MaxFileSizeMB: 1}
	fileStore, err := storage.NewLocalStorageService(storageCfg)
	require.NoError(t, err)

	r := mux.NewRouter()
	RegisterRoutes(r, Handlers{
		Auth:         NewAuthHandler(services.NewAuthService(userRepo, blacklist, authCfg)),
		User:         NewUserHandler(services.NewUserService(userRepo)),
		Contact:      NewContactHandler(services.NewContactService(contactRepo, userRepo)),
		Conversation: NewConversationHandler(convoService, messageService),
		Group:        NewGroupHandler(services.NewGroupService(convoRepo, userRepo, publisher), convoService),
		Upload:       NewUploadHandler(fileStore, messageService, storageCfg),
	}, middleware.AuthMiddleware(authCfg, blacklist))
	return &apiClient{t: t, router: r}
}

func (c *apiClient) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

type session struct {
	id    uint
	token string
}

func (c *apiClient) signUp(name string) session {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/auth/register", "", RegisterRequest{
		Username: name, Nickname: name, Email: name + "@example.com", Password: "secret123",
	})
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/auth/login", "", LoginRequest{UsernameOrEmail: name, Password: "secret123"})
	require.Equal(c.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	decode(c.t, rec, &resp)
	return session{id: resp.User.ID, token: resp.Token}
}

func TestAuthFlow(t *testing.T) {
	api := newAPI(t)
	alice := api.signUp("alice")

	rec := api.do(http.MethodPost, "/auth/register", "", RegisterRequest{
		Username: "alice", Email: "other@example.com", Password: "secret123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPost, "/auth/login", "", LoginRequest{UsernameOrEmail: "alice", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/users/me", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "passwordHash")
	var me models.User
	decode(t, rec, &me)
	assert.Equal(t, "alice", me.Username)

	rec = api.do(http.MethodPost, "/api/v1/auth/logout", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/users/me", alice.token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPrivateConversationIsShared(t *testing.T) {
	api := newAPI(t)
	alice := api.signUp("alice")
	bob := api.signUp("bob")

	var fromAlice, fromBob models.Conversation
	rec := api.do(http.MethodPost, "/api/v1/conversations/private", alice.token, AccessPrivateRequest{TargetID: bob.id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &fromAlice)

	rec = api.do(http.MethodPost, "/api/v1/conversations/private", bob.token, AccessPrivateRequest{TargetID: alice.id})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &fromBob)

	assert.Equal(t, fromAlice.ID, fromBob.ID)
	assert.False(t, fromAlice.IsGroup)
	assert.Nil(t, fromAlice.AdminID)
	assert.Len(t, fromAlice.Users, 2)

	rec = api.do(http.MethodPost, "/api/v1/conversations/private", alice.token, AccessPrivateRequest{TargetID: alice.id})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(http.MethodPost, "/api/v1/conversations/private", alice.token, AccessPrivateRequest{TargetID: 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessagesAndReadReceipts(t *testing.T) {
	api := newAPI(t)
	alice := api.signUp("alice")
	bob := api.signUp("bob")
	carol := api.signUp("carol")

	var convo models.Conversation
	rec := api.do(http.MethodPost, "/api/v1/conversations/private", alice.token, AccessPrivateRequest{TargetID: bob.id})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &convo)
	messagesPath := fmt.Sprintf("/api/v1/conversations/%d/messages", convo.ID)

	rec = api.do(http.MethodPost, messagesPath, alice.token, SendMessageRequest{Content: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sent models.Message
	decode(t, rec, &sent)
	assert.Equal(t, models.TextMessageType, sent.Type)

	rec = api.do(http.MethodPost, messagesPath, alice.token, SendMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(http.MethodPost, messagesPath, carol.token, SendMessageRequest{Content: "intruder"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(http.MethodGet, messagesPath, carol.token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(http.MethodGet, "/api/v1/conversations/9999/messages", alice.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for i := 0; i < 2; i++ {
		rec = api.do(http.MethodPost, "/api/v1/messages/read", bob.token, MarkReadRequest{MessageIDs: []uint{sent.ID, 424242}})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp MarkReadResponse
		decode(t, rec, &resp)
		assert.Equal(t, int64(1-i), resp.Updated)
	}

	rec = api.do(http.MethodGet, messagesPath, bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.Message
	decode(t, rec, &history)
	require.Len(t, history, 1)
	assert.Equal(t, []uint{bob.id}, history[0].ReadBy)

	rec = api.do(http.MethodGet, "/api/v1/conversations", bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Conversation
	decode(t, rec, &list)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, sent.ID, list[0].LastMessage.ID)
}

func TestGroupLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t)
	u1 := api.signUp("u1")
	u2 := api.signUp("u2")
	u3 := api.signUp("u3")

	rec := api.do(http.MethodPost, "/api/v1/groups", u1.token, CreateGroupRequest{Name: "G", MemberIDs: []uint{u2.id, u3.id}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var group models.Conversation
	decode(t, rec, &group)
	require.NotNil(t, group.AdminID)
	assert.Equal(t, u1.id, *group.AdminID)
	base := fmt.Sprintf("/api/v1/groups/%d", group.ID)

	rec = api.do(http.MethodPost, "/api/v1/groups", u1.token, CreateGroupRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 非管理员不能踢人，管理员不能被踢
	rec = api.do(http.MethodDelete, fmt.Sprintf("%s/members/%d", base, u3.id), u2.token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(http.MethodDelete, fmt.Sprintf("%s/members/%d", base, u1.id), u1.token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, base+"/members", u1.token, AddMemberRequest{UserID: u2.id})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPost, base+"/leave", u1.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var left services.LeaveResult
	decode(t, rec, &left)
	assert.False(t, left.Deleted)
	require.NotNil(t, left.NewAdminID)
	assert.Equal(t, u2.id, *left.NewAdminID)

	rec = api.do(http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d", group.ID), u1.token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodDelete, fmt.Sprintf("%s/members/%d", base, u3.id), u2.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodPost, base+"/leave", u2.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &left)
	assert.True(t, left.Deleted)
	assert.Equal(t, "Group deleted", left.Message)

	rec = api.do(http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d", group.ID), u2.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupOperationsOnPrivateConversation(t *testing.T) {
	api := newAPI(t)
	alice := api.signUp("alice")
	bob := api.signUp("bob")

	var convo models.Conversation
	rec := api.do(http.MethodPost, "/api/v1/conversations/private", alice.token, AccessPrivateRequest{TargetID: bob.id})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &convo)

	rec = api.do(http.MethodPost, fmt.Sprintf("/api/v1/groups/%d/leave", convo.ID), alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContactsOverHTTP(t *testing.T) {
	api := newAPI(t)
	alice := api.signUp("alice")
	bob := api.signUp("bob")

	rec := api.do(http.MethodPost, "/api/v1/contacts", alice.token, AddContactRequest{UserID: bob.id, Name: "Bobby"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = api.do(http.MethodPost, "/api/v1/contacts", alice.token, AddContactRequest{UserID: bob.id})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/contacts", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var contacts []models.Contact
	decode(t, rec, &contacts)
	require.Len(t, contacts, 1)
	assert.Equal(t, bob.id, contacts[0].ContactID)

	rec = api.do(http.MethodGet, "/api/v1/users/search?q=BO", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var found []models.UserBasicInfo
	decode(t, rec, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "bob", found[0].Username)

	rec = api.do(http.MethodDelete, fmt.Sprintf("/api/v1/contacts/%d", bob.id), alice.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(http.MethodDelete, fmt.Sprintf("/api/v1/contacts/%d", bob.id), alice.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadCreatesFileMessage(t *testing.T) {
	api := newAPI(t)
	alice := api.signUp("alice")
	bob := api.signUp("bob")

	var convo models.Conversation
	rec := api.do(http.MethodPost, "/api/v1/conversations/private", alice.token, AccessPrivateRequest{TargetID: bob.id})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &convo)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("conversationId", fmt.Sprint(convo.ID)))
	part, err := form.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("some notes"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice.token)
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UploadResponse
	decode(t, rec, &resp)
	require.NotNil(t, resp.File)
	require.NotNil(t, resp.Message)
	assert.Equal(t, int64(10), resp.File.Size)
	assert.Equal(t, "notes.txt", resp.Message.Content)
	assert.Equal(t, resp.File.URL, resp.Message.FileURL)
	assert.Equal(t, models.FileMessageType, resp.Message.Type)
}

func TestStatusForError(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: x", services.ErrValidation): http.StatusBadRequest,
		fmt.Errorf("%w: x", services.ErrNotGroup):   http.StatusBadRequest,
		fmt.Errorf("%w: x", services.ErrNotFound):   http.StatusNotFound,
		fmt.Errorf("%w: x", services.ErrForbidden):  http.StatusForbidden,
		services.ErrUserAlreadyExists:               http.StatusConflict,
		services.ErrInvalidCredentials:              http.StatusUnauthorized,
		assert.AnError:                              http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusForError(err), err.Error())
	}
}

func TestPathParamsWithSetURLVars(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = mux.SetURLVars(req, map[string]string{"groupID": "0"})
	rec := httptest.NewRecorder()
	_, ok := pathUint(rec, req, "groupID")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = mux.SetURLVars(req, map[string]string{"groupID": "12"})
	id, ok := pathUint(httptest.NewRecorder(), req, "groupID")
	assert.True(t, ok)
	assert.Equal(t, uint(12), id)
}
