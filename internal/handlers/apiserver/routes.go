package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Handlers 汇总 API 服务器的全部处理器，便于统一注册路由。
type Handlers struct {
	Auth         *AuthHandler
	User         *UserHandler
	Contact      *ContactHandler
	Conversation *ConversationHandler
	Group        *GroupHandler
	Upload       *UploadHandler
}

// RegisterRoutes 注册公开的认证路由和 /api/v1 下需要认证的路由。
func RegisterRoutes(r *mux.Router, h Handlers, authMW mux.MiddlewareFunc) {
	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", h.Auth.Register).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", h.Auth.Login).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW)

	api.HandleFunc("/auth/logout", h.Auth.Logout).Methods(http.MethodPost)

	// 用户与联系人
	api.HandleFunc("/users/me", h.User.GetMyProfile).Methods(http.MethodGet)
	api.HandleFunc("/users/search", h.User.SearchUsers).Methods(http.MethodGet)
	api.HandleFunc("/contacts", h.Contact.ListContacts).Methods(http.MethodGet)
	api.HandleFunc("/contacts", h.Contact.AddContact).Methods(http.MethodPost)
	api.HandleFunc("/contacts/{userID:[0-9]+}", h.Contact.RemoveContact).Methods(http.MethodDelete)

	// 会话与消息
	api.HandleFunc("/conversations", h.Conversation.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/private", h.Conversation.AccessPrivate).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{conversationID:[0-9]+}", h.Conversation.GetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{conversationID:[0-9]+}/messages", h.Conversation.ListMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{conversationID:[0-9]+}/messages", h.Conversation.SendMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/read", h.Conversation.MarkRead).Methods(http.MethodPost)

	// 群组
	api.HandleFunc("/groups", h.Group.CreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{groupID:[0-9]+}/members", h.Group.AddMember).Methods(http.MethodPost)
	api.HandleFunc("/groups/{groupID:[0-9]+}/members/{userID:[0-9]+}", h.Group.RemoveMember).Methods(http.MethodDelete)
	api.HandleFunc("/groups/{groupID:[0-9]+}/leave", h.Group.Leave).Methods(http.MethodPost)

	api.HandleFunc("/upload", h.Upload.UploadFile).Methods(http.MethodPost)
}
