package apiserver

import (
	"net/http"

	"im-relay/internal/services"
)

const defaultMessagePageSize = 50

// ConversationHandler 封装了会话与消息相关的 HTTP 处理器方法。
type ConversationHandler struct {
	convoService   services.ConversationService
	messageService services.MessageService
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(convoService services.ConversationService, messageService services.MessageService) *ConversationHandler {
	return &ConversationHandler{
		convoService:   convoService,
		messageService: messageService,
	}
}

// AccessPrivateRequest 是获取/创建私聊会话的请求结构体。
type AccessPrivateRequest struct {
	TargetID uint `json:"targetId"`
}

// SendMessageRequest 是通过 REST 持久化一条消息的请求体。
type SendMessageRequest struct {
	Content  string `json:"content"`
	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// MarkReadRequest 是批量标记已读的请求体。
type MarkReadRequest struct {
	MessageIDs []uint `json:"messageIds"`
}

// MarkReadResponse 返回本次新增的已读记录数。
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// AccessPrivate 获取或创建与目标用户的一对一会话，两个方向得到同一个会话。
func (h *ConversationHandler) AccessPrivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var req AccessPrivateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	conversation, err := h.convoService.AccessOneToOne(r.Context(), userID, req.TargetID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, conversation)
}

// ListConversations 获取当前用户的所有会话，最近活跃的在前。
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	conversations, err := h.convoService.ListConversations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, conversations)
}

func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathUint(w, r, "conversationID")
	if !ok {
		return
	}
	conversation, err := h.convoService.GetConversation(r.Context(), userID, conversationID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, conversation)
}

// ListMessages 按发送时间正序返回消息，支持 limit/offset 分页。
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathUint(w, r, "conversationID")
	if !ok {
		return
	}
	limit := queryInt(r, "limit", defaultMessagePageSize)
	offset := queryInt(r, "offset", 0)

	messages, err := h.messageService.ListMessages(r.Context(), userID, conversationID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messages)
}

func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathUint(w, r, "conversationID")
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	message, err := h.messageService.SendMessage(r.Context(), services.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        req.Content,
		FileURL:        req.FileURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, message)
}

func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var req MarkReadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	updated, err := h.messageService.MarkRead(r.Context(), userID, req.MessageIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, MarkReadResponse{Updated: updated})
}
