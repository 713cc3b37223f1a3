package apiserver

import (
	"net/http"

	"im-relay/internal/services"
)

// GroupHandler 封装了群组相关的 HTTP 处理器方法。
type GroupHandler struct {
	groupService services.GroupService
	convoService services.ConversationService
}

// NewGroupHandler 创建一个新的 GroupHandler 实例。
func NewGroupHandler(groupService services.GroupService, convoService services.ConversationService) *GroupHandler {
	return &GroupHandler{
		groupService: groupService,
		convoService: convoService,
	}
}

// CreateGroupRequest 是创建群组的请求结构体。创建者总是成员并成为管理员。
type CreateGroupRequest struct {
	Name      string `json:"name"`
	MemberIDs []uint `json:"memberIds"`
}

// AddMemberRequest 是管理员添加成员的请求体。
type AddMemberRequest struct {
	UserID uint `json:"userId"`
}

func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var req CreateGroupRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	group, err := h.convoService.CreateGroup(r.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, group)
}

func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	groupID, ok := pathUint(w, r, "groupID")
	if !ok {
		return
	}
	var req AddMemberRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	group, err := h.groupService.AddMember(r.Context(), userID, groupID, req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, group)
}

func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	groupID, ok := pathUint(w, r, "groupID")
	if !ok {
		return
	}
	targetID, ok := pathUint(w, r, "userID")
	if !ok {
		return
	}
	group, err := h.groupService.RemoveMember(r.Context(), userID, groupID, targetID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, group)
}

// Leave 退出群组。管理员退出时由最早加入的剩余成员接任，最后一人退出时群组被删除。
func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	groupID, ok := pathUint(w, r, "groupID")
	if !ok {
		return
	}
	result, err := h.groupService.Leave(r.Context(), userID, groupID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}
