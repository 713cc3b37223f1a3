package apiserver

import (
	"net/http"

	"im-relay/internal/services"
)

// ContactHandler 处理联系人列表的增删查。
type ContactHandler struct {
	contactService services.ContactService
}

func NewContactHandler(contactService services.ContactService) *ContactHandler {
	return &ContactHandler{contactService: contactService}
}

type AddContactRequest struct {
	UserID uint   `json:"userId"`
	Name   string `json:"name,omitempty"`
}

func (h *ContactHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	contacts, err := h.contactService.ListContacts(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, contacts)
}

func (h *ContactHandler) AddContact(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var req AddContactRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	contact, err := h.contactService.AddContact(r.Context(), userID, req.UserID, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, contact)
}

func (h *ContactHandler) RemoveContact(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	contactID, ok := pathUint(w, r, "userID")
	if !ok {
		return
	}
	if err := h.contactService.RemoveContact(r.Context(), userID, contactID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
