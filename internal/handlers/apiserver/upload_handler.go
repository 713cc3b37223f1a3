package apiserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"im-relay/internal/config"
	"im-relay/internal/imtypes"
	"im-relay/internal/models"
	"im-relay/internal/services"
	"im-relay/internal/storage"
)

const defaultMaxMemory = 32 << 20 // multipart 表单在内存中的上限

// UploadHandler 封装了文件上传相关的 HTTP 处理器方法。
type UploadHandler struct {
	storageService imtypes.StorageService
	messageService services.MessageService
	cfg            config.StorageConfig
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(storageService imtypes.StorageService, messageService services.MessageService, cfg config.StorageConfig) *UploadHandler {
	return &UploadHandler{
		storageService: storageService,
		messageService: messageService,
		cfg:            cfg,
	}
}

// UploadResponse 包含存储结果，带 conversationId 上传时还包含生成的文件消息。
type UploadResponse struct {
	File    *imtypes.FileInfo `json:"file"`
	Message *models.Message   `json:"message,omitempty"`
}

// UploadFile 处理 multipart 文件上传 (字段 "file")。
// 表单带 conversationId 时，上传成功后以原文件名为内容向该会话发送一条文件消息。
func (h *UploadHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	maxUploadSize := h.cfg.MaxFileSizeMB << 20
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxMemory
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, fmt.Sprintf("上传文件过大，最大允许 %d MB", maxUploadSize>>20), http.StatusRequestEntityTooLarge)
		} else {
			writeJSONError(w, "解析表单失败", http.StatusBadRequest)
		}
		return
	}

	var conversationID uint
	if raw := strings.TrimSpace(r.FormValue("conversationId")); raw != "" {
		id, err := storage.StrToUint(raw)
		if err != nil || id == 0 {
			writeJSONError(w, "无效的会话ID", http.StatusBadRequest)
			return
		}
		conversationID = id
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeJSONError(w, "请求中缺少 'file' 字段", http.StatusBadRequest)
		} else {
			writeJSONError(w, "获取文件失败", http.StatusBadRequest)
		}
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	zap.S().Infow("收到上传文件", "userId", userID, "name", header.Filename, "size", header.Size, "mimeType", mimeType)

	fileInfo, err := h.storageService.UploadFile(r.Context(), file, header.Size, header.Filename, mimeType)
	if err != nil {
		zap.S().Errorw("存储文件失败", "error", err)
		writeJSONError(w, "存储文件失败", http.StatusInternalServerError)
		return
	}

	resp := UploadResponse{File: fileInfo}
	if conversationID != 0 {
		message, err := h.messageService.SendMessage(r.Context(), services.SendMessageInput{
			ConversationID: conversationID,
			SenderID:       userID,
			Content:        header.Filename,
			FileURL:        fileInfo.URL,
			FileName:       header.Filename,
			FileSize:       fileInfo.Size,
		})
		if err != nil {
			// 消息没发出去就不保留孤立文件
			if delErr := h.storageService.DeleteFile(r.Context(), fileInfo.Path); delErr != nil {
				zap.S().Warnw("清理上传文件失败", "path", fileInfo.Path, "error", delErr)
			}
			writeServiceError(w, r, err)
			return
		}
		resp.Message = message
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}
