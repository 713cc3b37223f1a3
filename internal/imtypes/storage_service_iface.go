package imtypes

import (
	"context"
	"io"
)

// StorageService 定义了文件存储操作的接口。
// 放在 imtypes 中以打破 storage 和 services 之间的循环依赖。
type StorageService interface {
	// UploadFile 将 reader 中的内容上传到存储系统，返回包含访问 URL 的 FileInfo。
	UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*FileInfo, error)
	// DeleteFile 删除 UploadFile 返回的 Path。
	DeleteFile(ctx context.Context, path string) error
}
