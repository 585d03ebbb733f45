package repository

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"realtime_chat_service/pkg/database"
	errprocess "realtime_chat_service/pkg/err"
)

const avatarURLExpiry = 7 * 24 * time.Hour

// AvatarRepository room avatar objects
type AvatarRepository interface {
	// Upload store the image and return the URL clients load it from
	Upload(ctx context.Context, roomID, fileName string, r io.Reader, size int64, contentType string) (string, error)
}

type minioAvatarRepository struct {
	mc        *database.MinIOClient
	publicURL string
	now       func() time.Time
}

// NewMinIOAvatarRepository create AvatarRepository; with an empty publicURL links are presigned
func NewMinIOAvatarRepository(mc *database.MinIOClient, publicURL string) AvatarRepository {
	return &minioAvatarRepository{
		mc:        mc,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// AvatarObjectName rooms/{roomID}/avatar-{unix nano}{ext}
func AvatarObjectName(roomID, fileName string, at time.Time) string {
	return fmt.Sprintf("rooms/%s/avatar-%d%s", roomID, at.UnixNano(), strings.ToLower(path.Ext(fileName)))
}

func (a *minioAvatarRepository) Upload(ctx context.Context, roomID, fileName string, r io.Reader, size int64, contentType string) (string, error) {
	object := AvatarObjectName(roomID, fileName, a.now())
	if err := a.mc.PutObject(ctx, object, r, size, contentType); err != nil {
		return "", errprocess.Store("upload avatar", err)
	}

	if a.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", a.publicURL, a.mc.BucketName, object), nil
	}
	u, err := a.mc.PresignGetURL(ctx, object, avatarURLExpiry)
	if err != nil {
		return "", errprocess.Store("presign avatar", err)
	}
	return u, nil
}
