package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// TempPrefix holds uploads of sessions that are not promoted yet
	TempPrefix = "temp-imports"
	// PermanentPrefix holds images of catalog products
	PermanentPrefix = "products"
)

var ErrInvalidPath = errors.New("path is outside the temporary import namespace")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// BlobStore is path addressed file storage
type BlobStore interface {
	Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) (string, error)
	Copy(ctx context.Context, srcPath, dstPath string) error
	PublicURL(path string) string
	List(ctx context.Context, prefix string) ([]string, error)
	DeleteMany(ctx context.Context, paths []string) error
}

// SessionPrefix returns the temporary namespace of an import session
func SessionPrefix(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/", TempPrefix, sessionID.String())
}

// TempPath returns a fresh temporary path for an uploaded file
func TempPath(sessionID uuid.UUID, filename string) string {
	return SessionPrefix(sessionID) + uuid.New().String()[:8] + "-" + SanitizeFilename(filename)
}

// PermanentPath maps a temporary path onto the catalog namespace of a store,
// keeping everything after the session prefix.
func PermanentPath(storeID string, tempPath string) (string, error) {
	parts := strings.SplitN(tempPath, "/", 3)
	if len(parts) != 3 || parts[0] != TempPrefix || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, tempPath)
	}
	return fmt.Sprintf("%s/%s/%s", PermanentPrefix, storeID, parts[2]), nil
}

// SanitizeFilename keeps a filename safe to use as the last segment of an object key
func SanitizeFilename(filename string) string {
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		return "file"
	}
	return name
}
