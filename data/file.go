package data

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swarmguard/workflow-engine/datum"
)

// fileBackend treats the pointer as a filesystem path: validation is path
// well-formedness, verify is an existence check, and clear removes the file
// at the path, whoever created it.
type fileBackend struct{}

func (fileBackend) ValidateFormat(pointer any) bool {
	path, ok := pointer.(string)
	if !ok || path == "" {
		return false
	}
	return filepath.IsAbs(path) || filepath.Clean(path) == path
}

func (fileBackend) VerifyAvailable(pointer any) bool {
	path := pointer.(string)
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (fileBackend) ClearLogic(pointer any) {
	path := pointer.(string)
	_ = os.Remove(path)
}

func (fileBackend) Quickhash(pointer any) string {
	path := pointer.(string)
	info, err := os.Stat(path)
	if err != nil {
		return hashOf(path)
	}
	return hashOf(fmt.Sprintf("%s:%d:%d", path, info.Size(), info.ModTime().UnixNano()))
}

// NewFile returns an EMPTY filesystem-path Datum.
func NewFile() *datum.Base {
	return datum.NewBase(fileBackend{})
}

func hashOf(v any) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", v)))
	return hex.EncodeToString(sum[:])[:16]
}
