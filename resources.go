package mybatis

import (
	"os"
	"path/filepath"
)

// FileResources resolves mapper resource names against a base directory on
// disk, the default Resources collaborator for applications that ship their
// mapper XML as plain files (no ecosystem embed/classpath-style loader
// appeared anywhere in the retrieved pack, so this is stdlib os/filepath).
type FileResources struct {
	BaseDir string
}

func NewFileResources(baseDir string) *FileResources {
	return &FileResources{BaseDir: baseDir}
}

func (r *FileResources) Read(name string) ([]byte, error) {
	path := name
	if r.BaseDir != "" && !filepath.IsAbs(name) {
		path = filepath.Join(r.BaseDir, name)
	}
	return os.ReadFile(path)
}

// MapResources serves mapper resources from an in-memory map, used by tests
// and by callers that embed their mapper XML via go:embed and hand the
// decoded contents in directly.
type MapResources map[string][]byte

func (r MapResources) Read(name string) ([]byte, error) {
	data, ok := r[name]
	if !ok {
		return nil, newParseError("resource %q not found", name)
	}
	return data, nil
}
