package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"batchd/internal/common/fsutil"
	"batchd/pkg/types"
)

// ErrNoEngine is returned when a directory holds no usable engine.
var ErrNoEngine = errors.New("no engine found")

// engineMarker reports whether name is an engine artifact. A directory counts
// as an engine when it holds at least one *.engine file.
func engineMarker(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".engine")
}

// LoadDir scans dir for engine sub-directories, sorted by id. The id is the
// sub-directory name. dir itself is returned as a single engine when it
// directly holds engine files.
func LoadDir(dir string) ([]types.Engine, error) {
	abs, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, err
	}
	if files, err := engineFiles(abs); err != nil {
		return nil, err
	} else if len(files) > 0 {
		return []types.Engine{{ID: filepath.Base(abs), Path: abs, Files: files}}, nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var engines []types.Engine
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(abs, e.Name())
		files, err := engineFiles(p)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			continue
		}
		engines = append(engines, types.Engine{ID: e.Name(), Path: p, Files: files})
	}
	return engines, nil
}

func engineFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && engineMarker(e.Name()) {
			files = append(files, e.Name())
		}
	}
	slices.Sort(files)
	return files, nil
}

// Resolve picks the engine named id from dir. An empty id is accepted when
// dir holds exactly one engine.
func Resolve(dir, id string) (types.Engine, error) {
	engines, err := LoadDir(dir)
	if err != nil {
		return types.Engine{}, err
	}
	if len(engines) == 0 {
		return types.Engine{}, fmt.Errorf("%w in %s", ErrNoEngine, dir)
	}
	if id == "" {
		if len(engines) > 1 {
			return types.Engine{}, fmt.Errorf("%d engines in %s, select one", len(engines), dir)
		}
		return engines[0], nil
	}
	for _, e := range engines {
		if e.ID == id {
			return e, nil
		}
	}
	return types.Engine{}, fmt.Errorf("%w: %q in %s", ErrNoEngine, id, dir)
}
