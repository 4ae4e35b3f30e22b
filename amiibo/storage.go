package amiibo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage persists tag images by name. The controller flushes through it;
// names are whatever the caller used to load the tag, typically a file path.
type Storage interface {
	Load(name string) ([]byte, error)
	Store(name string, data []byte) error
}

// FileStorage stores one image per file. Writes go through a temporary
// file and a rename so a crash mid-write never truncates a dump.
type FileStorage struct{}

func NewFileStorage() *FileStorage {
	return &FileStorage{}
}

func (fs *FileStorage) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	if len(data) != ImageSize {
		return nil, fmt.Errorf("%s: unexpected image size %d, want %d", name, len(data), ImageSize)
	}
	return data, nil
}

func (fs *FileStorage) Store(name string, data []byte) error {
	if len(data) != ImageSize {
		return fmt.Errorf("%s: unexpected image size %d, want %d", name, len(data), ImageSize)
	}
	dir := filepath.Dir(name)
	tmp, err := os.CreateTemp(dir, filepath.Base(name)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), name)
}

// MemoryStorage keeps images in a map. Used in tests and for tags loaded
// from the wire rather than from disk.
type MemoryStorage struct {
	mu     sync.RWMutex
	images map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{images: make(map[string][]byte)}
}

func (ms *MemoryStorage) Load(name string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	data, ok := ms.images[name]
	if !ok {
		return nil, fmt.Errorf("no stored image named %q", name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (ms *MemoryStorage) Store(name string, data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	ms.images[name] = stored
	return nil
}
