// Package cache persists snapshots shared between check invocations.
// A file holds 4 bytes magic, format version and snappy compressed gob payload.
// Files are replaced atomically, readers never see partial content.
package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/gwos/autodt/errors"
)

// Version of the file format
const Version byte = 1

// ErrFormat is returned on unknown magic or version
var ErrFormat = fmt.Errorf("%w: %v", errors.ErrTransient, "unknown cache format")

// Marshal encodes value with header
func Marshal(magic string, v any) ([]byte, error) {
	if len(magic) != 4 {
		return nil, fmt.Errorf("%w: bad magic %q", errors.ErrInvariant, magic)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	res := make([]byte, 0, 5+snappy.MaxEncodedLen(buf.Len()))
	res = append(res, magic...)
	res = append(res, Version)
	return append(res, snappy.Encode(nil, buf.Bytes())...), nil
}

// Unmarshal decodes value checking header
func Unmarshal(magic string, data []byte, v any) error {
	if len(data) < 5 || string(data[:4]) != magic || data[4] != Version {
		return ErrFormat
	}
	payload, err := snappy.Decode(nil, data[5:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}

// WriteFile writes value via temp file and rename
func WriteFile(path, magic string, v any) error {
	data, err := Marshal(magic, v)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile reads value and returns file modification time
func ReadFile(path, magic string, v any) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), Unmarshal(magic, data, v)
}

// FileTime returns file modification time
func FileTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
