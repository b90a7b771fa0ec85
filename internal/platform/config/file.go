package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileFields reports which keys a settings file defined.
type FileFields interface {
	IsDefined(key ...string) bool
}

// LoadFile decodes the TOML settings file at path into target.
//
// A blank path is a no-op. A missing file is a no-op only when optional is
// true, so a path that was asked for explicitly fails loudly.
func LoadFile(path string, optional bool, target any) (FileFields, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return &toml.MetaData{}, nil
	}
	meta, err := toml.DecodeFile(path, target)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return &toml.MetaData{}, nil
		}
		return nil, fmt.Errorf("load settings file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load settings file %s: unknown key %q", path, undecoded[0].String())
	}
	return &meta, nil
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
