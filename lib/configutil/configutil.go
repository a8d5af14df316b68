package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

func unmarshal(ext string, data []byte, out any) error {
	switch strings.ToLower(ext) {
	case "yaml", "yml":
		return yaml.Unmarshal(data, out)
	default:
		return json5.Unmarshal(data, out)
	}
}

// ReadConfig reads a configuration file, `name` should come with a file extension
// (.json5, .json, .yaml or .yml) which picks the decoder.
// this function will merge the following files, where higher number is more prioritized.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
//
// os.ErrNotExist is returned when neither file exists.
func ReadConfig[T any](name string) (T, error) {
	var out T
	allNotFound := true

	dirname := filepath.Dir(name)
	basename := filepath.Base(name)
	prefixname, ext := splitExt(basename)

	defaultFile, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if err == nil {
		if len(defaultFile) > 0 {
			err = unmarshal(ext, defaultFile, &out)
			if err != nil {
				return out, fmt.Errorf("parse %s: %w", name, err)
			}
		}
		allNotFound = false
	}

	localFilepath := filepath.Join(
		dirname,
		fmt.Sprintf("%s.local.%s", prefixname, ext),
	)
	localFile, err := os.ReadFile(localFilepath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if err == nil {
		if len(localFile) > 0 {
			var override T
			err = unmarshal(ext, localFile, &override)
			if err != nil {
				return out, fmt.Errorf("parse %s: %w", localFilepath, err)
			}
			err = mergo.Merge(&out, override, mergo.WithOverride)
			if err != nil {
				return out, err
			}
			slog.Info("merging config with local overrides", "local", localFilepath)
		}
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}

	return out, nil
}

// ReadRecursively is ReadConfig but it goes up the filesystem from the working
// directory until the root to find a configuration file matching the name.
func ReadRecursively[T any](name string) (T, error) {
	var defaultOut T

	current, err := os.Getwd()
	if err != nil {
		return defaultOut, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return defaultOut, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return defaultOut, os.ErrNotExist
		}
		current = parent
	}
}
