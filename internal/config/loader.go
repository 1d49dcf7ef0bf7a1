package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadSitesFile loads site configurations from a YAML file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadSitesFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}

	if cf.Sites == nil {
		cf.Sites = make(map[string]SiteConfig)
	}

	return &cf, nil
}

// FindConfigFile searches for name in the following order:
// 1. If explicit is specified, use it directly
// 2. The current directory
// 3. The XDG config directory (~/.config/tricrawl)
//
// Returns the path to the file if found, or empty string if not found.
func FindConfigFile(explicit, name string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	candidates := []string{
		name,
		filepath.Join(XDGConfigDir(), name),
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates[0] = filepath.Join(cwd, name)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
