package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// checkFilesystemAccess checks if a path is allowed
func checkFilesystemAccess(access FilesystemAccess, path string) error {
	if path == "" {
		return nil
	}

	cleanPath := filepath.Clean(path)

	for _, denied := range access.DeniedPaths {
		if withinPath(cleanPath, denied) {
			return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
		}
	}

	if len(access.AllowedPaths) == 0 {
		return nil
	}

	for _, allowed := range access.AllowedPaths {
		if withinPath(cleanPath, allowed) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
}

func withinPath(path, root string) bool {
	root = filepath.Clean(root)
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// buildEnvironment builds the worker environment from a minimal base, the
// passed-through parent variables and the configured extras.
func buildEnvironment(cfg Config, parent []string) []string {
	env := map[string]string{
		"PATH": "/usr/local/bin:/usr/bin:/bin",
		"HOME": os.TempDir(),
	}

	for _, kv := range parent {
		key, value, ok := strings.Cut(kv, "=")
		if ok && passes(cfg.PassEnv, key) {
			env[key] = value
		}
	}
	for key, value := range cfg.Env {
		env[key] = value
	}

	result := make([]string, 0, len(env))
	for key, value := range env {
		result = append(result, key+"="+value)
	}
	sort.Strings(result)
	return result
}

func passes(patterns []string, key string) bool {
	for _, pattern := range patterns {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		} else if pattern == key {
			return true
		}
	}
	return false
}
