package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sessionWorkspace derives and provisions the per-session workspace
// directory, linking the shared long-term memory directory into it. The
// link step is idempotent.
func sessionWorkspace(workspaceRoot, dataDir, sessionID string) (string, error) {
	dir := filepath.Join(workspaceRoot, sanitizeSessionID(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session workspace: %w", err)
	}

	memorySrc := filepath.Join(dataDir, "memory")
	if err := os.MkdirAll(memorySrc, 0o755); err != nil {
		return "", fmt.Errorf("failed to create memory directory: %w", err)
	}

	memoryLink := filepath.Join(dir, "memory")
	if _, err := os.Lstat(memoryLink); err == nil {
		return dir, nil
	}
	if err := os.Symlink(memorySrc, memoryLink); err != nil && !os.IsExist(err) {
		return "", fmt.Errorf("failed to link memory directory: %w", err)
	}

	return dir, nil
}

// sanitizeSessionID maps a session id onto a safe directory name.
func sanitizeSessionID(sessionID string) string {
	var b strings.Builder
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

// extendAllowlist returns the allowlist extended with each requested
// file path and its parent directory, deduplicated and order-preserving.
func extendAllowlist(allowlist, fileRoots []string) []string {
	out := make([]string, 0, len(allowlist)+2*len(fileRoots))
	seen := make(map[string]struct{}, len(allowlist)+2*len(fileRoots))

	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}

	for _, path := range allowlist {
		add(path)
	}
	for _, path := range fileRoots {
		add(path)
		add(filepath.Dir(path))
	}
	return out
}

// equalRoots reports whether two file-root lists are identical in
// content and order.
func equalRoots(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
