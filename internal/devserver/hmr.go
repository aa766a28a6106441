// Package devserver serves a built extension bundle and pushes hot-module
// reload notifications to the browser over a WebSocket.
package devserver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// ChangeType is the kind of filesystem change reported to clients.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeChange ChangeType = "change"
	ChangeUnlink ChangeType = "unlink"
)

// Payload is the message broadcast for every reload-worthy change.
type Payload struct {
	Topic             string     `json:"topic"`
	ChangeType        ChangeType `json:"changeType"`
	Path              string     `json:"path"`
	RootComponentPath string     `json:"rootComponentPath"`
}

// ChunkFromID names the chunk built from a module id: the path segments
// from "src" onward joined by "_", with script extensions removed. Without
// a "src" segment only the last segment is kept.
func ChunkFromID(id string) string {
	parts := strings.Split(id, "/")
	start := len(parts) - 1
	for i, p := range parts {
		if p == "src" {
			start = i
			break
		}
	}
	chunk := strings.Join(parts[start:], "_")
	for _, ext := range []string{".tsx", ".ts", ".js"} {
		chunk = strings.ReplaceAll(chunk, ext, "")
	}
	return chunk
}

// ScopeCSS scopes the global theme blocks of a stylesheet to the
// extension's root element so they do not override the host app.
func ScopeCSS(css, extensionName string) string {
	lines := strings.Split(css, "\n")
	for i, line := range lines {
		switch line {
		case ":root {":
			lines[i] = "#" + extensionName + " {"
		case ".dark {":
			lines[i] = ".dark #" + extensionName + " {"
		}
	}
	return strings.Join(lines, "\n")
}

// Hashes remembers the content hash of every watched file.
type Hashes struct {
	mu     sync.Mutex
	hashes map[string]string
}

// NewHashes returns an empty hash table.
func NewHashes() *Hashes {
	return &Hashes{hashes: make(map[string]string)}
}

// Update rehashes path and reports whether its content differs from the
// last recorded hash. A path seen for the first time counts as changed.
func (h *Hashes) Update(path string) (bool, error) {
	sum, err := fileHash(path)
	if err != nil {
		return false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.hashes[path]
	h.hashes[path] = sum
	return !ok || prev != sum, nil
}

// Known reports whether path has a recorded hash.
func (h *Hashes) Known(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.hashes[path]
	return ok
}

// Forget drops path.
func (h *Hashes) Forget(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.hashes, path)
}

// Paths lists the tracked files in sorted order.
func (h *Hashes) Paths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.hashes))
	for p := range h.hashes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked files.
func (h *Hashes) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hashes)
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
