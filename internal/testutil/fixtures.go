// Package testutil provides project fixtures and graph assertions for tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Project is a throwaway project tree on disk.
type Project struct {
	t    *testing.T
	Root string
	// GUIDs maps project-relative paths (as written) to their GUIDs.
	GUIDs map[string]string
}

// NewProject creates an empty project with an Assets directory.
func NewProject(t *testing.T) *Project {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Assets"), 0755); err != nil {
		t.Fatalf("failed to create Assets: %v", err)
	}
	return &Project{t: t, Root: root, GUIDs: make(map[string]string)}
}

// WriteFile writes content to rel below the project root.
func (p *Project) WriteFile(rel, content string) string {
	p.t.Helper()
	path := filepath.Join(p.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		p.t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		p.t.Fatalf("failed to write %s: %v", rel, err)
	}
	return path
}

// Mkdir creates rel below the project root.
func (p *Project) Mkdir(rel string) string {
	p.t.Helper()
	path := filepath.Join(p.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(path, 0755); err != nil {
		p.t.Fatalf("failed to create directory: %v", err)
	}
	return path
}

// AddAsset writes a serialized asset at rel referencing refs, registers
// guid for it and writes the matching .meta file.
func (p *Project) AddAsset(rel, guid string, refs ...string) string {
	p.t.Helper()
	path := p.WriteFile(rel, SerializedAsset(refs...))
	p.Register(rel, guid)
	return path
}

// AddBinary writes an opaque asset (e.g. a texture) at rel and registers guid.
func (p *Project) AddBinary(rel, guid string) string {
	p.t.Helper()
	path := p.WriteFile(rel, "\x89PNG\r\n\x1a\n")
	p.Register(rel, guid)
	return path
}

// Register records guid for rel and writes the .meta file next to it.
func (p *Project) Register(rel, guid string) {
	p.t.Helper()
	p.GUIDs[rel] = guid
	p.WriteFile(rel+".meta", fmt.Sprintf("fileFormatVersion: 2\nguid: %s\n", guid))
}

// SerializedAsset renders a minimal text-serialized asset whose documents
// reference each GUID in refs.
func SerializedAsset(refs ...string) string {
	var b strings.Builder
	b.WriteString("%YAML 1.1\n%TAG !u! tag:unity3d.com,2011:\n")
	b.WriteString("--- !u!1 &100000\nGameObject:\n  m_Name: Root\n")
	for i, guid := range refs {
		fmt.Fprintf(&b, "--- !u!114 &%d\nMonoBehaviour:\n  m_Script: {fileID: 11500000, guid: %s, type: 3}\n", 200000+i, guid)
	}
	return b.String()
}

// GUID returns a deterministic 32-hex-digit GUID for n.
func GUID(n int) string {
	return fmt.Sprintf("%032x", n)
}
