// Package filter holds the rule tables that decide which paths are traversed,
// which files are handed to reference extraction, which become package nodes
// and what asset type a file extension maps to.
package filter

import (
	"path"
	"strings"

	"github.com/asset-graph/pkg/config"
)

// Asset type names.
const (
	TypeFolder        = "Folder"
	TypeUnknown       = "Unknown"
	TypeExecutable    = "Executable"
	TypeUnityAssembly = "UnityAssembly"
	TypeSourceFile    = "SourceFile"
	TypeMakeFile      = "MakeFile"
	TypeDatFile       = "DatFile"
	TypeAudioClip     = "AudioClip"
	TypeVideoClip     = "VideoClip"
	TypeMaterial      = "Material"
	TypeTexture       = "Texture"
	TypeMesh          = "Mesh"
	TypeShader        = "Shader"
	TypeComputeShader = "ComputeShader"
	TypeShaderHeader  = "ShaderHeader"
	TypeFont          = "Font"
	TypeBinary        = "Binary"
	TypeTextFile      = "TextFile"
	TypeExcel         = "Excel"
	TypeScene         = "Scene"
	TypePrefab        = "Prefab"
)

var defaultTypes = map[string][]string{
	TypeExecutable:    {".a", ".dll", ".so", ".exe", ".dynlib"},
	TypeUnityAssembly: {".asmdef", ".asmref"},
	TypeSourceFile: {".cs", ".lua", ".js", ".ts", ".java", ".h", ".cpp", ".cxx",
		".mm", ".py", ".bat", ".jar", ".arr", ".jslib"},
	TypeMakeFile:      {".gradle"},
	TypeDatFile:       {".dat", ".data"},
	TypeAudioClip:     {".mp3", ".ogg", ".wav"},
	TypeVideoClip:     {".mp4", ".webm"},
	TypeMaterial:      {".mat"},
	TypeTexture: {".rendertexture", ".dds", ".exr", ".hdr", ".png", ".jpg", ".gif",
		".psd", ".bmp", ".tiff", ".tga", ".gradient", ".spriteatlas"},
	TypeMesh:          {".obj", ".fbx", ".mesh"},
	TypeShader:        {".shader", ".surfshader", ".shadergraph"},
	TypeComputeShader: {".compute"},
	TypeShaderHeader:  {".hlsl", ".cginc", ".shadersubgraph"},
	TypeFont:          {".otf", ".ttf"},
	TypeBinary:        {".byte", ".bytes", ".bin"},
	TypeTextFile: {".txt", ".md", ".chm", ".yml", ".url", ".json", ".json5", ".xml",
		".uxml", ".nson", ".config", ".pdf"},
	TypeExcel:  {".xlsx", ".xls"},
	TypeScene:  {".unity", ".scene"},
	TypePrefab: {".prefab"},
}

// DefaultTypeTable returns a fresh extension → asset type table.
func DefaultTypeTable() map[string]string {
	table := make(map[string]string, 96)
	for typ, exts := range defaultTypes {
		for _, ext := range exts {
			table[ext] = typ
		}
	}
	return table
}

// AssetFilter answers rule-table questions about paths. It is immutable
// after construction and safe for concurrent use.
type AssetFilter struct {
	exclude  []string
	analyze  map[string]struct{}
	packages map[string]struct{}
	types    map[string]string
}

// New builds a filter from configured rules. Empty tables fall back to the
// defaults; asset type entries are merged over the default type table.
func New(rules config.RulesConfig) *AssetFilter {
	exclude := rules.ExcludeSuffixes
	if len(exclude) == 0 {
		exclude = config.DefaultExcludeSuffixes
	}
	analyze := rules.AnalyzeExtensions
	if len(analyze) == 0 {
		analyze = config.DefaultAnalyzeExtensions
	}
	packages := rules.PackageExtensions
	if len(packages) == 0 {
		packages = config.DefaultPackageExtensions
	}

	f := &AssetFilter{
		exclude:  make([]string, 0, len(exclude)),
		analyze:  toSet(analyze),
		packages: toSet(packages),
		types:    DefaultTypeTable(),
	}
	for _, s := range exclude {
		f.exclude = append(f.exclude, strings.ToLower(s))
	}
	for ext, typ := range rules.AssetTypes {
		f.types[normalizeExt(ext)] = typ
	}
	return f
}

// Default returns a filter with the built-in tables.
func Default() *AssetFilter {
	return New(config.RulesConfig{})
}

// Excluded reports whether p ends with an excluded suffix.
func (f *AssetFilter) Excluded(p string) bool {
	lower := strings.ToLower(p)
	for _, s := range f.exclude {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// NeedsAnalysis reports whether a file's content must be scanned for references.
func (f *AssetFilter) NeedsAnalysis(p string) bool {
	_, ok := f.analyze[Ext(p)]
	return ok
}

// IsPackage reports whether a file becomes a package node.
func (f *AssetFilter) IsPackage(p string) bool {
	_, ok := f.packages[Ext(p)]
	return ok
}

// TypeOf returns the asset type for a file path.
func (f *AssetFilter) TypeOf(p string) string {
	if typ, ok := f.types[Ext(p)]; ok {
		return typ
	}
	return TypeUnknown
}

// Ext returns the lower-cased extension of p, handling both separators.
func Ext(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.ToLower(path.Ext(p))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func toSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[normalizeExt(e)] = struct{}{}
	}
	return set
}
