package extract

import (
	"os"
	"regexp"
)

var guidPattern = regexp.MustCompile(`guid:\s?([0-9a-fA-F]{32})\b`)

// ScanGUIDs is the best-effort fallback: it pattern-matches "guid: <hex>"
// in the raw bytes of path. It never fails; an unreadable file yields nil.
func ScanGUIDs(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return scanGUIDs(data)
}

func scanGUIDs(data []byte) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range guidPattern.FindAllSubmatch(data, -1) {
		g := string(m[1])
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
