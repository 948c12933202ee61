// Package extract turns traversal entries into raw reference tokens. It runs
// inside worker processes: folders list their direct children, analyzable
// files are handed to an Extractor.
package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/asset-graph/internal/index"
	apperrors "github.com/asset-graph/pkg/errors"
)

// ErrUnsupportedFormat signals that an extractor cannot read a file. It is
// recoverable: the caller falls back to a textual scan.
var ErrUnsupportedFormat = apperrors.ErrUnsupportedFormat

// Extractor returns the raw reference tokens (paths or GUIDs) of one file.
type Extractor interface {
	ExtractReferences(ctx context.Context, path string) ([]string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, path string) ([]string, error)

// ExtractReferences calls f.
func (f ExtractorFunc) ExtractReferences(ctx context.Context, path string) ([]string, error) {
	return f(ctx, path)
}

// Chain tries extractors in order, moving to the next one only when the
// current one reports ErrUnsupportedFormat.
type Chain []Extractor

// ExtractReferences implements Extractor.
func (c Chain) ExtractReferences(ctx context.Context, path string) ([]string, error) {
	for _, e := range c {
		tokens, err := e.ExtractReferences(ctx, path)
		if errors.Is(err, ErrUnsupportedFormat) {
			continue
		}
		return tokens, err
	}
	return nil, ErrUnsupportedFormat
}

var yamlHeader = []byte("%YAML")

// SerializedTextExtractor reads text-serialized assets: YAML documents
// starting with a %YAML directive. Every scalar under a "guid" key is a
// reference.
type SerializedTextExtractor struct{}

// ExtractReferences implements Extractor.
func (SerializedTextExtractor) ExtractReferences(ctx context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if !bytes.HasPrefix(data, yamlHeader) {
		return nil, ErrUnsupportedFormat
	}

	seen := make(map[string]struct{})
	var tokens []string
	dec := yaml.NewDecoder(bytes.NewReader(stripDocumentTags(data)))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var doc yaml.Node
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, apperrors.Wrapf(apperrors.CodeUnsupportedFormat, err, "decode %s", path)
		}
		collectGUIDs(&doc, func(guid string) {
			if _, ok := seen[guid]; !ok {
				seen[guid] = struct{}{}
				tokens = append(tokens, guid)
			}
		})
	}
	return tokens, nil
}

// stripDocumentTags drops directives and reduces "--- !u!1 &123 stripped"
// document markers to "---". The %TAG directive only covers the first
// document, so the class tags of later documents would not decode.
func stripDocumentTags(data []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(data))
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, []byte("%")):
			continue
		case bytes.HasPrefix(line, []byte("--- ")):
			out.WriteString("---\n")
		default:
			out.Write(line)
		}
	}
	return out.Bytes()
}

func collectGUIDs(n *yaml.Node, emit func(string)) {
	if n == nil {
		return
	}
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Value == "guid" && v.Kind == yaml.ScalarNode && index.IsGUID(v.Value) {
				emit(v.Value)
				continue
			}
			collectGUIDs(v, emit)
		}
		return
	}
	for _, c := range n.Content {
		collectGUIDs(c, emit)
	}
}

// unsupportedExitCode is the exit status a native extractor uses to report
// a format it cannot read.
const unsupportedExitCode = 2

// CommandExtractor runs an external extractor binary with the file path as
// its last argument and reads one token per stdout line.
type CommandExtractor struct {
	Command []string
}

// NewCommandExtractor creates a CommandExtractor. It returns nil when argv
// is empty.
func NewCommandExtractor(argv []string) *CommandExtractor {
	if len(argv) == 0 {
		return nil
	}
	return &CommandExtractor{Command: append([]string(nil), argv...)}
}

// ExtractReferences implements Extractor.
func (c *CommandExtractor) ExtractReferences(ctx context.Context, path string) ([]string, error) {
	args := append(append([]string(nil), c.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == unsupportedExitCode {
			return nil, ErrUnsupportedFormat
		}
		return nil, fmt.Errorf("extractor %s: %w: %s", c.Command[0], err, strings.TrimSpace(stderr.String()))
	}

	var tokens []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if t := strings.TrimSpace(sc.Text()); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens, sc.Err()
}
