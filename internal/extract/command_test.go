package extract

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperExtractor is not a real test: it is the fake native extractor
// that CommandExtractor runs through the test binary.
func TestHelperExtractor(t *testing.T) {
	mode := os.Getenv("ASSETGRAPH_HELPER_EXTRACTOR")
	if mode == "" {
		t.Skip("helper process")
	}
	switch mode {
	case "ok":
		fmt.Println(texGUID)
		fmt.Println("")
		fmt.Println("  Assets/b.png  ")
		os.Exit(0)
	case "unsupported":
		os.Exit(unsupportedExitCode)
	default:
		fmt.Fprintln(os.Stderr, "corrupt serialized file")
		os.Exit(1)
	}
}

func helperExtractor(t *testing.T, mode string) *CommandExtractor {
	t.Setenv("ASSETGRAPH_HELPER_EXTRACTOR", mode)
	return NewCommandExtractor([]string{os.Args[0], "-test.run=^TestHelperExtractor$", "--"})
}

func TestCommandExtractor(t *testing.T) {
	ctx := context.Background()

	t.Run("tokens", func(t *testing.T) {
		tokens, err := helperExtractor(t, "ok").ExtractReferences(ctx, "a.mat")
		require.NoError(t, err)
		assert.Equal(t, []string{texGUID, "Assets/b.png"}, tokens)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := helperExtractor(t, "unsupported").ExtractReferences(ctx, "a.mat")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("failure", func(t *testing.T) {
		_, err := helperExtractor(t, "fail").ExtractReferences(ctx, "a.mat")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnsupportedFormat)
		assert.Contains(t, err.Error(), "corrupt serialized file")
	})

	assert.Nil(t, NewCommandExtractor(nil))
}
