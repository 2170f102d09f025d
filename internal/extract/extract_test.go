package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for _, ct := range []string{"text/plain", "text/plain; charset=utf-8", "TEXT/MARKDOWN", "application/pdf"} {
		require.True(t, Supported(ct), ct)
	}
	require.False(t, Supported("image/png"))
	require.False(t, Supported(""))
}

func TestTextExtractor_Empty(t *testing.T) {
	blocks, err := NewTextExtractor().Extract(context.Background(), "a.txt", []byte("  \n\n "))
	require.NoError(t, err)
	require.Empty(t, blocks)
}

func TestTextExtractor_Windows(t *testing.T) {
	para := strings.TrimSpace(strings.Repeat("word ", 150))
	raw := strings.Join([]string{para, para, para, para}, "\n\n")
	blocks, err := NewTextExtractor().Extract(context.Background(), "a.txt", []byte(raw))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	for _, b := range blocks {
		require.LessOrEqual(t, estimateTokens(b.Content), defaultWindowTokens)
		require.Equal(t, b.Content, b.EmbedText)
		require.Equal(t, 0, b.Page)
	}
}

func TestTextExtractor_Overlap(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("alpha ", 330))
	short := "tail paragraph"
	next := strings.TrimSpace(strings.Repeat("beta ", 100))
	raw := long + "\n\n" + short + "\n\n" + next
	blocks, err := NewTextExtractor().Extract(context.Background(), "a.txt", []byte(raw))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.True(t, strings.HasPrefix(blocks[1].Content, short))
}

func TestTextExtractor_SplitsOversizedParagraph(t *testing.T) {
	raw := strings.TrimSpace(strings.Repeat("x ", 1000))
	blocks, err := NewTextExtractor().Extract(context.Background(), "a.txt", []byte(raw))
	require.NoError(t, err)
	require.Len(t, blocks, 3)
}

func TestTextExtractor_SplitsTextWithoutSpaces(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "cjk", raw: strings.Repeat("检索增强生成", 200)},
		{name: "encoded blob", raw: "see " + strings.Repeat("QUJDRA==", 1000) + " end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks, err := NewTextExtractor().Extract(context.Background(), "a.txt", []byte(tt.raw))
			require.NoError(t, err)
			require.Greater(t, len(blocks), 1)
			var joined strings.Builder
			for _, b := range blocks {
				require.LessOrEqual(t, estimateTokens(b.Content), defaultWindowTokens)
				joined.WriteString(b.Content)
			}
			require.Equal(t, strings.ReplaceAll(tt.raw, " ", ""), strings.NewReplacer(" ", "", "\n", "").Replace(joined.String()))
		})
	}
}

func TestSplitWord(t *testing.T) {
	require.Equal(t, []string{"abcdefgh", "ijklmnop", "q"}, splitWord("abcdefghijklmnopq", 1))
	require.Equal(t, []string{"一二", "三"}, splitWord("一二三", 2))
	require.Equal(t, []string{"short"}, splitWord("short", 4))
}

func TestMarkdownExtractor_Sections(t *testing.T) {
	raw := "# Intro\n\nHello there.\n\n## Setup\n\nRun the thing.\n\n```go\nfmt.Println(1)\n```\n"
	blocks, err := NewMarkdownExtractor().Extract(context.Background(), "a.md", []byte(raw))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, "Hello there.", blocks[0].Content)
	require.Equal(t, "Heading: Intro\nHello there.", blocks[0].EmbedText)
	require.Contains(t, blocks[1].Content, "Run the thing.")
	require.Contains(t, blocks[1].Content, "```go\nfmt.Println(1)\n```")
	require.True(t, strings.HasPrefix(blocks[1].EmbedText, "Heading: Setup\n"))
}

func TestPDFExtractor_Invalid(t *testing.T) {
	_, err := NewPDFExtractor().Extract(context.Background(), "a.pdf", []byte("not a pdf"))
	require.Error(t, err)
}
