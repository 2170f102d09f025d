package extract

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

// markdownExtractor sections a document on level 1 and 2 headings. Text
// blocks overlap slightly; fenced code is never split.
type markdownExtractor struct {
	maxTokens     int
	overlapTokens int
}

func NewMarkdownExtractor() IExtractor {
	return &markdownExtractor{maxTokens: defaultWindowTokens, overlapTokens: defaultOverlapTokens}
}

func (m *markdownExtractor) Extract(ctx context.Context, name string, raw []byte) ([]Block, error) {
	logger := logutil.GetLogger(ctx)
	reader := text.NewReader(raw)
	doc := goldmark.New().Parser().Parse(reader)
	src := reader.Source()

	var (
		blocks  []Block
		current []string
		tokens  int
		fresh   int
		heading string
		hasCode bool
	)
	flush := func() {
		if fresh == 0 {
			return
		}
		content := strings.Join(current, "\n\n")
		embed := content
		if heading != "" {
			embed = "Heading: " + heading + "\n" + content
		}
		blocks = append(blocks, Block{Content: content, EmbedText: embed})
		if !hasCode && len(current) > 1 {
			var keep []string
			kept := 0
			for i := len(current) - 1; i > 0; i-- {
				n := estimateTokens(current[i])
				if kept+n > m.overlapTokens {
					break
				}
				kept += n
				keep = append([]string{current[i]}, keep...)
			}
			current, tokens = keep, kept
		} else {
			current, tokens = nil, 0
		}
		fresh = 0
		hasCode = false
	}
	add := func(part string, n int) {
		current = append(current, part)
		tokens += n
		fresh++
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			title := nodeText(n, src)
			if n.Level <= 2 {
				flush()
				current, tokens = nil, 0
				heading = title
				continue
			}
			if title != "" {
				add(title, estimateTokens(title))
			}
		case *ast.FencedCodeBlock:
			lang := string(n.Language(src))
			var code strings.Builder
			for i := 0; i < n.Lines().Len(); i++ {
				line := n.Lines().At(i)
				code.Write(line.Value(src))
			}
			part := "```" + lang + "\n" + strings.TrimRight(code.String(), "\n") + "\n```"
			size := estimateTokens(code.String())
			if tokens+size > m.maxTokens {
				flush()
			}
			add(part, size)
			hasCode = true
		default:
			txt := nodeText(n, src)
			if txt == "" {
				continue
			}
			size := estimateTokens(txt)
			if tokens+size > m.maxTokens {
				flush()
			}
			add(txt, size)
		}
	}
	flush()
	logger.Debug("markdown extracted", zap.String("name", name), zap.Int("blocks", len(blocks)))
	return blocks, nil
}

func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := node.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func init() {
	Register("text/markdown", NewMarkdownExtractor())
	Register("text/x-markdown", NewMarkdownExtractor())
}
