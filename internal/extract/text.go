package extract

import (
	"context"
	"regexp"
	"strings"
)

const (
	defaultWindowTokens  = 400
	defaultOverlapTokens = 80
)

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// textExtractor groups paragraphs into windows of roughly maxTokens, carrying
// trailing paragraphs up to overlapTokens into the next window.
type textExtractor struct {
	maxTokens     int
	overlapTokens int
}

func NewTextExtractor() IExtractor {
	return &textExtractor{maxTokens: defaultWindowTokens, overlapTokens: defaultOverlapTokens}
}

func (t *textExtractor) Extract(ctx context.Context, name string, raw []byte) ([]Block, error) {
	return t.split(cleanText(string(raw)), 0), nil
}

func (t *textExtractor) split(text string, page int) []Block {
	if text == "" {
		return nil
	}
	var paras []string
	for _, p := range paragraphSplit.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paras = append(paras, splitLong(p, t.maxTokens)...)
	}
	var (
		blocks  []Block
		current []string
		tokens  int
		fresh   int
	)
	flush := func() {
		if fresh == 0 {
			return
		}
		content := strings.Join(current, "\n\n")
		blocks = append(blocks, Block{Content: content, EmbedText: content, Page: page})
		var keep []string
		kept := 0
		for i := len(current) - 1; i > 0; i-- {
			n := estimateTokens(current[i])
			if kept+n > t.overlapTokens {
				break
			}
			kept += n
			keep = append([]string{current[i]}, keep...)
		}
		current = keep
		tokens = kept
		fresh = 0
	}
	for _, p := range paras {
		n := estimateTokens(p)
		if tokens+n > t.maxTokens {
			flush()
		}
		current = append(current, p)
		tokens += n
		fresh++
	}
	flush()
	return blocks
}

// splitLong cuts a single oversized paragraph on word boundaries. Words that
// alone exceed maxTokens are cut by rune.
func splitLong(p string, maxTokens int) []string {
	if estimateTokens(p) <= maxTokens {
		return []string{p}
	}
	var (
		out []string
		cur []string
		n   int
	)
	emit := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, strings.Join(cur, " "))
		cur = nil
		n = 0
	}
	for _, w := range strings.Fields(p) {
		wt := wordTokens(w)
		if wt > maxTokens {
			emit()
			out = append(out, splitWord(w, maxTokens)...)
			continue
		}
		if n+wt > maxTokens {
			emit()
		}
		cur = append(cur, w)
		n += wt
	}
	emit()
	return out
}

// splitWord cuts text without spaces, CJK prose or an encoded blob, into
// pieces of at most maxTokens.
func splitWord(w string, maxTokens int) []string {
	var out []string
	start, ascii, other := 0, 0, 0
	for i, r := range w {
		a, o := ascii, other
		if r > 127 {
			o++
		} else {
			a++
		}
		if runTokens(a, o) > maxTokens && i > start {
			out = append(out, w[start:i])
			start, a, o = i, 0, 0
			if r > 127 {
				o = 1
			} else {
				a = 1
			}
		}
		ascii, other = a, o
	}
	if start < len(w) {
		out = append(out, w[start:])
	}
	return out
}

func init() {
	Register("text/plain", NewTextExtractor())
}
