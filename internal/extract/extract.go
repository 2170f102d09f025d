package extract

import (
	"context"
	"mime"
	"strings"
	"sync"
)

// Block is one ordered unit of extracted text. EmbedText is what gets
// embedded; it may carry extra context such as the section heading.
type Block struct {
	Content   string
	EmbedText string
	Page      int
}

type IExtractor interface {
	Extract(ctx context.Context, name string, raw []byte) ([]Block, error)
}

var (
	mu         sync.RWMutex
	extractors = map[string]IExtractor{}
)

// Register binds an extractor to a media type. Parameters such as charset are
// ignored on lookup.
func Register(contentType string, ex IExtractor) {
	key := normalize(contentType)
	if key == "" || ex == nil {
		return
	}
	mu.Lock()
	extractors[key] = ex
	mu.Unlock()
}

func Lookup(contentType string) (IExtractor, bool) {
	key := normalize(contentType)
	mu.RLock()
	defer mu.RUnlock()
	ex, ok := extractors[key]
	return ex, ok
}

func Supported(contentType string) bool {
	_, ok := Lookup(contentType)
	return ok
}

func normalize(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(contentType)
}

// asciiCharsPerToken sizes long ASCII runs such as URLs or encoded blobs.
const asciiCharsPerToken = 8

// estimateTokens counts each non-ASCII rune as a token and every ASCII word
// as one token per asciiCharsPerToken bytes; close enough for sizing chunks
// across English and CJK text.
func estimateTokens(text string) int {
	count := 0
	for _, w := range strings.Fields(text) {
		count += wordTokens(w)
	}
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}

func wordTokens(w string) int {
	ascii, other := 0, 0
	for _, r := range w {
		if r > 127 {
			other++
		} else {
			ascii++
		}
	}
	return runTokens(ascii, other)
}

func runTokens(ascii, other int) int {
	return other + (ascii+asciiCharsPerToken-1)/asciiCharsPerToken
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}
