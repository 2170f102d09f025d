package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// pdfExtractor emits text windows per page so every block keeps its page
// number.
type pdfExtractor struct {
	text *textExtractor
}

func NewPDFExtractor() IExtractor {
	return &pdfExtractor{text: &textExtractor{maxTokens: defaultWindowTokens, overlapTokens: defaultOverlapTokens}}
}

func (e *pdfExtractor) Extract(ctx context.Context, name string, raw []byte) ([]Block, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: %w", err)
	}
	var blocks []Block
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logutil.GetLogger(ctx).Warn("skip unreadable pdf page",
				zap.String("name", name), zap.Int("page", i), zap.Error(err))
			continue
		}
		blocks = append(blocks, e.text.split(cleanText(text), i)...)
	}
	return blocks, nil
}

func init() {
	Register("application/pdf", NewPDFExtractor())
}
