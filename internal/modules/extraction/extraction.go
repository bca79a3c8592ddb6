package extraction

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/pdfsum-backend/internal/modules/chunker"
	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
)

// Result is the cleaned text layer of a PDF, one entry per page, in page
// order. Pages with no text are kept so page numbers stay aligned.
type Result struct {
	Pages      []chunker.Page
	PageCount  int
	TotalWords int
	EmptyPages int
	Duration   time.Duration
}

type Extractor struct {
	store objectstore.Store
	log   *logger.Logger
}

func New(store objectstore.Store, baseLog *logger.Logger) *Extractor {
	return &Extractor{store: store, log: baseLog.With("component", "PDFExtractor")}
}

// Extract reads the object at key through ranged reads and returns its text.
// Storage failures are returned as-is; an unparseable file is an
// *chunker.ExtractionError.
func (e *Extractor) Extract(ctx context.Context, key string) (res *Result, err error) {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "extraction.pdf", attribute.String("object_key", key))
	defer func() { observability.EndSpan(span, err) }()

	ra, err := objectstore.NewReaderAt(ctx, e.store, key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	res, err = Parse(ctx, ra, ra.Size())
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(started)
	span.SetAttributes(
		attribute.Int("page_count", res.PageCount),
		attribute.Int("total_words", res.TotalWords),
	)
	e.log.Info("PDF text extracted",
		"object_key", key,
		"pages", res.PageCount,
		"words", res.TotalWords,
		"empty_pages", res.EmptyPages,
		"fetches", ra.Fetches,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// Parse extracts page text from an in-memory or ranged PDF.
func Parse(ctx context.Context, r io.ReaderAt, size int64) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, &chunker.ExtractionError{Reason: fmt.Sprintf("malformed PDF: %v", rec)}
		}
	}()
	rd, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, &chunker.ExtractionError{Reason: fmt.Sprintf("unreadable PDF: %v", err)}
	}
	n := rd.NumPage()
	if n <= 0 {
		return nil, &chunker.ExtractionError{Reason: "document has no pages"}
	}

	res = &Result{PageCount: n, Pages: make([]chunker.Page, 0, n)}
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := rd.Page(i)
		text := ""
		if !p.V.IsNull() {
			for _, name := range p.Fonts() {
				if _, ok := fonts[name]; !ok {
					f := p.Font(name)
					fonts[name] = &f
				}
			}
			raw, perr := p.GetPlainText(fonts)
			if perr == nil {
				text = chunker.CleanText(raw)
			}
		}
		words := len(strings.Fields(text))
		if words == 0 {
			res.EmptyPages++
		}
		res.TotalWords += words
		res.Pages = append(res.Pages, chunker.Page{Number: i, Text: text})
	}
	return res, nil
}
