package chunker

import (
	"fmt"
	"math"
	"strings"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
)

type Config struct {
	ChunkSize       int
	Overlap         int
	MinChunkSize    int
	MinWordsPerPage int
}

func DefaultConfig() Config {
	return Config{ChunkSize: 500, Overlap: 75, MinChunkSize: 100, MinWordsPerPage: 20}
}

// ConfigFromEnv overrides the defaults with CHUNK_SIZE, CHUNK_OVERLAP,
// CHUNK_MIN_SIZE and CHUNK_MIN_WORDS_PER_PAGE.
func ConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		ChunkSize:       envutil.IntClamp("CHUNK_SIZE", d.ChunkSize, 50, 4000),
		Overlap:         envutil.IntClamp("CHUNK_OVERLAP", d.Overlap, 0, 1000),
		MinChunkSize:    envutil.IntClamp("CHUNK_MIN_SIZE", d.MinChunkSize, 0, 4000),
		MinWordsPerPage: envutil.IntClamp("CHUNK_MIN_WORDS_PER_PAGE", d.MinWordsPerPage, 1, 500),
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap >= c.ChunkSize {
		c.Overlap = c.ChunkSize / 5
	}
	if c.MinChunkSize < 0 {
		c.MinChunkSize = 0
	}
	if c.MinChunkSize > c.ChunkSize {
		c.MinChunkSize = c.ChunkSize
	}
	if c.MinWordsPerPage <= 0 {
		c.MinWordsPerPage = d.MinWordsPerPage
	}
	return c
}

// Page is the text of one 1-indexed PDF page.
type Page struct {
	Number int
	Text   string
}

// ExtractionError rejects documents with no usable text layer.
type ExtractionError struct {
	Pages  int
	Words  int
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not extract usable text (%s; %d pages, %d words). The PDF may be scanned or image-only", e.Reason, e.Pages, e.Words)
}

// TokenEstimate approximates model tokens from a word count.
func TokenEstimate(words int) int {
	return int(math.Ceil(float64(words) * 1.3))
}

type word struct {
	text string
	page int
}

type section struct {
	heading    string
	paragraphs [][]word
}

// Chunk splits cleaned page text into ordered chunks. It is a pure function
// of its input: the same pages and config always yield the same chunks.
func Chunk(pages []Page, cfg Config) ([]*types.Chunk, error) {
	cfg = cfg.normalized()
	if len(pages) == 0 {
		return nil, &ExtractionError{Reason: "document has no pages"}
	}
	totalWords := 0
	for _, p := range pages {
		totalWords += len(strings.Fields(p.Text))
	}
	if totalWords == 0 || totalWords/len(pages) < cfg.MinWordsPerPage {
		return nil, &ExtractionError{
			Pages:  len(pages),
			Words:  totalWords,
			Reason: fmt.Sprintf("fewer than %d words per page", cfg.MinWordsPerPage),
		}
	}

	var out []*types.Chunk
	for _, s := range splitSections(pages) {
		out = append(out, packSection(s, cfg)...)
	}
	for i, c := range out {
		c.Order = i
	}
	return out, nil
}

// splitSections walks lines in page order, opening a new section at every
// heading. Blank lines and page boundaries end a paragraph. A heading with no
// body is folded into the next section.
func splitSections(pages []Page) []section {
	var (
		out  []section
		cur  section
		para []word
		body bool
	)
	flushPara := func() {
		if len(para) > 0 {
			cur.paragraphs = append(cur.paragraphs, para)
			para = nil
		}
	}

	for _, p := range pages {
		for _, line := range strings.Split(CleanText(p.Text), "\n") {
			if line == "" {
				flushPara()
				continue
			}
			words := toWords(line, p.Number)
			if IsHeading(line) {
				flushPara()
				if body {
					out = append(out, cur)
					cur = section{}
				}
				// heading-only sections carry their words into the next one
				cur.heading = line
				cur.paragraphs = append(cur.paragraphs, words)
				body = false
				continue
			}
			para = append(para, words...)
			body = true
		}
		flushPara()
	}
	if len(cur.paragraphs) > 0 {
		out = append(out, cur)
	}
	return out
}

func toWords(line string, page int) []word {
	fields := strings.Fields(line)
	out := make([]word, len(fields))
	for i, f := range fields {
		out[i] = word{text: f, page: page}
	}
	return out
}

func joinWords(ws []word) string {
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.text
	}
	return strings.Join(parts, " ")
}

// packSection greedily packs paragraphs into windows of at most ChunkSize
// words. Each new chunk starts with the last Overlap words of the previous
// one in the same section.
func packSection(s section, cfg Config) []*types.Chunk {
	step := cfg.ChunkSize - cfg.Overlap
	var units [][]word
	for _, p := range s.paragraphs {
		for len(p) > step {
			units = append(units, p[:step])
			p = p[step:]
		}
		if len(p) > 0 {
			units = append(units, p)
		}
	}

	var (
		out   []*types.Chunk
		prev  []word
		cur   []word
		fresh int
	)
	emit := func() {
		prev = cur
		out = append(out, newChunk(cur, s.heading))
		carry := cfg.Overlap
		if carry > len(cur) {
			carry = len(cur)
		}
		cur = append([]word(nil), cur[len(cur)-carry:]...)
		fresh = 0
	}
	for _, u := range units {
		if fresh > 0 && len(cur)+len(u) > cfg.ChunkSize {
			emit()
		}
		cur = append(cur, u...)
		fresh += len(u)
	}
	if fresh == 0 {
		return out
	}
	if fresh < cfg.MinChunkSize && len(out) > 0 {
		merged := append(append([]word(nil), prev...), cur[len(cur)-fresh:]...)
		out[len(out)-1] = newChunk(merged, s.heading)
		return out
	}
	out = append(out, newChunk(cur, s.heading))
	return out
}

func newChunk(ws []word, heading string) *types.Chunk {
	return &types.Chunk{
		Text:           joinWords(ws),
		PageNumber:     ws[0].page,
		PageEnd:        ws[len(ws)-1].page,
		SectionHeading: heading,
		WordCount:      len(ws),
		TokenEstimate:  TokenEstimate(len(ws)),
	}
}
