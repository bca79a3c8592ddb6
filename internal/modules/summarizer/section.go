package summarizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/modules/search"
	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
)

const skippedBudgetMessage = "Skipped: the monthly budget was exhausted before this section could be generated."

func (s *Summarizer) section(ctx context.Context, r *run, sec types.Section) types.SummarySection {
	out := types.SummarySection{
		Title:           sec.Title,
		Order:           sec.Order,
		Required:        sec.Required,
		PagesReferenced: []int{},
	}
	if err := r.checkpoint(ctx); err != nil {
		out.ErrorMessage = skippedMessage(err)
		observability.Current().IncSection("skipped")
		return out
	}

	ctx, span := observability.StartSpan(ctx, "summarizer.section", attribute.String("section", sec.Title))
	defer span.End()

	chunks, err := s.selectChunks(ctx, r, sec)
	if err != nil {
		return s.sectionFailed(r, out, err)
	}
	out.SourceChunks = len(chunks)
	out.GeneratedAt = time.Now().UTC()
	if len(chunks) == 0 {
		out.Content = emptySectionContent(sec.Title)
		out.WordCount = len(strings.Fields(out.Content))
		observability.Current().IncSection("empty")
		return out
	}

	content, err := s.mapReduce(ctx, r, sec, chunks)
	if err != nil {
		return s.sectionFailed(r, out, err)
	}
	out.Content = content
	out.WordCount = len(strings.Fields(content))
	out.PagesReferenced = PagesOf(chunks)
	out.SourceChunkIDs = make([]string, len(chunks))
	for i, c := range chunks {
		out.SourceChunkIDs[i] = c.ID.String()
	}
	observability.Current().IncSection("succeeded")
	return out
}

func (s *Summarizer) sectionFailed(r *run, out types.SummarySection, err error) types.SummarySection {
	var be *costguard.BudgetExceededError
	if errors.As(err, &be) {
		r.setStop(err)
	}
	out.Content = ""
	out.WordCount = 0
	out.ErrorMessage = err.Error()
	observability.Current().IncSection("failed")
	s.log.Warn("Section failed", "section", out.Title, "error", err)
	return out
}

func skippedMessage(err error) string {
	var be *costguard.BudgetExceededError
	if errors.As(err, &be) {
		return skippedBudgetMessage
	}
	return "Skipped: the job was stopped before this section could be generated."
}

// selectChunks returns the section's source chunks in document order. Narrow
// sections only see the chunks most similar to their guidance prompt.
func (s *Summarizer) selectChunks(ctx context.Context, r *run, sec types.Section) ([]*types.Chunk, error) {
	if !sec.Narrow() || s.deps.Search == nil || r.in.Document == nil {
		return r.in.Chunks, nil
	}
	query := strings.TrimSpace(sec.GuidancePrompt)
	if query == "" {
		query = sec.Title
	}
	minSim := s.cfg.NarrowMinSimilarity
	res, err := s.deps.Search.Search(ctx, search.Query{
		OwnerUserID:   r.in.OwnerUserID,
		DocumentID:    r.in.Document.ID,
		Text:          query,
		MinSimilarity: &minSim,
		TopK:          s.cfg.NarrowTopK,
	})
	if err != nil {
		return nil, fmt.Errorf("select chunks: %w", err)
	}
	out := make([]*types.Chunk, 0, s.cfg.NarrowKeep)
	for _, h := range res.Hits {
		if len(out) >= s.cfg.NarrowKeep {
			break
		}
		if c := r.byID[h.ChunkID]; c != nil {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// mapReduce reduces directly when the source fits one call; otherwise it maps
// ordered groups in parallel and collapses the notes until they fit.
func (s *Summarizer) mapReduce(ctx context.Context, r *run, sec types.Section, chunks []*types.Chunk) (string, error) {
	items := chunkExcerpts(chunks)
	for round := 0; totalTokens(items) > s.cfg.ContextTokens; round++ {
		if round >= s.cfg.MaxCollapseRounds {
			return "", fmt.Errorf("source material for %q still exceeds %d tokens after %d rounds", sec.Title, s.cfg.ContextTokens, round)
		}
		groups := groupExcerpts(items, s.cfg.ContextTokens)
		if len(groups) == len(items) && round > 0 {
			// every group is a single oversized note; another round cannot shrink it
			break
		}
		next, err := s.mapGroups(ctx, r, sec, groups, round)
		if err != nil {
			return "", err
		}
		items = next
	}
	if err := r.checkpoint(ctx); err != nil {
		return "", err
	}
	return s.complete(ctx, r, reducePrompt(sec, items))
}

func (s *Summarizer) mapGroups(ctx context.Context, r *run, sec types.Section, groups [][]excerpt, round int) ([]excerpt, error) {
	out := make([]excerpt, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MapConcurrency)
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			if err := r.checkpoint(gctx); err != nil {
				return err
			}
			text, err := s.complete(gctx, r, mapPrompt(sec, grp))
			if err != nil {
				return fmt.Errorf("map group %d: %w", i+1, err)
			}
			out[i] = excerpt{
				Label:  fmt.Sprintf("Notes %d.%d (%s)", round+1, i+1, labelsOf(grp)),
				Pages:  mergePages(grp),
				Text:   text,
				Tokens: (len(strings.Fields(text))*13 + 9) / 10,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// groupExcerpts packs items, in order, into groups of at most budget tokens.
// An item larger than the budget gets a group of its own.
func groupExcerpts(items []excerpt, budget int) [][]excerpt {
	var (
		out [][]excerpt
		cur []excerpt
		n   int
	)
	for _, it := range items {
		if len(cur) > 0 && n+it.Tokens > budget {
			out = append(out, cur)
			cur, n = nil, 0
		}
		cur = append(cur, it)
		n += it.Tokens
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func totalTokens(items []excerpt) int {
	n := 0
	for _, it := range items {
		n += it.Tokens
	}
	return n
}

func labelsOf(items []excerpt) string {
	if len(items) == 1 {
		return items[0].Label
	}
	return items[0].Label + " to " + items[len(items)-1].Label
}

func mergePages(items []excerpt) []int {
	seen := map[int]bool{}
	var out []int
	for _, it := range items {
		for _, p := range it.Pages {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Ints(out)
	return out
}

// PagesOf is the sorted union of the page spans of chunks.
func PagesOf(chunks []*types.Chunk) []int {
	seen := map[int]bool{}
	out := []int{}
	for _, c := range chunks {
		for _, p := range c.Pages() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Ints(out)
	return out
}

func sortSections(sections []types.SummarySection) {
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })
}
