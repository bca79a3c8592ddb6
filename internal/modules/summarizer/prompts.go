package summarizer

import (
	"fmt"
	"strings"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
)

// excerpt is one unit of source material handed to a model call: either a
// raw chunk or an intermediate map summary covering several chunks.
type excerpt struct {
	Label  string
	Pages  []int
	Text   string
	Tokens int
}

func chunkExcerpts(chunks []*types.Chunk) []excerpt {
	out := make([]excerpt, 0, len(chunks))
	for _, c := range chunks {
		tokens := c.TokenEstimate
		if tokens <= 0 {
			tokens = (len(strings.Fields(c.Text))*13 + 9) / 10
		}
		out = append(out, excerpt{
			Label:  fmt.Sprintf("Chunk %d", c.Order+1),
			Pages:  c.Pages(),
			Text:   c.Text,
			Tokens: tokens,
		})
	}
	return out
}

func pageLabel(pages []int) string {
	if len(pages) == 0 {
		return "pages unknown"
	}
	if len(pages) == 1 {
		return fmt.Sprintf("page %d", pages[0])
	}
	return fmt.Sprintf("pages %d-%d", pages[0], pages[len(pages)-1])
}

func renderExcerpts(items []excerpt) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "[%s, %s]\n%s\n", it.Label, pageLabel(it.Pages), strings.TrimSpace(it.Text))
	}
	return b.String()
}

func mapPrompt(sec types.Section, items []excerpt) string {
	var b strings.Builder
	b.WriteString("Extract the material relevant to one section of a document summary.\n\n")
	fmt.Fprintf(&b, "**Section Title:** %s\n\n", sec.Title)
	fmt.Fprintf(&b, "**Guidance:** %s\n\n", sec.GuidancePrompt)
	b.WriteString("**Source Material:**\n")
	b.WriteString(renderExcerpts(items))
	b.WriteString("\n**Instructions:**\n")
	b.WriteString("- Write dense notes covering every fact, figure and decision relevant to the section\n")
	b.WriteString("- Keep page references in the form (p. N) next to the facts they support\n")
	b.WriteString("- Omit material unrelated to the section\n")
	b.WriteString("- Do not add an introduction or conclusion\n\n")
	b.WriteString("Write the notes now:")
	return b.String()
}

func reducePrompt(sec types.Section, items []excerpt) string {
	var b strings.Builder
	b.WriteString("You are tasked with synthesizing a section for a document summary.\n\n")
	fmt.Fprintf(&b, "**Section Title:** %s\n\n", sec.Title)
	fmt.Fprintf(&b, "**Guidance:** %s\n\n", sec.GuidancePrompt)
	b.WriteString("**Source Material:**\n")
	b.WriteString(renderExcerpts(items))
	b.WriteString("\n**Instructions:**\n")
	fmt.Fprintf(&b, "- Create a comprehensive summary for the %q section\n", sec.Title)
	b.WriteString("- Follow the guidance instructions carefully\n")
	b.WriteString("- Include specific details, figures, and references when available\n")
	b.WriteString("- Reference page numbers when citing specific information\n")
	b.WriteString("- Maintain a professional, technical tone\n")
	b.WriteString("- If the material contains tables or figures, describe them or reference them by their numbers\n")
	if sec.TargetWords > 0 {
		fmt.Fprintf(&b, "- Aim for about %d words\n", sec.TargetWords)
	}
	b.WriteString("\nWrite the section content now:")
	return b.String()
}

func emptySectionContent(title string) string {
	return "No relevant content found for section: " + title
}
