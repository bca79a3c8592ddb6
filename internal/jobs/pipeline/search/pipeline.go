package search

import (
	"fmt"

	jobrt "github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/services"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	doc, err := p.documents.GetByID(dbctx.Context{Ctx: jc.Ctx}, jc.Job.DocumentID)
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}
	if doc == nil {
		jc.Fail("validate", fmt.Errorf("document %s: %w", jc.Job.DocumentID, errors.ErrNotFound))
		return nil
	}
	if !doc.Searchable() {
		jc.Fail("validate", fmt.Errorf("document %s is %s: %w", doc.ID, doc.Status, errors.ErrDocumentNotReady))
		return nil
	}

	q := services.SearchQueryFromPayload(doc.OwnerUserID, doc.ID, jc.Payload())
	jc.Progress("search", 50, "Searching document")
	res, err := p.engine.Search(jc.Ctx, q)
	if err != nil {
		jc.Fail("search", err)
		return nil
	}
	jc.Succeed("done", res)
	return nil
}
