package steps

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	docdomain "github.com/yungbote/pdfsum-backend/internal/domain/documents"
	"github.com/yungbote/pdfsum-backend/internal/jobs/pipeline/pipelinetest"
	"github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/modules/chunker"
	"github.com/yungbote/pdfsum-backend/internal/modules/indexer"
	pkgerrors "github.com/yungbote/pdfsum-backend/internal/pkg/errors"
)

func prepareDeps(env *pipelinetest.Env) PrepareDeps {
	return PrepareDeps{
		DB:        env.DB,
		Log:       env.Log(),
		Documents: env.Repos.Documents,
		Chunks:    env.Repos.Chunks,
		Extractor: env.Extractor,
	}
}

func TestChunkConfigFor(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "300")
	env := pipelinetest.New(t, pipelinetest.Options{})
	if got := ChunkConfigFor(nil); got.ChunkSize != 300 {
		t.Fatalf("env default: %+v", got)
	}
	tpl := env.SummaryTemplate(t, false, "Overview")
	got := ChunkConfigFor(tpl)
	if got.ChunkSize != 100 || got.Overlap != 10 || got.MinChunkSize != 20 {
		t.Fatalf("template strategy not applied: %+v", got)
	}
	st := tpl.Strategy.Data()
	st.ChunkSize, st.ChunkOverlap, st.MinChunkSize = 0, 0, 0
	tpl.Strategy = datatypes.NewJSONType(st)
	if got := ChunkConfigFor(tpl); got.ChunkSize != 300 || got.Overlap != chunker.DefaultConfig().Overlap {
		t.Fatalf("zero strategy values must fall back: %+v", got)
	}
}

func TestPrepareDocumentReportsProgressAndReuses(t *testing.T) {
	env := pipelinetest.New(t, pipelinetest.Options{})
	doc := env.UploadPages(t, 3, 150)

	var pcts []int
	progress := func(stage string, pct int, msg string) { pcts = append(pcts, pct) }
	out, err := PrepareDocument(context.Background(), prepareDeps(env), PrepareInput{
		Document: doc,
		Chunking: chunker.DefaultConfig(),
		Progress: progress,
	})
	if err != nil {
		t.Fatalf("PrepareDocument: %v", err)
	}
	if !out.Extracted || len(out.Chunks) == 0 {
		t.Fatalf("expected a fresh extraction: %+v", out)
	}
	if len(pcts) != 2 || pcts[0] != PctExtracted || pcts[1] != PctChunked {
		t.Fatalf("progress: %v", pcts)
	}
	stored := env.Document(t, doc.ID)
	if stored.Status != docdomain.StatusChunked || stored.ChunkCount != len(out.Chunks) || stored.PageCount != 3 {
		t.Fatalf("document: %+v", stored)
	}

	again, err := PrepareDocument(context.Background(), prepareDeps(env), PrepareInput{Document: stored, Chunking: chunker.DefaultConfig()})
	if err != nil || again.Extracted {
		t.Fatalf("second prepare should reuse chunks: extracted=%v err=%v", again.Extracted, err)
	}
	if again.Chunks[0].ID != out.Chunks[0].ID {
		t.Fatalf("reused chunks differ")
	}
}

func TestPrepareDocumentCancelledResetsStatus(t *testing.T) {
	env := pipelinetest.New(t, pipelinetest.Options{})
	doc := env.UploadPages(t, 2, 100)
	_, err := PrepareDocument(context.Background(), prepareDeps(env), PrepareInput{
		Document:    doc,
		Chunking:    chunker.DefaultConfig(),
		CheckCancel: func(context.Context) error { return runtime.ErrCancelled },
	})
	if !errors.Is(err, runtime.ErrCancelled) {
		t.Fatalf("want ErrCancelled, got %v", err)
	}
	if d := env.Document(t, doc.ID); d.Status != docdomain.StatusUploaded || d.ChunkCount != 0 {
		t.Fatalf("document: status=%s chunks=%d", d.Status, d.ChunkCount)
	}
}

func TestIndexDocumentSkipsWhenIndexed(t *testing.T) {
	env := pipelinetest.New(t, pipelinetest.Options{Indexer: indexer.Config{BatchSize: 4, Concurrency: 2}})
	doc := env.UploadPages(t, 4, 200)
	prep, err := PrepareDocument(context.Background(), prepareDeps(env), PrepareInput{Document: doc, Chunking: ChunkConfigFor(env.SummaryTemplate(t, false, "Overview"))})
	if err != nil {
		t.Fatalf("PrepareDocument: %v", err)
	}
	deps := IndexDeps{Log: env.Log(), Documents: env.Repos.Documents, Indexer: env.Indexer}

	var (
		mu   sync.Mutex
		last int
		bad  []int
	)
	res, err := IndexDocument(context.Background(), deps, IndexInput{
		Document: doc,
		Chunks:   prep.Chunks,
		Progress: func(stage string, pct int, msg string) {
			mu.Lock()
			defer mu.Unlock()
			if pct < PctChunked || pct > PctIndexed {
				bad = append(bad, pct)
			}
			last = pct
		},
	})
	if err != nil || !res.Complete() {
		t.Fatalf("IndexDocument: res=%+v err=%v", res, err)
	}
	if len(bad) > 0 {
		t.Fatalf("progress outside the embedding range: %v", bad)
	}
	if last != PctIndexed || doc.Status != docdomain.StatusIndexed {
		t.Fatalf("last progress=%d status=%s", last, doc.Status)
	}

	calls := env.Embedder.Calls()
	if _, err := IndexDocument(context.Background(), deps, IndexInput{Document: doc, Chunks: prep.Chunks}); err != nil {
		t.Fatalf("second IndexDocument: %v", err)
	}
	if env.Embedder.Calls() != calls {
		t.Fatalf("an indexed document must not be embedded again")
	}
}

func TestIncompleteIndexError(t *testing.T) {
	err := &IncompleteIndexError{FailedBatches: []int{3}, TotalBatches: 5, Remaining: 8, Err: errors.New("upstream 503")}
	want := "1 of 5 embedding batches failed; 8 chunks are not indexed yet. Retry the job to embed only the remaining chunks (first error: upstream 503)"
	if err.Error() != want {
		t.Fatalf("message:\n got %q\nwant %q", err.Error(), want)
	}
	if runtime.UserMessage(err) != want {
		t.Fatalf("user message should be the error text")
	}
}

func fastLease() LeaseConfig { return LeaseConfig{TTL: time.Hour, PollInterval: 5 * time.Millisecond} }

// signalOn returns a progress func that closes ch the first time msg is reported.
func signalOn(msg string, ch chan struct{}) ProgressFunc {
	var once sync.Once
	return func(stage string, pct int, m string) {
		if m == msg {
			once.Do(func() { close(ch) })
		}
	}
}

func TestPrepareDocumentStaleSnapshotReusesChunks(t *testing.T) {
	env := pipelinetest.New(t, pipelinetest.Options{})
	doc := env.UploadPages(t, 3, 150)
	snapshot := *doc

	deps := prepareDeps(env)
	first, err := PrepareDocument(context.Background(), deps, PrepareInput{Document: doc, Owner: uuid.New(), Chunking: chunker.DefaultConfig()})
	if err != nil {
		t.Fatalf("PrepareDocument: %v", err)
	}
	if _, err := IndexDocument(context.Background(), IndexDeps{Log: env.Log(), Documents: env.Repos.Documents, Indexer: env.Indexer}, IndexInput{Document: doc, Chunks: first.Chunks}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	embedded, _ := env.Repos.Chunks.CountEmbeddings(env.DBC(), doc.ID)
	if embedded == 0 {
		t.Fatalf("expected embeddings after indexing")
	}

	// A job that loaded the document before the first one finished.
	second, err := PrepareDocument(context.Background(), deps, PrepareInput{Document: &snapshot, Owner: uuid.New(), Chunking: chunker.DefaultConfig()})
	if err != nil {
		t.Fatalf("PrepareDocument on stale snapshot: %v", err)
	}
	if second.Extracted {
		t.Fatalf("stale snapshot re-extracted the document")
	}
	if second.Chunks[0].ID != first.Chunks[0].ID {
		t.Fatalf("chunk ids changed: %s vs %s", first.Chunks[0].ID, second.Chunks[0].ID)
	}
	if after, _ := env.Repos.Chunks.CountEmbeddings(env.DBC(), doc.ID); after != embedded {
		t.Fatalf("embeddings before=%d after=%d", embedded, after)
	}
	if snapshot.Status != docdomain.StatusIndexed {
		t.Fatalf("snapshot should be refreshed, status=%s", snapshot.Status)
	}
}

func TestPrepareDocumentWaitsForLeaseHolder(t *testing.T) {
	env := pipelinetest.New(t, pipelinetest.Options{})
	doc := env.UploadPages(t, 3, 150)
	deps := prepareDeps(env)
	deps.Lease = fastLease()

	holder := uuid.New()
	ok, err := env.Repos.Documents.ClaimLease(env.DBC(), doc.ID, holder,
		[]string{docdomain.StatusUploaded}, time.Now().Add(-time.Hour), map[string]interface{}{"status": docdomain.StatusExtracting})
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	waiting := make(chan struct{})
	type outcome struct {
		out PrepareOutput
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		copyDoc := *doc
		out, err := PrepareDocument(context.Background(), deps, PrepareInput{
			Document: &copyDoc,
			Owner:    uuid.New(),
			Chunking: chunker.DefaultConfig(),
			Progress: signalOn("Waiting for another job to finish extracting", waiting),
		})
		done <- outcome{out, err}
	}()

	select {
	case <-waiting:
	case <-time.After(5 * time.Second):
		t.Fatalf("second job did not wait for the lease")
	}

	// The holder finishes its extraction.
	held, err := PrepareDocument(context.Background(), deps, PrepareInput{Document: doc, Owner: holder, Chunking: chunker.DefaultConfig()})
	if err != nil || !held.Extracted {
		t.Fatalf("holder prepare: extracted=%v err=%v", held.Extracted, err)
	}

	var got outcome
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("waiting job never finished")
	}
	if got.err != nil || got.out.Extracted {
		t.Fatalf("waiting job: extracted=%v err=%v", got.out.Extracted, got.err)
	}
	if got.out.Chunks[0].ID != held.Chunks[0].ID {
		t.Fatalf("waiting job saw different chunks")
	}
	if d := env.Document(t, doc.ID); d.LeaseJobID != nil || d.Status != docdomain.StatusChunked {
		t.Fatalf("document after prepare: status=%s lease=%v", d.Status, d.LeaseJobID)
	}
}

func TestConcurrentExtractAndSummarizeShareOneChunkSet(t *testing.T) {
	env := pipelinetest.New(t, pipelinetest.Options{})
	doc := env.UploadPages(t, 4, 150)
	deps := prepareDeps(env)
	deps.Lease = fastLease()
	ideps := IndexDeps{Log: env.Log(), Documents: env.Repos.Documents, Indexer: env.Indexer, Lease: fastLease()}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		chunks [][]*types.Chunk
	)
	run := func(index bool) {
		defer wg.Done()
		copyDoc := *doc
		out, err := PrepareDocument(context.Background(), deps, PrepareInput{Document: &copyDoc, Owner: uuid.New(), Chunking: chunker.DefaultConfig()})
		if err == nil && index {
			_, err = IndexDocument(context.Background(), ideps, IndexInput{Document: &copyDoc, Owner: uuid.New(), Chunks: out.Chunks})
		}
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
		chunks = append(chunks, out.Chunks)
	}
	wg.Add(3)
	go run(false) // extract
	go run(true)  // summarize
	go run(true)  // embed
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("prepare: %v", err)
		}
	}
	stored, _ := env.Repos.Chunks.ListByDocument(env.DBC(), doc.ID)
	for _, set := range chunks {
		if len(set) != len(stored) || set[0].ID != stored[0].ID {
			t.Fatalf("a job worked on a chunk set that is no longer stored")
		}
	}
	d := env.Document(t, doc.ID)
	if d.Status != docdomain.StatusIndexed || d.EmbeddingCount != len(stored) {
		t.Fatalf("document: status=%s embeddings=%d chunks=%d", d.Status, d.EmbeddingCount, len(stored))
	}
}

func TestIndexDocumentWaitsForLeaseHolder(t *testing.T) {
	env := pipelinetest.New(t, pipelinetest.Options{})
	doc := env.UploadPages(t, 3, 150)
	prep, err := PrepareDocument(context.Background(), prepareDeps(env), PrepareInput{Document: doc, Chunking: chunker.DefaultConfig()})
	if err != nil {
		t.Fatalf("PrepareDocument: %v", err)
	}
	deps := IndexDeps{Log: env.Log(), Documents: env.Repos.Documents, Indexer: env.Indexer, Lease: fastLease()}

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.Embedder.Fail = func(call int, texts []string) error {
		if call == 1 {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	}

	type outcome struct {
		res indexer.IndexResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		copyDoc := *doc
		res, err := IndexDocument(context.Background(), deps, IndexInput{Document: &copyDoc, Owner: uuid.New(), Chunks: prep.Chunks})
		first <- outcome{res, err}
	}()
	<-entered

	waiting := make(chan struct{})
	second := make(chan outcome, 1)
	go func() {
		copyDoc := *doc
		res, err := IndexDocument(context.Background(), deps, IndexInput{
			Document: &copyDoc,
			Owner:    uuid.New(),
			Chunks:   prep.Chunks,
			Progress: signalOn("Waiting for another job to finish embedding", waiting),
		})
		second <- outcome{res, err}
	}()
	select {
	case <-waiting:
	case <-time.After(5 * time.Second):
		t.Fatalf("second indexer did not wait for the lease")
	}
	close(release)

	a, b := <-first, <-second
	if a.err != nil || b.err != nil {
		t.Fatalf("IndexDocument: first=%v second=%v", a.err, b.err)
	}
	if !a.res.Complete() || a.res.TotalBatches == 0 {
		t.Fatalf("first run: %+v", a.res)
	}
	if b.res.TotalBatches != 0 || b.res.Embedded != len(prep.Chunks) {
		t.Fatalf("second run should find nothing left to embed: %+v", b.res)
	}
	if env.Embedder.Calls() != a.res.TotalBatches {
		t.Fatalf("embedder calls=%d, want %d (one pass)", env.Embedder.Calls(), a.res.TotalBatches)
	}
}

func TestIndexDocumentRejectsUnchunkedDocument(t *testing.T) {
	env := pipelinetest.New(t, pipelinetest.Options{})
	doc := env.UploadPages(t, 1, 50)
	_, err := IndexDocument(context.Background(), IndexDeps{Log: env.Log(), Documents: env.Repos.Documents, Indexer: env.Indexer}, IndexInput{Document: doc})
	if !errors.Is(err, pkgerrors.ErrDocumentNotReady) {
		t.Fatalf("want ErrDocumentNotReady, got %v", err)
	}
}
