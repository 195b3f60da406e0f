package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"skytrack/internal/model"
	"skytrack/internal/pubsub"

	"github.com/rs/zerolog"
)

type docFixture struct {
	svc   DocumentService
	docs  *fakeDocs
	store *fakeStore
	pub   *fakePublisher
	ocr   *fakeOCR
}

func newDocFixture() *docFixture {
	f := &docFixture{
		docs:  newFakeDocs(),
		store: &fakeStore{uploaded: map[string]bool{}},
		pub:   &fakePublisher{},
		ocr:   &fakeOCR{result: &OCRResult{Text: "ENDORSEMENT", Pages: 1}},
	}
	f.svc = NewDocumentService(f.docs, f.store, f.ocr, f.pub, "document-ocr", zerolog.Nop())
	return f
}

func (f *docFixture) uploaded(t *testing.T, userID string) *model.Document {
	t.Helper()
	doc, _, err := f.svc.RequestUpload(context.Background(), userID, "medical.pdf")
	if err != nil {
		t.Fatal(err)
	}
	f.store.uploaded[doc.StoragePath] = true
	if _, err := f.svc.CompleteUpload(context.Background(), userID, doc.ID); err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestRequestUpload(t *testing.T) {
	f := newDocFixture()
	doc, url, err := f.svc.RequestUpload(context.Background(), "u1", "../../etc/logbook.pdf")
	if err != nil {
		t.Fatalf("RequestUpload: %v", err)
	}
	want := "documents/u1/" + doc.ID + "/logbook.pdf"
	if doc.StoragePath != want || !strings.HasSuffix(url, want) {
		t.Fatalf("path = %q url = %q", doc.StoragePath, url)
	}
	if doc.Status != model.DocumentPendingUpload {
		t.Fatalf("status = %s", doc.Status)
	}
	if _, _, err := f.svc.RequestUpload(context.Background(), "u1", "  "); !errors.Is(err, ErrInvalidFileName) {
		t.Fatalf("err = %v", err)
	}
}

func TestCompleteUploadQueuesJob(t *testing.T) {
	f := newDocFixture()
	ctx := context.Background()
	doc, _, _ := f.svc.RequestUpload(ctx, "u1", "logbook.pdf")

	if _, err := f.svc.CompleteUpload(ctx, "u1", doc.ID); !errors.Is(err, ErrNotUploaded) {
		t.Fatalf("err = %v, want ErrNotUploaded", err)
	}
	if _, err := f.svc.CompleteUpload(ctx, "intruder", doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("foreign complete err = %v", err)
	}

	f.store.uploaded[doc.StoragePath] = true
	got, err := f.svc.CompleteUpload(ctx, "u1", doc.ID)
	if err != nil || got.Status != model.DocumentUploaded {
		t.Fatalf("CompleteUpload = %+v, %v", got, err)
	}
	if len(f.pub.messages) != 1 {
		t.Fatalf("messages = %d", len(f.pub.messages))
	}
	var job pubsub.DocumentJob
	if err := json.Unmarshal(f.pub.messages[0], &job); err != nil || job.DocumentID != doc.ID {
		t.Fatalf("job = %s (%v)", f.pub.messages[0], err)
	}
}

func TestCompleteUploadSurvivesPublishFailure(t *testing.T) {
	f := newDocFixture()
	f.pub.err = errors.New("pubsub unavailable")
	ctx := context.Background()
	doc, _, _ := f.svc.RequestUpload(ctx, "u1", "logbook.pdf")
	f.store.uploaded[doc.StoragePath] = true

	got, err := f.svc.CompleteUpload(ctx, "u1", doc.ID)
	if err != nil || got.Status != model.DocumentUploaded {
		t.Fatalf("CompleteUpload = %+v, %v", got, err)
	}
}

func TestProcessDocument(t *testing.T) {
	f := newDocFixture()
	doc := f.uploaded(t, "u1")

	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := f.svc.Get(context.Background(), "u1", doc.ID)
	if got.Status != model.DocumentComplete || got.ExtractedText == nil || *got.ExtractedText != "ENDORSEMENT" || got.PageCount != 1 {
		t.Fatalf("doc = %+v", got)
	}

	// Redelivery of a finished job is a no-op.
	if err := f.svc.Process(context.Background(), doc.ID); err != nil || f.ocr.calls != 1 {
		t.Fatalf("redelivery err = %v calls = %d", err, f.ocr.calls)
	}
}

func TestProcessDocumentFailures(t *testing.T) {
	f := newDocFixture()
	ctx := context.Background()

	if err := f.svc.Process(ctx, "not-a-uuid"); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("bad id err = %v", err)
	}
	if err := f.svc.Process(ctx, "9b2f7e0c-0000-4000-8000-000000000000"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("unknown doc err = %v", err)
	}

	permanent := f.uploaded(t, "u1")
	f.ocr.err = &OCRStatusError{Status: 422, Body: "unsupported"}
	if err := f.svc.Process(ctx, permanent.ID); err != nil {
		t.Fatalf("permanent failure should settle the job, got %v", err)
	}
	got, _ := f.svc.Get(ctx, "u1", permanent.ID)
	if got.Status != model.DocumentFailed || got.Error == nil {
		t.Fatalf("doc = %+v", got)
	}

	transient := f.uploaded(t, "u1")
	f.ocr.err = &OCRStatusError{Status: 503, Body: "busy"}
	if err := f.svc.Process(ctx, transient.ID); err == nil {
		t.Fatal("transient failure should ask for a retry")
	}
}

func TestGetDocumentOwnerOnly(t *testing.T) {
	f := newDocFixture()
	doc, _, _ := f.svc.RequestUpload(context.Background(), "u1", "a.pdf")
	if _, err := f.svc.Get(context.Background(), "u2", doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("err = %v", err)
	}
	if got, err := f.svc.Get(context.Background(), "u1", doc.ID); err != nil || got.ID != doc.ID {
		t.Fatalf("Get = %+v, %v", got, err)
	}
}

func TestRequeueStaleDocuments(t *testing.T) {
	f := newDocFixture()
	ctx := context.Background()
	f.pub.err = errors.New("pubsub unavailable")
	stuck := f.uploaded(t, "u1")
	crashed := f.uploaded(t, "u1")
	fresh := f.uploaded(t, "u1")
	failed := f.uploaded(t, "u1")
	f.pub.err = nil

	hourAgo := time.Now().Add(-time.Hour)
	_ = f.docs.with(stuck.ID, func(d *model.Document) { d.UpdatedAt = hourAgo })
	_ = f.docs.with(crashed.ID, func(d *model.Document) { d.Status, d.UpdatedAt = model.DocumentProcessing, hourAgo })
	_ = f.docs.with(failed.ID, func(d *model.Document) { d.Status, d.UpdatedAt = model.DocumentFailed, hourAgo })

	n, err := f.svc.Requeue(ctx, 10*time.Minute, 10)
	if err != nil || n != 2 {
		t.Fatalf("Requeue = %d, %v", n, err)
	}
	queued := map[string]bool{}
	for _, m := range f.pub.messages {
		var job pubsub.DocumentJob
		if err := json.Unmarshal(m, &job); err != nil {
			t.Fatal(err)
		}
		queued[job.DocumentID] = true
	}
	if !queued[stuck.ID] || !queued[crashed.ID] || queued[fresh.ID] || queued[failed.ID] {
		t.Fatalf("queued = %v", queued)
	}
	got, _ := f.svc.Get(ctx, "u1", crashed.ID)
	if got.Status != model.DocumentUploaded {
		t.Fatalf("crashed status = %s", got.Status)
	}

	// Requeued rows are fresh again.
	if n, _ := f.svc.Requeue(ctx, 10*time.Minute, 10); n != 0 {
		t.Fatalf("second sweep queued %d", n)
	}
}

func TestRequeueWithoutPublisher(t *testing.T) {
	svc := NewDocumentService(newFakeDocs(), &fakeStore{uploaded: map[string]bool{}}, nil, nil, "document-ocr", zerolog.Nop())
	if _, err := svc.Requeue(context.Background(), time.Minute, 10); !errors.Is(err, ErrPublisherNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestRequeueLimitCoversAllStatuses(t *testing.T) {
	f := newDocFixture()
	f.pub.err = errors.New("pubsub unavailable")
	var docs []*model.Document
	for i := 0; i < 4; i++ {
		docs = append(docs, f.uploaded(t, "u1"))
	}
	f.pub.err = nil

	hourAgo := time.Now().Add(-time.Hour)
	for i, d := range docs {
		status := model.DocumentUploaded
		if i%2 == 1 {
			status = model.DocumentProcessing
		}
		_ = f.docs.with(d.ID, func(doc *model.Document) { doc.Status, doc.UpdatedAt = status, hourAgo })
	}

	n, err := f.svc.Requeue(context.Background(), 10*time.Minute, 3)
	if err != nil || n != 3 || len(f.pub.messages) != 3 {
		t.Fatalf("Requeue = %d, %v (messages %d), want 3", n, err, len(f.pub.messages))
	}
}
