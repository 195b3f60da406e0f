package service

import (
	"context"
	"errors"
	"testing"

	"skytrack/internal/model"
	"skytrack/internal/pubsub"

	"github.com/rs/zerolog"
)

type fakeDeadLetters struct {
	jobs []*model.DeadLetterJob
	seen map[string]bool
	err  error
}

func (f *fakeDeadLetters) Create(_ context.Context, job *model.DeadLetterJob) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[job.MessageID] {
		return false, nil
	}
	f.seen[job.MessageID] = true
	f.jobs = append(f.jobs, job)
	return true, nil
}

func deadLetter(id, data string) *pubsub.PushEnvelope {
	return &pubsub.PushEnvelope{
		Subscription: "projects/p/subscriptions/document-ocr-dlq-sub",
		Message: pubsub.PushMessage{
			MessageID:  id,
			Data:       []byte(data),
			Attributes: map[string]string{deliveryCountAttr: "5"},
		},
	}
}

func TestDeadLetterFailsDocument(t *testing.T) {
	f := newDocFixture()
	doc := f.uploaded(t, "u1")
	dl := &fakeDeadLetters{}
	svc := NewDeadLetterService(dl, f.docs, zerolog.Nop())

	if err := svc.Record(context.Background(), deadLetter("m1", `{"document_id":"`+doc.ID+`"}`)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(dl.jobs) != 1 || dl.jobs[0].DocumentID == nil || *dl.jobs[0].DocumentID != doc.ID || dl.jobs[0].DeliveryAttempts != 5 {
		t.Fatalf("jobs = %+v", dl.jobs)
	}
	got, _ := f.svc.Get(context.Background(), "u1", doc.ID)
	if got.Status != model.DocumentFailed || got.Error == nil || *got.Error != deadLetterReason {
		t.Fatalf("doc = %+v", got)
	}

	// Redelivery of the same dead letter is harmless.
	if err := svc.Record(context.Background(), deadLetter("m1", `{"document_id":"`+doc.ID+`"}`)); err != nil || len(dl.jobs) != 1 {
		t.Fatalf("redelivery err = %v jobs = %d", err, len(dl.jobs))
	}
}

func TestDeadLetterLeavesCompletedDocument(t *testing.T) {
	f := newDocFixture()
	doc := f.uploaded(t, "u1")
	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatal(err)
	}
	svc := NewDeadLetterService(&fakeDeadLetters{}, f.docs, zerolog.Nop())
	if err := svc.Record(context.Background(), deadLetter("m2", `{"document_id":"`+doc.ID+`"}`)); err != nil {
		t.Fatal(err)
	}
	got, _ := f.svc.Get(context.Background(), "u1", doc.ID)
	if got.Status != model.DocumentComplete {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestDeadLetterMalformedPayload(t *testing.T) {
	dl := &fakeDeadLetters{}
	svc := NewDeadLetterService(dl, newFakeDocs(), zerolog.Nop())
	if err := svc.Record(context.Background(), deadLetter("m3", "not json")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(dl.jobs) != 1 || dl.jobs[0].DocumentID != nil || string(dl.jobs[0].Payload) != "not json" {
		t.Fatalf("jobs = %+v", dl.jobs)
	}

	dl.err = errors.New("db down")
	if err := svc.Record(context.Background(), deadLetter("m4", "{}")); err == nil {
		t.Fatal("expected store error")
	}
}
