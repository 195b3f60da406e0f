package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"skytrack/internal/config"
	"skytrack/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test"

type stripeFixture struct {
	svc      *StripeService
	gateway  *fakeGateway
	profiles *fakeProfiles
	schools  *fakeSchools
	subs     *fakeSubs
}

func newStripeFixture(t *testing.T, dedupe EventDeduper) *stripeFixture {
	t.Helper()
	cfg := &config.Config{
		StripeWebhookSecret:   testWebhookSecret,
		StripePriceStudent:    "price_student",
		StripePriceCFI:        "price_cfi",
		StripePriceSchool:     "price_school",
		StripePortalReturnURL: "http://localhost:8080/dashboard",
	}
	f := &stripeFixture{
		gateway:  &fakeGateway{subscriptions: map[string]*stripe.Subscription{}},
		profiles: newFakeProfiles(),
		schools:  newFakeSchools(),
		subs:     newFakeSubs(),
	}
	subSvc := NewSubscriptionService(f.subs, f.profiles, f.schools, zerolog.Nop())
	f.svc = NewStripeService(cfg, f.gateway, f.profiles, f.schools, f.subs, subSvc, dedupe, zerolog.Nop())
	return f
}

func event(t *testing.T, id, typ string, obj any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatal(err)
	}
	return stripe.Event{ID: id, Type: stripe.EventType(typ), Data: &stripe.EventData{Raw: raw}}
}

func subscriptionJSON(id, customer, status string, meta map[string]string) map[string]any {
	return map[string]any{
		"id":                   id,
		"object":               "subscription",
		"customer":             customer,
		"status":               status,
		"cancel_at_period_end": false,
		"metadata":             meta,
		"items": map[string]any{
			"object": "list",
			"data": []any{map[string]any{
				"id":                   "si_1",
				"current_period_start": 1760000000,
				"current_period_end":   1762600000,
				"price":                map[string]any{"id": "price_student"},
			}},
		},
	}
}

func TestNewStripeGatewayRequiresKey(t *testing.T) {
	if _, err := NewStripeGateway(""); !errors.Is(err, ErrStripeNotConfigured) {
		t.Fatalf("err = %v, want ErrStripeNotConfigured", err)
	}
}

func TestConstructEventVerifiesSignature(t *testing.T) {
	f := newStripeFixture(t, nil)
	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.created","data":{"object":{}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	ev, err := f.svc.ConstructEvent(payload, signed.Header)
	if err != nil {
		t.Fatalf("ConstructEvent: %v", err)
	}
	if ev.ID != "evt_1" {
		t.Fatalf("event id = %q", ev.ID)
	}

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})
	if _, err := f.svc.ConstructEvent(payload, forged.Header); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestSubscriptionCreatedMirrorsRow(t *testing.T) {
	f := newStripeFixture(t, nil)
	ev := event(t, "evt_1", "customer.subscription.created",
		subscriptionJSON("sub_1", "cus_1", "active", map[string]string{"user_id": "u1"}))

	if err := f.svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	row, _ := f.subs.GetByStripeID(context.Background(), "sub_1")
	if row == nil {
		t.Fatal("subscription not mirrored")
	}
	if row.UserID == nil || *row.UserID != "u1" || row.SchoolID != nil {
		t.Fatalf("owner = %v/%v", row.UserID, row.SchoolID)
	}
	if row.Status != model.SubscriptionActive || row.StripePriceID == nil || *row.StripePriceID != "price_student" {
		t.Fatalf("row = %+v", row)
	}
	if row.CurrentPeriodEnd == nil || row.CurrentPeriodEnd.Unix() != 1762600000 {
		t.Fatalf("period end = %v", row.CurrentPeriodEnd)
	}
}

func TestSubscriptionOwnerFromCustomer(t *testing.T) {
	f := newStripeFixture(t, nil)
	ctx := context.Background()
	_, _ = f.schools.EnsureForAdmin(ctx, &model.School{AdminUserID: "admin"})
	school, _ := f.schools.GetByAdmin(ctx, "admin")
	_ = f.schools.UpdateStripeCustomerID(ctx, school.ID, "cus_school")

	ev := event(t, "evt_2", "customer.subscription.updated", subscriptionJSON("sub_2", "cus_school", "trialing", nil))
	if err := f.svc.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	row, _ := f.subs.GetByStripeID(ctx, "sub_2")
	if row == nil || row.SchoolID == nil || *row.SchoolID != school.ID {
		t.Fatalf("row = %+v", row)
	}
}

func TestSubscriptionUnknownOwnerIsRetryable(t *testing.T) {
	f := newStripeFixture(t, nil)
	ev := event(t, "evt_3", "customer.subscription.created", subscriptionJSON("sub_3", "cus_nobody", "active", nil))
	err := f.svc.HandleEvent(context.Background(), ev)
	if !errors.Is(err, ErrUnknownOwner) {
		t.Fatalf("err = %v, want ErrUnknownOwner", err)
	}
	if errors.Is(err, ErrInvalidPayload) {
		t.Fatal("unknown owner must not be reported as a bad payload")
	}
}

func TestSubscriptionDeletedSoftDeletes(t *testing.T) {
	f := newStripeFixture(t, nil)
	ctx := context.Background()
	obj := subscriptionJSON("sub_4", "cus_1", "active", map[string]string{"user_id": "u1"})
	if err := f.svc.HandleEvent(ctx, event(t, "evt_4a", "customer.subscription.created", obj)); err != nil {
		t.Fatal(err)
	}
	obj["status"] = "canceled"
	if err := f.svc.HandleEvent(ctx, event(t, "evt_4b", "customer.subscription.deleted", obj)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	row, _ := f.subs.GetByStripeID(ctx, "sub_4")
	if row.Status != model.SubscriptionCanceled || row.DeletedAt == nil {
		t.Fatalf("row = %+v", row)
	}
	if current, _ := f.subs.GetCurrentForUser(ctx, "u1"); current != nil {
		t.Fatalf("deleted subscription still current: %+v", current)
	}
}

func TestInvoiceEventsSetStatus(t *testing.T) {
	f := newStripeFixture(t, nil)
	ctx := context.Background()
	f.gateway.subscriptions["sub_5"] = &stripe.Subscription{
		ID:       "sub_5",
		Customer: &stripe.Customer{ID: "cus_5"},
		Status:   stripe.SubscriptionStatusIncomplete,
		Metadata: map[string]string{"user_id": "u5"},
	}

	failed := map[string]any{
		"id":       "in_1",
		"object":   "invoice",
		"customer": "cus_5",
		"parent": map[string]any{
			"type":                 "subscription_details",
			"subscription_details": map[string]any{"subscription": "sub_5"},
		},
	}
	if err := f.svc.HandleEvent(ctx, event(t, "evt_5a", "invoice.payment_failed", failed)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	row, _ := f.subs.GetByStripeID(ctx, "sub_5")
	if row == nil || row.Status != model.SubscriptionPastDue {
		t.Fatalf("row after failure = %+v", row)
	}

	succeeded := map[string]any{
		"id":       "in_2",
		"object":   "invoice",
		"customer": "cus_5",
		"lines": map[string]any{
			"object": "list",
			"data":   []any{map[string]any{"id": "il_1", "subscription": "sub_5"}},
		},
	}
	if err := f.svc.HandleEvent(ctx, event(t, "evt_5b", "invoice.payment_succeeded", succeeded)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	row, _ = f.subs.GetByStripeID(ctx, "sub_5")
	if row.Status != model.SubscriptionActive {
		t.Fatalf("status = %s, want active", row.Status)
	}
}

func TestInvoiceWithoutSubscriptionSkipped(t *testing.T) {
	f := newStripeFixture(t, nil)
	inv := map[string]any{"id": "in_3", "object": "invoice", "customer": "cus_1"}
	if err := f.svc.HandleEvent(context.Background(), event(t, "evt_6", "invoice.payment_succeeded", inv)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if f.subs.upserts != 0 {
		t.Fatalf("upserts = %d", f.subs.upserts)
	}
}

func TestMalformedEventIsInvalidPayload(t *testing.T) {
	f := newStripeFixture(t, nil)
	cases := []struct {
		eventType string
		raw       string
	}{
		{"customer.subscription.updated", `"nope"`},
		{"customer.subscription.created", `{}`},
		{"customer.subscription.deleted", `"sub_1"`},
		{"customer.subscription.updated", `{"id":"in_1","object":"invoice"}`},
		{"invoice.payment_succeeded", `"in_1"`},
		{"invoice.payment_failed", `{"id":"sub_1","object":"subscription"}`},
	}
	for i, c := range cases {
		ev := stripe.Event{ID: fmt.Sprintf("evt_bad_%d", i), Type: stripe.EventType(c.eventType), Data: &stripe.EventData{Raw: json.RawMessage(c.raw)}}
		if err := f.svc.HandleEvent(context.Background(), ev); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s %s: err = %v, want ErrInvalidPayload", c.eventType, c.raw, err)
		}
	}
	if f.subs.upserts != 0 {
		t.Fatalf("upserts = %d", f.subs.upserts)
	}
}

func TestDuplicateEventProcessedOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	f := newStripeFixture(t, NewRedisDeduper(rdb, "stripe:event:"))
	ev := event(t, "evt_dup", "customer.subscription.updated",
		subscriptionJSON("sub_8", "cus_1", "active", map[string]string{"user_id": "u1"}))

	for i := 0; i < 3; i++ {
		if err := f.svc.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("HandleEvent #%d: %v", i, err)
		}
	}
	if f.subs.upserts != 1 {
		t.Fatalf("upserts = %d, want 1", f.subs.upserts)
	}
	if ttl := mr.TTL("stripe:event:evt_dup"); ttl != eventTTL {
		t.Fatalf("claim ttl = %v", ttl)
	}
}

func TestFailedEventReleasesClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	f := newStripeFixture(t, NewRedisDeduper(rdb, "stripe:event:"))
	ev := event(t, "evt_retry", "customer.subscription.created", subscriptionJSON("sub_9", "cus_9", "active", nil))
	if err := f.svc.HandleEvent(context.Background(), ev); err == nil {
		t.Fatal("expected unknown owner error")
	}
	if mr.Exists("stripe:event:evt_retry") {
		t.Fatal("claim kept after failure; a retry would be dropped")
	}

	_, _ = f.profiles.Ensure(context.Background(), &model.Profile{ID: "u9", Role: model.RoleStudent})
	_ = f.profiles.UpdateStripeCustomerID(context.Background(), "u9", "cus_9")
	if err := f.svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRedisOutageStillProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	f := newStripeFixture(t, NewRedisDeduper(rdb, "stripe:event:"))
	ev := event(t, "evt_10", "customer.subscription.created",
		subscriptionJSON("sub_10", "cus_1", "active", map[string]string{"user_id": "u1"}))
	if err := f.svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if f.subs.upserts != 1 {
		t.Fatalf("upserts = %d", f.subs.upserts)
	}
}

func TestCheckoutCarriesOwnerMetadata(t *testing.T) {
	f := newStripeFixture(t, nil)
	ctx := context.Background()
	_, _ = f.profiles.Ensure(ctx, &model.Profile{ID: "admin", Email: "a@example.com", Role: model.RoleSchoolAdmin})
	_, _ = f.schools.EnsureForAdmin(ctx, &model.School{AdminUserID: "admin", Name: "Skyhawk"})
	school, _ := f.schools.GetByAdmin(ctx, "admin")

	url, err := f.svc.CreateCheckoutSession(ctx, "admin", PlanSchoolMonthly)
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if url == "" {
		t.Fatal("empty checkout url")
	}
	p := f.gateway.checkout
	if p.SubscriptionData == nil || p.SubscriptionData.Metadata["school_id"] != school.ID {
		t.Fatalf("subscription metadata = %+v", p.SubscriptionData)
	}
	if p.LineItems[0].Price == nil || *p.LineItems[0].Price != "price_school" {
		t.Fatal("wrong price for school plan")
	}
	stored, _ := f.schools.GetByAdmin(ctx, "admin")
	if stored.StripeCustomerID == nil {
		t.Fatal("customer id not stored on the school")
	}

	// The customer is reused on the next checkout.
	if _, err := f.svc.CreateCheckoutSession(ctx, "admin", PlanSchoolMonthly); err != nil {
		t.Fatal(err)
	}
	if f.gateway.customers != 1 {
		t.Fatalf("customers created = %d", f.gateway.customers)
	}
}

func TestCheckoutRejectsBadPlans(t *testing.T) {
	f := newStripeFixture(t, nil)
	ctx := context.Background()
	_, _ = f.profiles.Ensure(ctx, &model.Profile{ID: "s1", Role: model.RoleStudent})

	if _, err := f.svc.CreateCheckoutSession(ctx, "s1", "lifetime"); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("err = %v, want ErrInvalidPlan", err)
	}
	if _, err := f.svc.CreateCheckoutSession(ctx, "s1", PlanSchoolMonthly); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestPortalRequiresCustomer(t *testing.T) {
	f := newStripeFixture(t, nil)
	ctx := context.Background()
	_, _ = f.profiles.Ensure(ctx, &model.Profile{ID: "s1", Role: model.RoleStudent})
	if _, err := f.svc.CreatePortalSession(ctx, "s1"); !errors.Is(err, ErrNoCustomer) {
		t.Fatalf("err = %v, want ErrNoCustomer", err)
	}
	_ = f.profiles.UpdateStripeCustomerID(ctx, "s1", "cus_s1")
	url, err := f.svc.CreatePortalSession(ctx, "s1")
	if err != nil || url != "https://billing.stripe.test/cus_s1" {
		t.Fatalf("portal = %q, %v", url, err)
	}
}

func TestCreateAndCancelSubscription(t *testing.T) {
	f := newStripeFixture(t, nil)
	ctx := context.Background()
	_, _ = f.profiles.Ensure(ctx, &model.Profile{ID: "c1", Role: model.RoleCFI})

	intent, err := f.svc.CreateSubscription(ctx, "c1", PlanCFIMonthly)
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if intent.SubscriptionID != "sub_new" || intent.InvoiceID != "in_new" || intent.Status != model.SubscriptionIncomplete {
		t.Fatalf("intent = %+v", intent)
	}

	row, err := f.svc.CancelSubscription(ctx, "c1")
	if err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	if !row.CancelAtPeriodEnd || len(f.gateway.canceled) != 1 {
		t.Fatalf("row = %+v canceled = %v", row, f.gateway.canceled)
	}
	if row.UserID == nil || *row.UserID != "c1" {
		t.Fatal("cancel changed the owner")
	}
}
