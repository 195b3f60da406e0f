package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"skytrack/internal/model"
	"skytrack/internal/repository"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
)

// In-memory repositories with the same conflict rules as the SQL ones.

type fakeProfiles struct {
	mu   sync.Mutex
	rows map[string]*model.Profile
}

func newFakeProfiles() *fakeProfiles { return &fakeProfiles{rows: map[string]*model.Profile{}} }

func (f *fakeProfiles) GetByID(_ context.Context, id string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.rows[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeProfiles) GetByStripeCustomerID(_ context.Context, customerID string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.StripeCustomerID != nil && *p.StripeCustomerID == customerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeProfiles) Ensure(_ context.Context, p *model.Profile) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rows[p.ID]; ok {
		cp := *existing
		return &cp, nil
	}
	now := time.Now()
	cp := *p
	cp.CreatedAt, cp.UpdatedAt = now, now
	f.rows[p.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeProfiles) Update(_ context.Context, id string, u repository.ProfileUpdate) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	if u.DisplayName != nil {
		p.DisplayName = u.DisplayName
	}
	if u.ProgramType != nil {
		p.ProgramType = u.ProgramType
	}
	if u.Preferences != nil {
		p.Preferences = u.Preferences
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) UpdateRole(_ context.Context, id string, role model.Role) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	p.Role = role
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) UpdateStripeCustomerID(_ context.Context, id, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.rows[id]; ok {
		p.StripeCustomerID = &customerID
	}
	return nil
}

func (f *fakeProfiles) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeSchools struct {
	mu   sync.Mutex
	rows map[string]*model.School
}

func newFakeSchools() *fakeSchools { return &fakeSchools{rows: map[string]*model.School{}} }

func (f *fakeSchools) find(match func(*model.School) bool) *model.School {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if match(s) {
			cp := *s
			return &cp
		}
	}
	return nil
}

func (f *fakeSchools) GetByID(_ context.Context, id string) (*model.School, error) {
	return f.find(func(s *model.School) bool { return s.ID == id }), nil
}

func (f *fakeSchools) GetByAdmin(_ context.Context, adminUserID string) (*model.School, error) {
	return f.find(func(s *model.School) bool { return s.AdminUserID == adminUserID }), nil
}

func (f *fakeSchools) GetByStripeCustomerID(_ context.Context, customerID string) (*model.School, error) {
	return f.find(func(s *model.School) bool {
		return s.StripeCustomerID != nil && *s.StripeCustomerID == customerID
	}), nil
}

func (f *fakeSchools) EnsureForAdmin(_ context.Context, s *model.School) (*model.School, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.AdminUserID == s.AdminUserID {
			cp := *existing
			return &cp, nil
		}
	}
	cp := *s
	cp.ID = uuid.NewString()
	f.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeSchools) UpdateStripeCustomerID(_ context.Context, id, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rows[id]; ok {
		s.StripeCustomerID = &customerID
	}
	return nil
}

type fakeSubs struct {
	mu      sync.Mutex
	rows    map[string]*model.Subscription
	upserts int
}

func newFakeSubs() *fakeSubs { return &fakeSubs{rows: map[string]*model.Subscription{}} }

func (f *fakeSubs) GetByStripeID(_ context.Context, id string) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rows[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeSubs) current(match func(*model.Subscription) bool) *model.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.DeletedAt == nil && match(s) {
			cp := *s
			return &cp
		}
	}
	return nil
}

func (f *fakeSubs) GetCurrentForUser(_ context.Context, userID string) (*model.Subscription, error) {
	return f.current(func(s *model.Subscription) bool { return s.UserID != nil && *s.UserID == userID }), nil
}

func (f *fakeSubs) GetCurrentForSchool(_ context.Context, schoolID string) (*model.Subscription, error) {
	return f.current(func(s *model.Subscription) bool { return s.SchoolID != nil && *s.SchoolID == schoolID }), nil
}

func (f *fakeSubs) Upsert(_ context.Context, s *model.Subscription) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if (s.UserID == nil) == (s.SchoolID == nil) {
		return nil, fmt.Errorf("subscription must have exactly one owner")
	}
	f.upserts++
	if existing, ok := f.rows[s.StripeSubscriptionID]; ok {
		existing.Status = s.Status
		existing.CancelAtPeriodEnd = s.CancelAtPeriodEnd
		existing.StripeCustomerID = s.StripeCustomerID
		if s.StripePriceID != nil {
			existing.StripePriceID = s.StripePriceID
		}
		if s.CurrentPeriodEnd != nil {
			existing.CurrentPeriodStart, existing.CurrentPeriodEnd = s.CurrentPeriodStart, s.CurrentPeriodEnd
		}
		cp := *existing
		return &cp, nil
	}
	cp := *s
	cp.ID = uuid.NewString()
	f.rows[s.StripeSubscriptionID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeSubs) UpdateStatus(_ context.Context, id string, status model.SubscriptionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rows[id]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeSubs) SoftDelete(_ context.Context, id string, status model.SubscriptionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rows[id]; ok {
		now := time.Now()
		s.Status = status
		s.DeletedAt = &now
	}
	return nil
}

type fakeDocs struct {
	mu   sync.Mutex
	rows map[string]*model.Document
}

func newFakeDocs() *fakeDocs { return &fakeDocs{rows: map[string]*model.Document{}} }

func (f *fakeDocs) Create(_ context.Context, userID, fileName string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &model.Document{ID: uuid.NewString(), UserID: userID, FileName: fileName, Status: model.DocumentPendingUpload, UpdatedAt: time.Now()}
	f.rows[d.ID] = d
	cp := *d
	return &cp, nil
}

func (f *fakeDocs) GetByID(_ context.Context, id string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.rows[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDocs) with(id string, fn func(*model.Document)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.rows[id]; ok {
		fn(d)
	}
	return nil
}

func (f *fakeDocs) SetStoragePath(_ context.Context, id, p string) error {
	return f.with(id, func(d *model.Document) { d.StoragePath = p })
}

func (f *fakeDocs) UpdateStatus(_ context.Context, id string, status model.DocumentStatus) error {
	return f.with(id, func(d *model.Document) { d.Status, d.UpdatedAt = status, time.Now() })
}

func (f *fakeDocs) Complete(_ context.Context, id, text string, pages int) error {
	return f.with(id, func(d *model.Document) {
		d.Status, d.ExtractedText, d.PageCount, d.Error = model.DocumentComplete, &text, pages, nil
	})
}

func (f *fakeDocs) Fail(_ context.Context, id, reason string) error {
	return f.with(id, func(d *model.Document) { d.Status, d.Error = model.DocumentFailed, &reason })
}

func (f *fakeDocs) ListStale(_ context.Context, status model.DocumentStatus, olderThan time.Time, limit int) ([]*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Document
	for _, d := range f.rows {
		if len(out) == limit {
			break
		}
		if d.Status == status && d.UpdatedAt.Before(olderThan) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeGateway struct {
	mu            sync.Mutex
	customers     int
	subscriptions map[string]*stripe.Subscription
	checkout      *stripe.CheckoutSessionParams
	canceled      []string
}

func (g *fakeGateway) CreateCustomer(_ context.Context, _, _ string, _ map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers++
	return fmt.Sprintf("cus_%d", g.customers), nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ss, ok := g.subscriptions[id]; ok {
		return ss, nil
	}
	return nil, fmt.Errorf("no such subscription: %s", id)
}

func (g *fakeGateway) CreateSubscription(_ context.Context, customerID, priceID string, metadata map[string]string) (*stripe.Subscription, error) {
	return &stripe.Subscription{
		ID:       "sub_new",
		Customer: &stripe.Customer{ID: customerID},
		Status:   stripe.SubscriptionStatusIncomplete,
		Metadata: metadata,
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
			{Price: &stripe.Price{ID: priceID}},
		}},
		LatestInvoice: &stripe.Invoice{ID: "in_new"},
	}, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string, atPeriodEnd bool) (*stripe.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, id)
	return &stripe.Subscription{
		ID:                id,
		Customer:          &stripe.Customer{ID: "cus_1"},
		Status:            stripe.SubscriptionStatusActive,
		CancelAtPeriodEnd: atPeriodEnd,
	}, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, params *stripe.CheckoutSessionParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkout = params
	return "https://checkout.stripe.test/session", nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	return "https://billing.stripe.test/" + customerID, nil
}

type fakeStore struct {
	mu       sync.Mutex
	uploaded map[string]bool
}

func (s *fakeStore) PresignPut(_ context.Context, key string) (string, error) {
	return "https://storage.test/put/" + key, nil
}

func (s *fakeStore) PresignGet(_ context.Context, key string) (string, error) {
	return "https://storage.test/get/" + key, nil
}

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploaded[key], nil
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	messages [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, payload)
	return "msg", nil
}

type fakeOCR struct {
	result *OCRResult
	err    error
	calls  int
}

func (o *fakeOCR) Extract(context.Context, string) (*OCRResult, error) {
	o.calls++
	return o.result, o.err
}
