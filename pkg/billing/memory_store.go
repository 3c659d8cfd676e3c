package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

// MemorySubscriptionStore is an in-memory SubscriptionStore for tests
// and single-process setups. Safe for concurrent use.
type MemorySubscriptionStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*SubscriptionRecord
}

// NewMemorySubscriptionStore creates an empty in-memory store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{records: make(map[uuid.UUID]*SubscriptionRecord)}
}

// Put seeds a record directly, bypassing engine transitions. Test helper.
func (s *MemorySubscriptionStore) Put(record *SubscriptionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.records[record.UserID] = &cp
}

func (s *MemorySubscriptionStore) Get(ctx context.Context, userID uuid.UUID) (*SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *record
	return &cp, nil
}

func (s *MemorySubscriptionStore) Activate(ctx context.Context, params ActivateParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[params.UserID]
	if !ok {
		record = &SubscriptionRecord{UserID: params.UserID}
		s.records[params.UserID] = record
	}

	plan := params.PlanSlug
	end := params.SubscriptionEnd
	record.Email = params.Email
	record.Subscribed = true
	record.CurrentPlanSlug = &plan
	record.SubscriptionEnd = &end
	record.CancelAtPeriodEnd = false
	record.PendingDowngradeTo = nil
	record.PendingDowngradeDate = nil
	record.GatewaySubscriptionID = params.GatewaySubscriptionID
	record.UpdatedAt = params.Now
	return nil
}

func (s *MemorySubscriptionStore) ListExpired(ctx context.Context, now time.Time) ([]SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SubscriptionRecord
	for _, record := range s.records {
		if record.Subscribed && record.SubscriptionEnd != nil && record.SubscriptionEnd.Before(now) {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (s *MemorySubscriptionStore) Downgrade(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[userID]
	if !ok {
		return false, ErrRecordNotFound
	}
	if !record.Subscribed {
		return false, nil
	}

	record.Subscribed = false
	record.PreviousPlanSlug = record.CurrentPlanSlug
	record.CurrentPlanSlug = nil
	record.SubscriptionEnd = nil
	record.CancelAtPeriodEnd = false
	record.PendingDowngradeTo = nil
	record.PendingDowngradeDate = nil
	record.UpdatedAt = now
	return true, nil
}

func (s *MemorySubscriptionStore) SetCancelAtPeriodEnd(ctx context.Context, userID uuid.UUID, cancel bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[userID]
	if !ok {
		return ErrRecordNotFound
	}
	record.CancelAtPeriodEnd = cancel
	record.UpdatedAt = now
	return nil
}

func (s *MemorySubscriptionStore) SetPendingDowngrade(ctx context.Context, userID uuid.UUID, planSlug *string, date *time.Time, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[userID]
	if !ok {
		return ErrRecordNotFound
	}
	record.PendingDowngradeTo = planSlug
	record.PendingDowngradeDate = date
	record.UpdatedAt = now
	return nil
}

func (s *MemorySubscriptionStore) ClearPendingChange(ctx context.Context, userID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[userID]
	if !ok {
		return ErrRecordNotFound
	}
	record.PendingDowngradeTo = nil
	record.PendingDowngradeDate = nil
	record.CancelAtPeriodEnd = false
	record.UpdatedAt = now
	return nil
}

// MemoryIntentStore is an in-memory IntentStore for tests and
// single-process setups. Safe for concurrent use.
type MemoryIntentStore struct {
	mu      sync.RWMutex
	intents map[uuid.UUID]*PaymentIntent
}

// NewMemoryIntentStore creates an empty in-memory store.
func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{intents: make(map[uuid.UUID]*PaymentIntent)}
}

func (s *MemoryIntentStore) Create(ctx context.Context, intent *PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *intent
	s.intents[intent.ID] = &cp
	return nil
}

func (s *MemoryIntentStore) Get(ctx context.Context, id uuid.UUID) (*PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (s *MemoryIntentStore) GetByProviderRef(ctx context.Context, rail gateway.Rail, txID string) (*PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, intent := range s.intents {
		if intent.Rail == rail && intent.TxID == txID {
			cp := *intent
			return &cp, nil
		}
	}
	return nil, ErrIntentNotFound
}

func (s *MemoryIntentStore) MarkStatus(ctx context.Context, id uuid.UUID, status IntentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return false, ErrIntentNotFound
	}
	if intent.Status != IntentPending {
		return false, nil
	}
	intent.Status = status
	return true, nil
}
