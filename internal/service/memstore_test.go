package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Staritsin/photo-live/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store plus repository fake for the service tests.
// InTx serializes callers with one mutex, mirroring the row locks the MySQL
// implementation takes, and rolls back by restoring a snapshot when the
// function fails.
type memStore struct {
	mu sync.Mutex

	users     map[int64]*models.User
	payments  map[int64]*models.Payment
	referrals map[int64]*models.Referral
	entries   []models.BalanceEntry

	nextID int64
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[int64]*models.User{},
		payments:  map[int64]*models.Payment{},
		referrals: map[int64]*models.Referral{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

// seedUser inserts an account directly, bypassing the services.
func (m *memStore) seedUser(telegramID int64, balance int) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &models.User{
		ID:         m.id(),
		TelegramID: telegramID,
		Balance:    balance,
		CreatedAt:  time.Now().UTC(),
	}
	m.users[u.ID] = u
	return copyUser(u)
}

func (m *memStore) seedPayment(userID int64, providerPaymentID string, amountRUB int, status models.PaymentStatus) *models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Payment{
		ID:                m.id(),
		UserID:            userID,
		Provider:          "fake",
		ProviderPaymentID: providerPaymentID,
		Amount:            amountRUB,
		Status:            status,
		CreatedAt:         time.Now().UTC(),
	}
	m.payments[p.ID] = p
	return copyPayment(p)
}

func (m *memStore) seedReferral(inviterID, invitedID int64, awarded bool) *models.Referral {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &models.Referral{
		ID:           m.id(),
		InviterID:    inviterID,
		InvitedID:    invitedID,
		BonusAwarded: awarded,
		CreatedAt:    time.Now().UTC(),
	}
	m.referrals[r.ID] = r
	return r
}

func (m *memStore) userByID(userID int64) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyUser(m.users[userID])
}

func (m *memStore) entriesFor(userID int64) []models.BalanceEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BalanceEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

type memSnapshot struct {
	users     map[int64]*models.User
	payments  map[int64]*models.Payment
	referrals map[int64]*models.Referral
	entries   []models.BalanceEntry
	nextID    int64
}

func (m *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		users:     make(map[int64]*models.User, len(m.users)),
		payments:  make(map[int64]*models.Payment, len(m.payments)),
		referrals: make(map[int64]*models.Referral, len(m.referrals)),
		entries:   append([]models.BalanceEntry(nil), m.entries...),
		nextID:    m.nextID,
	}
	for id, u := range m.users {
		snap.users[id] = copyUser(u)
	}
	for id, p := range m.payments {
		snap.payments[id] = copyPayment(p)
	}
	for id, r := range m.referrals {
		cp := *r
		snap.referrals[id] = &cp
	}
	return snap
}

func (m *memStore) restore(snap memSnapshot) {
	m.users = snap.users
	m.payments = snap.payments
	m.referrals = snap.referrals
	m.entries = snap.entries
	m.nextID = snap.nextID
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(&memTx{store: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) UserForUpdate(ctx context.Context, userID int64) (*models.User, error) {
	u, ok := t.store.users[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyUser(u), nil
}

func (t *memTx) SaveBilling(ctx context.Context, user *models.User) error {
	stored, ok := t.store.users[user.ID]
	if !ok {
		return ErrAccountNotFound
	}
	stored.Balance = user.Balance
	stored.TotalSpent = user.TotalSpent
	stored.TotalGenerations = user.TotalGenerations
	stored.FreeTrialUsed = user.FreeTrialUsed
	stored.LastPaymentAt = user.LastPaymentAt
	return nil
}

func (t *memTx) AppendBalanceEntry(ctx context.Context, entry *models.BalanceEntry) error {
	entry.ID = t.store.id()
	entry.CreatedAt = time.Now().UTC()
	t.store.entries = append(t.store.entries, *entry)
	return nil
}

func (t *memTx) HasBalanceEntry(ctx context.Context, userID int64, reason models.BalanceReason) (bool, error) {
	for _, e := range t.store.entries {
		if e.UserID == userID && e.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) PaymentForUpdate(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	for _, p := range t.store.payments {
		if p.ProviderPaymentID == providerPaymentID {
			return copyPayment(p), nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (t *memTx) SetPaymentStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) error {
	p, ok := t.store.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) UnawardedReferralByInvited(ctx context.Context, invitedUserID int64) (*models.Referral, error) {
	for _, r := range t.store.referrals {
		if r.InvitedID == invitedUserID && !r.BonusAwarded {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) MarkReferralAwarded(ctx context.Context, referralID int64) (bool, error) {
	r, ok := t.store.referrals[referralID]
	if !ok || r.BonusAwarded {
		return false, nil
	}
	r.BonusAwarded = true
	return true, nil
}

func (t *memTx) DeleteReferralsFor(ctx context.Context, userID int64) error {
	for id, r := range t.store.referrals {
		if r.InviterID == userID || r.InvitedID == userID {
			delete(t.store.referrals, id)
		}
	}
	return nil
}

// Non-transactional repository surfaces.

func (m *memStore) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TelegramID == telegramID {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (m *memStore) FindByID(ctx context.Context, userID int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyUser(m.users[userID]), nil
}

func (m *memStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	cp.ID = m.id()
	cp.CreatedAt = time.Now().UTC()
	m.users[cp.ID] = &cp
	return copyUser(&cp), nil
}

func (m *memStore) UpdateProfile(ctx context.Context, userID int64, username, fullName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.Username = username
		u.FullName = fullName
	}
	return nil
}

func (m *memStore) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.users))
	for _, u := range m.users {
		ids = append(ids, u.TelegramID)
	}
	return ids, nil
}

func (m *memStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment.ID = m.id()
	payment.CreatedAt = time.Now().UTC()
	m.payments[payment.ID] = copyPayment(payment)
	return nil
}

func (m *memStore) FindByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ProviderPaymentID == providerPaymentID {
			return copyPayment(p), nil
		}
	}
	return nil, nil
}

func (m *memStore) LastForUser(ctx context.Context, userID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *models.Payment
	for _, p := range m.payments {
		if p.UserID != userID {
			continue
		}
		if last == nil || p.ID > last.ID {
			last = p
		}
	}
	return copyPayment(last), nil
}

func (m *memStore) CreateReferral(ctx context.Context, inviterID, invitedID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrals {
		if r.InvitedID == invitedID {
			return ErrDuplicateReferral
		}
	}
	r := &models.Referral{
		ID:        m.id(),
		InviterID: inviterID,
		InvitedID: invitedID,
		CreatedAt: time.Now().UTC(),
	}
	m.referrals[r.ID] = r
	return nil
}

func (m *memStore) FindByInvited(ctx context.Context, invitedID int64) (*models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrals {
		if r.InvitedID == invitedID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) Stats(ctx context.Context, inviterID int64) (total, paid int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrals {
		if r.InviterID != inviterID {
			continue
		}
		total++
		if r.BonusAwarded {
			paid++
		}
	}
	return total, paid, nil
}

// memPayments adapts memStore to PaymentStore (Create clashes with
// UserStore's otherwise).
type memPayments struct{ *memStore }

func (m memPayments) Create(ctx context.Context, payment *models.Payment) error {
	return m.CreatePayment(ctx, payment)
}

// memReferrals adapts memStore to ReferralStore.
type memReferrals struct{ *memStore }

func (m memReferrals) Create(ctx context.Context, inviterID, invitedID int64) error {
	return m.CreateReferral(ctx, inviterID, invitedID)
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.LastPaymentAt != nil {
		t := *u.LastPaymentAt
		cp.LastPaymentAt = &t
	}
	return &cp
}

func copyPayment(p *models.Payment) *models.Payment {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// recordSink captures audit events for assertions.
type recordSink struct {
	mu        sync.Mutex
	changes   []models.BalanceEntry
	results   []models.PaymentStatus
	events    []string
	summaries [][3]int
}

func (r *recordSink) BalanceChange(entry models.BalanceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, entry)
}

func (r *recordSink) PaymentResult(userID int64, providerPaymentID string, status models.PaymentStatus, amountRUB int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, status)
}

func (r *recordSink) UserEvent(userID int64, event string, meta map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordSink) ReferralSummary(inviterID int64, invitedTotal, invitedPaid, bonusTotal int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, [3]int{invitedTotal, invitedPaid, bonusTotal})
}

func (r *recordSink) changeReasons() []models.BalanceReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.BalanceReason, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Reason)
	}
	return out
}
