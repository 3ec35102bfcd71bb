package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// In-memory store fakes mirroring the conditional-update contracts of the
// postgres stores.

type memItemStore struct {
	mu     sync.Mutex
	items  map[int64]domain.Item
	nextID int64
}

func newMemItemStore() *memItemStore {
	return &memItemStore{items: map[int64]domain.Item{}}
}

func (m *memItemStore) Create(_ context.Context, item domain.Item) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	item.ID = m.nextID
	item.CreatedAt = time.Now()
	m.items[item.ID] = item
	return item, nil
}

func (m *memItemStore) GetByID(_ context.Context, id int64) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return item, nil
}

func (m *memItemStore) ListAvailable(_ context.Context, _ domain.ListOpts) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Item
	for _, item := range m.items {
		if item.Available {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memItemStore) ListByOwner(_ context.Context, ownerID int64, _ domain.ListOpts) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Item
	for _, item := range m.items {
		if item.OwnerID == ownerID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memItemStore) SetAvailability(_ context.Context, id int64, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Available = available
	m.items[id] = item
	return nil
}

type memRequestStore struct {
	mu       sync.Mutex
	items    *memItemStore
	requests map[int64]domain.Request
	nextID   int64
}

func newMemRequestStore(items *memItemStore) *memRequestStore {
	return &memRequestStore{items: items, requests: map[int64]domain.Request{}}
}

func (m *memRequestStore) Create(_ context.Context, req domain.Request) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.requests {
		if other.ItemID == req.ItemID && other.RequesterID == req.RequesterID && other.Status.Active() {
			return domain.Request{}, domain.ErrDuplicateRequest
		}
	}
	m.nextID++
	req.ID = m.nextID
	req.CreatedAt = time.Now()
	m.requests[req.ID] = req
	return req, nil
}

func (m *memRequestStore) GetByID(_ context.Context, id int64) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.Request{}, domain.ErrNotFound
	}
	return req, nil
}

func (m *memRequestStore) GetActive(_ context.Context, requesterID, itemID int64) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.RequesterID == requesterID && req.ItemID == itemID && req.Status.Active() {
			return req, nil
		}
	}
	return domain.Request{}, domain.ErrNotFound
}

func (m *memRequestStore) Accept(_ context.Context, id int64, loanDurationDays *int, loanDeadline *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if req.Status != domain.RequestPending {
		return false, nil
	}
	now := time.Now()
	req.Status = domain.RequestAccepted
	req.LoanDurationDays = loanDurationDays
	req.LoanDeadline = loanDeadline
	req.RespondedAt = &now
	m.requests[id] = req
	return true, nil
}

func (m *memRequestStore) UpdateStatusIf(_ context.Context, id int64, from []domain.RequestStatus, target domain.RequestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	matched := false
	for _, f := range from {
		if req.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	now := time.Now()
	req.Status = target
	switch target {
	case domain.RequestCompleted:
		req.CompletedAt = &now
	case domain.RequestAccepted, domain.RequestRejected:
		req.RespondedAt = &now
	}
	m.requests[id] = req
	return true, nil
}

func (m *memRequestStore) ListByRequester(_ context.Context, requesterID int64, _ domain.ListOpts) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Request
	for _, req := range m.requests {
		if req.RequesterID == requesterID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *memRequestStore) ListByOwner(_ context.Context, ownerID int64, _ domain.ListOpts) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Request
	for _, req := range m.requests {
		item, ok := m.items.items[req.ItemID]
		if ok && item.OwnerID == ownerID {
			out = append(out, req)
		}
	}
	return out, nil
}

type memTransactionStore struct {
	mu       sync.Mutex
	requests *memRequestStore
	txns     map[int64]domain.Transaction
	nextID   int64
}

func newMemTransactionStore(requests *memRequestStore) *memTransactionStore {
	return &memTransactionStore{requests: requests, txns: map[int64]domain.Transaction{}}
}

func (m *memTransactionStore) Create(_ context.Context, txn domain.Transaction) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.txns {
		if other.RequestID == txn.RequestID {
			return domain.Transaction{}, domain.ErrAlreadyExists
		}
	}
	m.nextID++
	txn.ID = m.nextID
	txn.CreatedAt = time.Now()
	txn.UpdatedAt = txn.CreatedAt
	m.txns[txn.ID] = txn
	return txn, nil
}

func (m *memTransactionStore) GetByID(_ context.Context, id int64) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return txn, nil
}

func (m *memTransactionStore) GetByRequestID(_ context.Context, requestID int64) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.txns {
		if txn.RequestID == requestID {
			return txn, nil
		}
	}
	return domain.Transaction{}, domain.ErrNotFound
}

func (m *memTransactionStore) GetByProviderRef(_ context.Context, provider, ref string) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.txns {
		if txn.Provider == provider && txn.ProviderRef != nil && *txn.ProviderRef == ref {
			return txn, nil
		}
	}
	return domain.Transaction{}, domain.ErrNotFound
}

func (m *memTransactionStore) UpdateStatusIf(_ context.Context, id int64, from []domain.TransactionStatus, target domain.TransactionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	matched := false
	for _, f := range from {
		if txn.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	now := time.Now()
	txn.Status = target
	txn.UpdatedAt = now
	if target.Terminal() {
		txn.CompletedAt = &now
	}
	m.txns[id] = txn
	return true, nil
}

func (m *memTransactionStore) AttachProof(_ context.Context, id int64, proofKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if txn.Status != domain.TransactionPending && txn.Status != domain.TransactionProofUploaded {
		return false, nil
	}
	txn.Status = domain.TransactionProofUploaded
	txn.ProofKey = &proofKey
	txn.UpdatedAt = time.Now()
	m.txns[id] = txn
	return true, nil
}

func (m *memTransactionStore) SetProviderRef(_ context.Context, id int64, provider, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return domain.ErrNotFound
	}
	if txn.ProviderRef != nil {
		return nil
	}
	txn.Provider = provider
	txn.ProviderRef = &ref
	m.txns[id] = txn
	return nil
}

func (m *memTransactionStore) Complete(ctx context.Context, id, requestID int64) (bool, error) {
	m.mu.Lock()
	txn, ok := m.txns[id]
	if !ok {
		m.mu.Unlock()
		return false, domain.ErrNotFound
	}
	switch txn.Status {
	case domain.TransactionCompleted:
		m.mu.Unlock()
		return false, nil
	case domain.TransactionFailed:
		m.mu.Unlock()
		return false, fmt.Errorf("memstore: transaction failed: %w", domain.ErrInvalidTransition)
	}
	now := time.Now()
	txn.Status = domain.TransactionCompleted
	txn.UpdatedAt = now
	txn.CompletedAt = &now
	m.txns[id] = txn
	m.mu.Unlock()

	_, err := m.requests.UpdateStatusIf(ctx, requestID,
		[]domain.RequestStatus{domain.RequestAccepted}, domain.RequestCompleted)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *memTransactionStore) HasCompletedForPayer(_ context.Context, payerID, itemID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.txns {
		if txn.PayerID == payerID && txn.ItemID == itemID && txn.Status == domain.TransactionCompleted {
			return true, nil
		}
	}
	return false, nil
}

type memProofStore struct {
	mu     sync.Mutex
	proofs map[int64]domain.Proof
	nextID int64
}

func newMemProofStore() *memProofStore {
	return &memProofStore{proofs: map[int64]domain.Proof{}}
}

func (m *memProofStore) Create(_ context.Context, proof domain.Proof) (domain.Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	proof.ID = m.nextID
	proof.CreatedAt = time.Now()
	m.proofs[proof.ID] = proof
	return proof, nil
}

func (m *memProofStore) GetByID(_ context.Context, id int64) (domain.Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proof, ok := m.proofs[id]
	if !ok {
		return domain.Proof{}, domain.ErrNotFound
	}
	return proof, nil
}

func (m *memProofStore) LatestUnverified(_ context.Context, transactionID int64) (domain.Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest domain.Proof
	found := false
	for _, proof := range m.proofs {
		if proof.TransactionID != transactionID || proof.State != domain.ProofUnverified {
			continue
		}
		if !found || proof.ID > latest.ID {
			latest = proof
			found = true
		}
	}
	if !found {
		return domain.Proof{}, domain.ErrNotFound
	}
	return latest, nil
}

func (m *memProofStore) Resolve(_ context.Context, id, verifierID int64, state domain.ProofState, notes string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proof, ok := m.proofs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if proof.State != domain.ProofUnverified {
		return false, nil
	}
	now := time.Now()
	proof.State = state
	proof.Notes = notes
	proof.VerifierID = &verifierID
	proof.VerifiedAt = &now
	m.proofs[id] = proof
	return true, nil
}

func (m *memProofStore) ListByTransaction(_ context.Context, transactionID int64) ([]domain.Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Proof
	for _, proof := range m.proofs {
		if proof.TransactionID == transactionID {
			out = append(out, proof)
		}
	}
	return out, nil
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{
		ID:        int64(len(m.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *memAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}

type fakeLimiter struct {
	mu    sync.Mutex
	allow bool
	calls int
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.allow, nil
}

type fakeLocks struct {
	held bool
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type fakeBus struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	types map[string]string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeBlobStore) Put(_ context.Context, key string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = buf
	f.types[key] = contentType
	return nil
}

func (f *fakeBlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.blobs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (f *fakeBlobStore) Stat(_ context.Context, key string) (domain.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.blobs[key]
	if !ok {
		return domain.BlobInfo{}, domain.ErrNotFound
	}
	return domain.BlobInfo{
		Key:         key,
		Size:        int64(len(buf)),
		ContentType: f.types[key],
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires the full service graph over in-memory stores.
type fixture struct {
	items    *memItemStore
	requests *memRequestStore
	txnStore *memTransactionStore
	proofs   *memProofStore
	audit    *memAuditStore
	bus      *fakeBus
	blobs    *fakeBlobStore

	itemSvc    *ItemService
	requestSvc *RequestService
	txnSvc     *TransactionService
	proofSvc   *ProofService
	accessSvc  *AccessService
}

func newFixture() *fixture {
	f := &fixture{
		items:  newMemItemStore(),
		proofs: newMemProofStore(),
		audit:  &memAuditStore{},
		bus:    &fakeBus{},
		blobs:  newFakeBlobStore(),
	}
	f.requests = newMemRequestStore(f.items)
	f.txnStore = newMemTransactionStore(f.requests)

	logger := testLogger()
	f.itemSvc = NewItemService(f.items, logger)
	f.requestSvc = NewRequestService(f.items, f.requests, &fakeLimiter{allow: true}, f.bus, f.audit, nil, logger)
	f.txnSvc = NewTransactionService(f.txnStore, f.requests, f.items, f.bus, f.audit, nil, logger)
	f.requestSvc.SetTransactionOpener(f.txnSvc)
	f.proofSvc = NewProofService(f.proofs, f.txnStore, f.items, f.txnSvc, f.blobs, logger)
	f.accessSvc = NewAccessService(f.items, f.requests, f.txnStore, f.blobs, f.audit, logger)
	return f
}

func (f *fixture) seedItem(t interface{ Fatalf(string, ...any) }, ownerID int64, exchange domain.ExchangeType, priceCents int64) domain.Item {
	item, err := f.items.Create(context.Background(), domain.Item{
		OwnerID:      ownerID,
		Title:        "test item",
		ExchangeType: exchange,
		PriceCents:   priceCents,
		ResourceKey:  "",
		Available:    true,
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}
