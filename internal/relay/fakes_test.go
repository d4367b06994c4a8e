package relay

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
)

// ---------------------------------------------------------------------------
// In-memory stores with the same compare-and-set semantics as the SQL repositories
// ---------------------------------------------------------------------------

type memConnectionStore struct {
	mu    sync.Mutex
	conns map[string]*models.Connection
}

func newMemConnectionStore() *memConnectionStore {
	return &memConnectionStore{conns: map[string]*models.Connection{}}
}

func cloneConn(c *models.Connection) *models.Connection {
	cp := *c
	return &cp
}

func (s *memConnectionStore) Create(_ context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if c.Status == models.ConnectionStatusActive && c.UserID == conn.UserID && c.DApp.Domain == conn.DApp.Domain {
			return ErrDuplicateConnection
		}
	}
	s.conns[conn.ID] = cloneConn(conn)
	return nil
}

func (s *memConnectionStore) GetByID(_ context.Context, id string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[id]; ok {
		return cloneConn(c), nil
	}
	return nil, nil
}

func (s *memConnectionStore) GetByKey(_ context.Context, key string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if c.ConnectionKey == key {
			return cloneConn(c), nil
		}
	}
	return nil, nil
}

func (s *memConnectionStore) GetActiveByUserDomain(_ context.Context, userID, domain string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if c.Status == models.ConnectionStatusActive && c.UserID == userID && c.DApp.Domain == domain {
			return cloneConn(c), nil
		}
	}
	return nil, nil
}

func (s *memConnectionStore) ListByUser(_ context.Context, userID string) ([]*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Connection
	for _, c := range s.conns {
		if c.UserID == userID {
			out = append(out, cloneConn(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memConnectionStore) UpdateSession(_ context.Context, conn *models.Connection) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[conn.ID]
	if !ok || c.Status != models.ConnectionStatusActive {
		return false, nil
	}
	c.NestIDID, c.WalletID, c.DApp = conn.NestIDID, conn.WalletID, conn.DApp
	c.Permissions = conn.Permissions
	c.Session = conn.Session
	c.UpdatedAt = conn.UpdatedAt
	return true, nil
}

func (s *memConnectionStore) UpdatePermissions(_ context.Context, id string, perms models.Permissions) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok || c.Status != models.ConnectionStatusActive {
		return false, nil
	}
	c.Permissions = perms
	return true, nil
}

func (s *memConnectionStore) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[id]; ok && c.Status == models.ConnectionStatusActive {
		c.Status = models.ConnectionStatusRevoked
		c.RevokedAt = &at
	}
	return nil
}

func (s *memConnectionStore) FindByRefreshPrefix(_ context.Context, prefix string) ([]*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Connection
	for _, c := range s.conns {
		prev := c.Session.PreviousRefreshPrefix
		if c.Session.RefreshTokenPrefix == prefix || (prev != nil && *prev == prefix) {
			out = append(out, cloneConn(c))
		}
	}
	return out, nil
}

func (s *memConnectionStore) RotateRefreshToken(_ context.Context, id, expectedHash, prefix, hash string, expiresAt, rotatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok || c.Session.RefreshTokenHash != expectedHash {
		return false, nil
	}
	prevPrefix, prevHash := c.Session.RefreshTokenPrefix, c.Session.RefreshTokenHash
	c.Session.PreviousRefreshPrefix = &prevPrefix
	c.Session.PreviousRefreshHash = &prevHash
	c.Session.RefreshRotatedAt = &rotatedAt
	c.Session.RefreshTokenPrefix = prefix
	c.Session.RefreshTokenHash = hash
	c.Session.RefreshTokenExpiresAt = expiresAt
	return true, nil
}

func (s *memConnectionStore) RecordUsage(_ context.Context, id, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[id]; ok {
		c.UsageCount++
		c.LastUsedAt = &at
		c.LastUsedIP = &ip
	}
	return nil
}

type memAccounts struct {
	wallets map[string]*models.Wallet
	nests   map[string]*models.NestID
}

func (a *memAccounts) GetWallet(_ context.Context, id string) (*models.Wallet, error) {
	return a.wallets[id], nil
}

func (a *memAccounts) GetNestID(_ context.Context, id string) (*models.NestID, error) {
	return a.nests[id], nil
}

type memTransactionStore struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
	now func() time.Time

	// failTransitionTo makes TransitionStatus error for one target status
	failTransitionTo models.TransactionStatus
}

func newMemTransactionStore(now func() time.Time) *memTransactionStore {
	return &memTransactionStore{txs: map[string]*models.Transaction{}, now: now}
}

func (s *memTransactionStore) failTransitions(to models.TransactionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTransitionTo = to
}

func (s *memTransactionStore) Create(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.TransactionID]; ok {
		return errors.New("duplicate transaction id")
	}
	cp := *tx
	s.txs[tx.TransactionID] = &cp
	return nil
}

func (s *memTransactionStore) GetByTransactionID(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok {
		cp := *tx
		return &cp, nil
	}
	return nil, nil
}

func (s *memTransactionStore) List(_ context.Context, f models.TransactionFilter) ([]*models.Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Transaction
	for _, tx := range s.txs {
		if tx.UserID != f.UserID || (f.Status != nil && tx.Status != *f.Status) {
			continue
		}
		cp := *tx
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return strings.Compare(all[i].TransactionID, all[j].TransactionID) < 0 })
	total := len(all)
	if f.Offset < len(all) {
		all = all[f.Offset:]
	} else {
		all = nil
	}
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (s *memTransactionStore) TransitionStatus(_ context.Context, id string, from, to models.TransactionStatus, upd models.TransactionUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTransitionTo != "" && s.failTransitionTo == to {
		return false, errors.New("database unavailable")
	}
	tx, ok := s.txs[id]
	if !ok || tx.Status != from {
		return false, nil
	}
	applyUpdate(tx, to, upd, s.now())
	return true, nil
}

func (s *memTransactionStore) ReclaimSigning(_ context.Context, id string, staleBefore, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.Status != models.TransactionStatusSigning || !tx.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	tx.UpdatedAt = at
	return true, nil
}

func (s *memTransactionStore) status(id string) models.TransactionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs[id].Status
}

// ---------------------------------------------------------------------------
// Wallet signer fake
// ---------------------------------------------------------------------------

type fakeSigner struct {
	mu         sync.Mutex
	signatures map[string]bool

	calls     atomic.Int32
	err       error
	delay     time.Duration
	lastKey   atomic.Value
	signature string
}

func (f *fakeSigner) Sign(ctx context.Context, req SignRequest) (string, error) {
	f.calls.Add(1)
	f.lastKey.Store(req.IdempotencyKey)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	sig := f.signature
	if sig == "" {
		sig = "0xsig-" + req.IdempotencyKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signatures == nil {
		f.signatures = map[string]bool{}
	}
	f.signatures[sig] = true
	return sig, nil
}

func (f *fakeSigner) distinctSignatures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signatures)
}
