package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deabakjj/MYCREATA1-sub001/internal/auth"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/telemetry"
)

const (
	// DefaultRequestExpiry is how long a signing request waits for the user
	DefaultRequestExpiry = 10 * time.Minute

	// DefaultMaxRequestExpiry bounds caller-supplied expiries
	DefaultMaxRequestExpiry = 24 * time.Hour

	// DefaultSignTimeout bounds one wallet signer call
	DefaultSignTimeout = 15 * time.Second

	// MaxReasonLength caps rejection reasons and DApp-reported failure messages
	MaxReasonLength = 500

	transactionIDBytes = 16
	rollbackTimeout    = 5 * time.Second
)

// ExpiredStatus is reported in views for a pending request past its deadline.
// It is never stored.
const ExpiredStatus = "expired"

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// RelayConfig tunes a TransactionRelay. Zero values select the defaults.
type RelayConfig struct {
	DefaultExpiry time.Duration
	MaxExpiry     time.Duration
	SignTimeout   time.Duration
}

// TransactionRelay owns the signing-request lifecycle
type TransactionRelay struct {
	connections   *ConnectionRegistry
	store         TransactionStore
	signer        WalletSigner
	risk          *RiskPolicy
	defaultExpiry time.Duration
	maxExpiry     time.Duration
	signTimeout   time.Duration
	now           func() time.Time
}

// NewTransactionRelay wires the relay to its collaborators
func NewTransactionRelay(connections *ConnectionRegistry, store TransactionStore, signer WalletSigner, risk *RiskPolicy, cfg RelayConfig) *TransactionRelay {
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = DefaultRequestExpiry
	}
	if cfg.MaxExpiry <= 0 {
		cfg.MaxExpiry = DefaultMaxRequestExpiry
	}
	if cfg.SignTimeout <= 0 {
		cfg.SignTimeout = DefaultSignTimeout
	}
	return &TransactionRelay{
		connections:   connections,
		store:         store,
		signer:        signer,
		risk:          risk,
		defaultExpiry: cfg.DefaultExpiry,
		maxExpiry:     cfg.MaxExpiry,
		signTimeout:   cfg.SignTimeout,
		now:           time.Now,
	}
}

// WithClock replaces the relay's time source. Intended for tests.
func (tr *TransactionRelay) WithClock(now func() time.Time) *TransactionRelay {
	tr.now = now
	return tr
}

// SignatureRequestInput is a DApp's request for a signature
type SignatureRequestInput struct {
	ConnectionKey string
	RequestType   string
	RequestData   json.RawMessage
	OriginHost    string        // Host from the Origin or Referer header
	ExpiresIn     time.Duration // Zero selects the default
	Gasless       bool
}

// TransactionView is a transaction as reported to callers, with lazy expiry applied
type TransactionView struct {
	*models.Transaction
	EffectiveStatus string
}

// View wraps tx with its status as of now
func View(tx *models.Transaction, now time.Time) *TransactionView {
	status := string(tx.Status)
	if tx.Status == models.TransactionStatusPending && tx.IsExpired(now) {
		status = ExpiredStatus
	}
	return &TransactionView{Transaction: tx, EffectiveStatus: status}
}

// view is View plus lazy expiry of abandoned signing claims
func (tr *TransactionRelay) view(tx *models.Transaction, now time.Time) *TransactionView {
	v := View(tx, now)
	if tr.claimStale(tx, now) && tx.IsExpired(now) {
		v.EffectiveStatus = ExpiredStatus
	}
	return v
}

// claimStale reports whether tx sits in signing longer than a signer call and the
// write after it can take, meaning whoever claimed it is gone.
func (tr *TransactionRelay) claimStale(tx *models.Transaction, now time.Time) bool {
	return tx.Status == models.TransactionStatusSigning && now.Sub(tx.UpdatedAt) > tr.signTimeout+rollbackTimeout
}

// CreateSignatureRequest records a DApp's signing request and, when the connection's
// auto-sign grant allows it, signs it immediately. A failed auto-sign leaves the
// request pending for manual approval.
func (tr *TransactionRelay) CreateSignatureRequest(ctx context.Context, in SignatureRequestInput) (*TransactionView, error) {
	conn, err := tr.connections.GetByKey(ctx, in.ConnectionKey)
	if err != nil {
		return nil, err
	}
	if err := ValidateOrigin(in.OriginHost, conn); err != nil {
		return nil, err
	}
	if !conn.Permissions.RequestSignature {
		return nil, authorizationError("connection is not permitted to request signatures")
	}

	if in.RequestType == "" {
		return nil, validationError("requestType is required")
	}
	req, err := ParseRequest(in.RequestType, in.RequestData)
	if err != nil {
		return nil, err
	}
	expiresIn := in.ExpiresIn
	switch {
	case expiresIn == 0:
		expiresIn = tr.defaultExpiry
	case expiresIn < 0:
		return nil, validationError("expiresIn must be positive")
	case expiresIn > tr.maxExpiry:
		return nil, validationError("expiresIn must not exceed %s", tr.maxExpiry)
	}

	risk := tr.risk.Assess(req)
	eligible := CanAutoApprove(conn.Permissions, req, risk)

	txID, err := auth.GenerateOpaqueID(auth.TransactionIDPrefix, transactionIDBytes)
	if err != nil {
		return nil, internalError("failed to generate transaction id", err)
	}
	now := tr.now()
	tx := &models.Transaction{
		ID:            uuid.New().String(),
		TransactionID: txID,
		ConnectionID:  conn.ID,
		UserID:        conn.UserID,
		WalletID:      conn.WalletID,
		RequestType:   string(req.Type()),
		RequestData:   in.RequestData,
		HumanReadable: DescribeRequest(req),
		Risk:          risk,
		Gasless:       in.Gasless && conn.Permissions.UseGasless,
		Status:        models.TransactionStatusPending,
		RequestedAt:   now,
		ExpiresAt:     now.Add(expiresIn),
		UpdatedAt:     now,
	}
	if err := tr.store.Create(ctx, tx); err != nil {
		return nil, internalError("failed to create transaction", err)
	}
	telemetry.SignatureRequestsTotal.WithLabelValues(tx.RequestType).Inc()

	if eligible {
		if err := tr.sign(ctx, tx, true); err != nil {
			if !IsKind(err, KindUpstreamSigner) {
				return nil, err
			}
			slog.Warn("auto-approval failed, request left pending",
				"transaction_id", tx.TransactionID, "error", err)
		} else {
			telemetry.AutoApprovalsTotal.WithLabelValues(tx.RequestType).Inc()
		}
	}

	return tr.view(tx, tr.now()), nil
}

// GetStatus returns a transaction to the DApp that requested it
func (tr *TransactionRelay) GetStatus(ctx context.Context, transactionID, originHost string) (*TransactionView, error) {
	tx, _, err := tr.loadForDApp(ctx, transactionID, originHost)
	if err != nil {
		return nil, err
	}
	return tr.view(tx, tr.now()), nil
}

// Get returns a transaction to its owner
func (tr *TransactionRelay) Get(ctx context.Context, transactionID, userID string) (*TransactionView, error) {
	tx, err := tr.loadOwned(ctx, transactionID, userID)
	if err != nil {
		return nil, err
	}
	return tr.view(tx, tr.now()), nil
}

// List returns a page of the owner's transactions and the total match count
func (tr *TransactionRelay) List(ctx context.Context, filter models.TransactionFilter) ([]*TransactionView, int, error) {
	if filter.UserID == "" {
		return nil, 0, validationError("user id is required")
	}
	txs, total, err := tr.store.List(ctx, filter)
	if err != nil {
		return nil, 0, internalError("failed to list transactions", err)
	}
	now := tr.now()
	views := make([]*TransactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, tr.view(tx, now))
	}
	return views, total, nil
}

// Approve signs a pending request on behalf of its owner. A request stranded in
// signing by a lost claim holder is taken over and signed again under the same
// idempotency key.
func (tr *TransactionRelay) Approve(ctx context.Context, transactionID, userID string) (*TransactionView, error) {
	tx, reclaimed, err := tr.loadResolvable(ctx, transactionID, userID, "approve")
	if err != nil {
		return nil, err
	}
	if reclaimed {
		err = tr.signClaimed(ctx, tx, false)
	} else {
		err = tr.sign(ctx, tx, false)
	}
	if err != nil {
		return nil, err
	}
	return tr.view(tx, tr.now()), nil
}

// Reject declines a pending request, or one stranded in signing, on behalf of its owner
func (tr *TransactionRelay) Reject(ctx context.Context, transactionID, userID, reason string) (*TransactionView, error) {
	tx, _, err := tr.loadResolvable(ctx, transactionID, userID, "reject")
	if err != nil {
		return nil, err
	}

	reason = truncate(strings.TrimSpace(reason), MaxReasonLength)
	if reason == "" {
		reason = "Rejected by user"
	}
	now := tr.now()
	upd := models.TransactionUpdate{RejectionReason: &reason, RespondedAt: &now}
	if err := tr.transition(ctx, tx, models.TransactionStatusRejected, upd, "reject"); err != nil {
		return nil, err
	}
	return tr.view(tx, now), nil
}

// Complete records the on-chain result of an approved transaction, as reported by the DApp
func (tr *TransactionRelay) Complete(ctx context.Context, transactionID, originHost, txHash string, blockNumber *int64) (*TransactionView, error) {
	if !txHashPattern.MatchString(txHash) {
		return nil, validationError("txHash must be a 0x-prefixed 32-byte hex string")
	}
	if blockNumber != nil && *blockNumber < 0 {
		return nil, validationError("blockNumber must not be negative")
	}
	tx, _, err := tr.loadForDApp(ctx, transactionID, originHost)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TransactionStatusApproved {
		return nil, stateConflictError("complete transaction", string(tx.Status))
	}

	now := tr.now()
	hash := strings.ToLower(txHash)
	upd := models.TransactionUpdate{TxHash: &hash, BlockNumber: blockNumber, CompletedAt: &now}
	if err := tr.transition(ctx, tx, models.TransactionStatusCompleted, upd, "complete transaction"); err != nil {
		return nil, err
	}
	return tr.view(tx, now), nil
}

// Fail records that an approved transaction could not be broadcast or was reverted
func (tr *TransactionRelay) Fail(ctx context.Context, transactionID, originHost, message string) (*TransactionView, error) {
	message = truncate(strings.TrimSpace(message), MaxReasonLength)
	if message == "" {
		return nil, validationError("error message is required")
	}
	tx, _, err := tr.loadForDApp(ctx, transactionID, originHost)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TransactionStatusApproved {
		return nil, stateConflictError("fail transaction", string(tx.Status))
	}

	now := tr.now()
	upd := models.TransactionUpdate{ErrorMessage: &message, CompletedAt: &now}
	if err := tr.transition(ctx, tx, models.TransactionStatusFailed, upd, "fail transaction"); err != nil {
		return nil, err
	}
	return tr.view(tx, now), nil
}

// sign claims tx for signing, calls the wallet signer and records the signature.
// On signer failure the claim is released so the request can be retried.
func (tr *TransactionRelay) sign(ctx context.Context, tx *models.Transaction, auto bool) error {
	action := "approve"
	if auto {
		action = "auto-approve"
	}
	if err := tr.transition(ctx, tx, models.TransactionStatusSigning, models.TransactionUpdate{}, action); err != nil {
		return err
	}
	return tr.signClaimed(ctx, tx, auto)
}

// signClaimed runs the signer for a request this caller holds the signing claim on
func (tr *TransactionRelay) signClaimed(ctx context.Context, tx *models.Transaction, auto bool) error {
	signCtx, cancel := context.WithTimeout(ctx, tr.signTimeout)
	start := time.Now()
	signature, err := tr.signer.Sign(signCtx, SignRequest{
		IdempotencyKey: tx.TransactionID,
		WalletID:       tx.WalletID,
		RequestType:    tx.RequestType,
		Payload:        tx.RequestData,
		Gasless:        tx.Gasless,
	})
	cancel()
	telemetry.SignerCallDuration.Observe(time.Since(start).Seconds())

	if err == nil && signature == "" {
		err = errors.New("signer returned an empty signature")
	}
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		telemetry.SignerErrorsTotal.WithLabelValues(reason).Inc()

		rbCtx, rbCancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer rbCancel()
		if rbErr := tr.transition(rbCtx, tx, models.TransactionStatusPending, models.TransactionUpdate{}, "release signing claim"); rbErr != nil {
			slog.Error("failed to release signing claim",
				"transaction_id", tx.TransactionID, "error", rbErr)
		}
		return upstreamSignerError(err)
	}

	now := tr.now()
	upd := models.TransactionUpdate{Signature: &signature, AutoApproved: &auto, RespondedAt: &now}
	// A failed write leaves the claim to go stale. Approve then re-signs under the same
	// idempotency key and gets the same signature back.
	persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer persistCancel()
	return tr.transition(persistCtx, tx, models.TransactionStatusApproved, upd, "record signature")
}

// transition is the single mutation point of the signing-request state machine.
// On success tx reflects the new state.
func (tr *TransactionRelay) transition(ctx context.Context, tx *models.Transaction, to models.TransactionStatus, upd models.TransactionUpdate, action string) error {
	from := tx.Status
	if !CanTransition(from, to) {
		return stateConflictError(action, string(from))
	}

	ok, err := tr.store.TransitionStatus(ctx, tx.TransactionID, from, to, upd)
	if err != nil {
		return internalError("failed to update transaction", err)
	}
	if !ok {
		current, err := tr.store.GetByTransactionID(ctx, tx.TransactionID)
		if err != nil || current == nil {
			return stateConflictError(action, "unknown")
		}
		*tx = *current
		return stateConflictError(action, string(current.Status))
	}

	telemetry.TransactionTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	applyUpdate(tx, to, upd, tr.now())
	return nil
}

func applyUpdate(tx *models.Transaction, status models.TransactionStatus, upd models.TransactionUpdate, now time.Time) {
	tx.Status = status
	tx.UpdatedAt = now
	if upd.Signature != nil {
		tx.Signature = upd.Signature
	}
	if upd.ErrorMessage != nil {
		tx.ErrorMessage = upd.ErrorMessage
	}
	if upd.RejectionReason != nil {
		tx.RejectionReason = upd.RejectionReason
	}
	if upd.AutoApproved != nil {
		tx.AutoApproved = *upd.AutoApproved
	}
	if upd.TxHash != nil {
		tx.TxHash = upd.TxHash
	}
	if upd.BlockNumber != nil {
		tx.BlockNumber = upd.BlockNumber
	}
	if upd.RespondedAt != nil {
		tx.RespondedAt = upd.RespondedAt
	}
	if upd.CompletedAt != nil {
		tx.CompletedAt = upd.CompletedAt
	}
}

func (tr *TransactionRelay) load(ctx context.Context, transactionID string) (*models.Transaction, error) {
	if transactionID == "" {
		return nil, validationError("transaction id is required")
	}
	tx, err := tr.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, internalError("failed to get transaction", err)
	}
	if tx == nil {
		return nil, notFoundError("transaction")
	}
	return tx, nil
}

func (tr *TransactionRelay) loadOwned(ctx context.Context, transactionID, userID string) (*models.Transaction, error) {
	tx, err := tr.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, authorizationError("transaction belongs to another user")
	}
	return tx, nil
}

// loadResolvable loads an owned request the owner may still approve or reject: a
// pending one, or a stale signing one whose claim it then takes over. reclaimed
// reports the latter; tx is then held in signing by this caller.
func (tr *TransactionRelay) loadResolvable(ctx context.Context, transactionID, userID, action string) (tx *models.Transaction, reclaimed bool, err error) {
	tx, err = tr.loadOwned(ctx, transactionID, userID)
	if err != nil {
		return nil, false, err
	}
	now := tr.now()
	stale := tr.claimStale(tx, now)
	if tx.Status != models.TransactionStatusPending && !stale {
		return nil, false, stateConflictError(action, string(tx.Status))
	}
	if tx.IsExpired(now) {
		return nil, false, expiredError("transaction")
	}
	if stale {
		if err := tr.reclaim(ctx, tx, now, action); err != nil {
			return nil, false, err
		}
	}
	return tx, stale, nil
}

// reclaim takes over a stale signing claim. Only one concurrent caller wins.
func (tr *TransactionRelay) reclaim(ctx context.Context, tx *models.Transaction, now time.Time, action string) error {
	staleBefore := now.Add(-(tr.signTimeout + rollbackTimeout))
	ok, err := tr.store.ReclaimSigning(ctx, tx.TransactionID, staleBefore, now)
	if err != nil {
		return internalError("failed to update transaction", err)
	}
	if !ok {
		current, err := tr.store.GetByTransactionID(ctx, tx.TransactionID)
		if err != nil || current == nil {
			return stateConflictError(action, "unknown")
		}
		*tx = *current
		return stateConflictError(action, string(current.Status))
	}

	telemetry.TransactionTransitionsTotal.WithLabelValues(string(tx.Status), string(tx.Status)).Inc()
	slog.Warn("took over stale signing claim", "transaction_id", tx.TransactionID, "claimed_at", tx.UpdatedAt)
	tx.UpdatedAt = now
	return nil
}

// loadForDApp loads a transaction and checks that originHost belongs to the DApp of
// the connection it was requested through. Revoked connections still report status.
func (tr *TransactionRelay) loadForDApp(ctx context.Context, transactionID, originHost string) (*models.Transaction, *models.Connection, error) {
	tx, err := tr.load(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	conn, err := tr.connections.store.GetByID(ctx, tx.ConnectionID)
	if err != nil {
		return nil, nil, internalError("failed to get connection", err)
	}
	if conn == nil {
		return nil, nil, notFoundError("transaction")
	}
	if err := ValidateOrigin(originHost, conn); err != nil {
		return nil, nil, err
	}
	return tx, conn, nil
}
