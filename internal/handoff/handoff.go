// Package handoff turns a latched kiosk session into a confirmed backend
// transaction, records it in the audit trail and opens the locker.
package handoff

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/andresmejia3/warden/internal/backend"
	"github.com/andresmejia3/warden/internal/pipeline"
	"github.com/andresmejia3/warden/internal/session"
	"github.com/andresmejia3/warden/internal/store"
)

type Backend interface {
	FetchTransaction(ctx context.Context, code string) (*backend.Transaction, error)
	ConfirmTransaction(ctx context.Context, tx *backend.Transaction, verifiedBy string) (*backend.Confirmation, error)
}

// Auditor persists verification attempts. *store.Store implements it.
type Auditor interface {
	InsertVerification(ctx context.Context, v store.Verification) error
}

// Releaser opens the equipment locker. *locker.Relay implements it.
type Releaser interface {
	Release(ctx context.Context) error
}

// Signer produces the verifiedBy label. *auth.Session implements it.
type Signer interface {
	VerifiedBy(kiosk string) string
}

type Handoff struct {
	backend Backend
	audit   Auditor
	locker  Releaser
	signer  Signer
	kiosk   string
	log     *slog.Logger
}

// New builds a Handoff. audit and locker may be nil.
func New(b Backend, signer Signer, kiosk string, audit Auditor, locker Releaser, log *slog.Logger) *Handoff {
	if log == nil {
		log = slog.Default()
	}
	return &Handoff{backend: b, audit: audit, locker: locker, signer: signer, kiosk: kiosk, log: log}
}

var _ pipeline.TransactionProcessor = (*Handoff)(nil)

// Process looks up the scanned code and confirms it. The confirm call is made at most once.
func (h *Handoff) Process(ctx context.Context, req pipeline.TransactionRequest) (*session.Outcome, error) {
	ctx = backend.WithRequestID(ctx, req.SessionID.String())
	verifiedBy := h.signer.VerifiedBy(h.kiosk)
	log := h.log.With("session", req.SessionID, "code", req.Code, "identity", req.Name)

	rec := store.Verification{
		ID:           req.SessionID,
		Code:         req.Code,
		IdentityName: req.Name,
		VerifiedBy:   verifiedBy,
	}

	tx, err := h.backend.FetchTransaction(ctx, req.Code)
	if err != nil {
		log.Warn("transaction lookup failed", "error", err)
		h.record(ctx, rec, err)
		return nil, reason(err)
	}
	rec.TransactionID = tx.ID

	conf, err := h.backend.ConfirmTransaction(ctx, tx, verifiedBy)
	if err != nil {
		log.Warn("transaction confirm failed", "transaction", tx.ID, "status", tx.EffectiveStatus(), "error", err)
		h.record(ctx, rec, err)
		return nil, reason(err)
	}
	rec.Direction = conf.Direction.String()
	h.record(ctx, rec, nil)
	log.Info("transaction confirmed", "transaction", tx.ID, "direction", rec.Direction)

	if h.locker != nil {
		if err := h.locker.Release(ctx); err != nil {
			log.Error("locker release failed", "error", err)
		}
	}

	return &session.Outcome{
		TransactionID: tx.ID,
		Direction:     conf.Direction.String(),
		Borrower:      tx.Borrower.Name,
		Items:         tx.ItemNames(),
	}, nil
}

// record writes the audit row on a context detached from the transaction deadline.
func (h *Handoff) record(ctx context.Context, v store.Verification, cause error) {
	if h.audit == nil {
		return
	}
	v.Outcome = store.OutcomeConfirmed
	if cause != nil {
		v.Outcome = store.OutcomeFailed
		v.Detail = cause.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.audit.InsertVerification(actx, v); err != nil {
		h.log.Error("failed to record verification", "session", v.ID, "error", err)
	}
}

// Failure is a backend error carrying the short text shown on the reset screen.
type Failure struct {
	Reason string
	Err    error
}

func (f *Failure) Error() string { return f.Reason }

func (f *Failure) Unwrap() error { return f.Err }

func reason(err error) error {
	var msg string
	switch {
	case errors.Is(err, backend.ErrTransactionNotFound):
		msg = "no transaction for this QR code"
	case errors.Is(err, backend.ErrUnroutableStatus):
		msg = "transaction is not ready for handoff"
	case errors.Is(err, backend.ErrBackendRejected):
		msg = "request rejected by server"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, backend.ErrBackendUnreachable):
		msg = "server unreachable"
	default:
		return err
	}
	return &Failure{Reason: msg, Err: err}
}
