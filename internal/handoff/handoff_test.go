package handoff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/warden/internal/backend"
	"github.com/andresmejia3/warden/internal/pipeline"
	"github.com/andresmejia3/warden/internal/session"
	"github.com/andresmejia3/warden/internal/store"
)

type fakeBackend struct {
	tx         *backend.Transaction
	fetchErr   error
	conf       *backend.Confirmation
	confirmErr error

	confirms   int
	verifiedBy string
}

func (f *fakeBackend) FetchTransaction(ctx context.Context, code string) (*backend.Transaction, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	tx := *f.tx
	tx.Code = code
	return &tx, nil
}

func (f *fakeBackend) ConfirmTransaction(ctx context.Context, tx *backend.Transaction, verifiedBy string) (*backend.Confirmation, error) {
	f.confirms++
	f.verifiedBy = verifiedBy
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return f.conf, nil
}

type fakeAudit struct {
	mu   sync.Mutex
	rows []store.Verification
	err  error
}

func (f *fakeAudit) InsertVerification(ctx context.Context, v store.Verification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, v)
	return f.err
}

type fakeLocker struct {
	releases int
	err      error
}

func (f *fakeLocker) Release(ctx context.Context) error {
	f.releases++
	return f.err
}

type signer string

func (s signer) VerifiedBy(kiosk string) string { return "Kiosk-" + kiosk + string(s) }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func reservedTx() *backend.Transaction {
	return &backend.Transaction{
		ID:       "42",
		Status:   "Disetujui",
		Borrower: backend.Borrower{Name: "Alice", StudentID: "1301"},
		Items:    []backend.Item{{Name: "Oscilloscope"}, {Name: "Probe"}},
	}
}

func TestHandoff_Success(t *testing.T) {
	be := &fakeBackend{tx: reservedTx(), conf: &backend.Confirmation{TransactionID: "42", Direction: backend.CheckOut}}
	audit := &fakeAudit{}
	lock := &fakeLocker{}
	h := New(be, signer(""), "lab", audit, lock, quiet())

	id := uuid.New()
	out, err := h.Process(context.Background(), pipeline.TransactionRequest{SessionID: id, Code: "ABC123", Name: "alice"})
	require.NoError(t, err)

	assert.Equal(t, &session.Outcome{
		TransactionID: "42",
		Direction:     "Check-out",
		Borrower:      "Alice",
		Items:         []string{"Oscilloscope", "Probe"},
	}, out)
	assert.Equal(t, 1, be.confirms)
	assert.Equal(t, "Kiosk-lab", be.verifiedBy)
	assert.Equal(t, 1, lock.releases)

	require.Len(t, audit.rows, 1)
	row := audit.rows[0]
	assert.Equal(t, id, row.ID)
	assert.Equal(t, store.OutcomeConfirmed, row.Outcome)
	assert.Equal(t, "42", row.TransactionID)
	assert.Equal(t, "Check-out", row.Direction)
	assert.Equal(t, "alice", row.IdentityName)
}

func TestHandoff_Failures(t *testing.T) {
	tests := []struct {
		name        string
		be          *fakeBackend
		wantReason  string
		wantIs      error
		wantConfirm int
	}{
		{
			name:       "unknown code",
			be:         &fakeBackend{fetchErr: fmt.Errorf("%w: ABC123", backend.ErrTransactionNotFound)},
			wantReason: "no transaction for this QR code",
			wantIs:     backend.ErrTransactionNotFound,
		},
		{
			name:       "server down",
			be:         &fakeBackend{fetchErr: fmt.Errorf("%w: dial tcp", backend.ErrBackendUnreachable)},
			wantReason: "server unreachable",
			wantIs:     backend.ErrBackendUnreachable,
		},
		{
			name:        "status outside both vocabularies",
			be:          &fakeBackend{tx: reservedTx(), confirmErr: fmt.Errorf("%w: \"Ditolak\"", backend.ErrUnroutableStatus)},
			wantReason:  "transaction is not ready for handoff",
			wantIs:      backend.ErrUnroutableStatus,
			wantConfirm: 1,
		},
		{
			name: "confirm rejected",
			be: &fakeBackend{tx: reservedTx(), confirmErr: &backend.APIError{
				Kind: backend.ErrBackendRejected, StatusCode: 403, Message: "forbidden",
			}},
			wantReason:  "request rejected by server",
			wantIs:      backend.ErrBackendRejected,
			wantConfirm: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := &fakeAudit{}
			lock := &fakeLocker{}
			h := New(tt.be, signer(""), "lab", audit, lock, quiet())

			out, err := h.Process(context.Background(), pipeline.TransactionRequest{SessionID: uuid.New(), Code: "ABC123"})
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Equal(t, tt.wantReason, err.Error())
			assert.ErrorIs(t, err, tt.wantIs)
			assert.Equal(t, tt.wantConfirm, tt.be.confirms)
			assert.Zero(t, lock.releases)

			require.Len(t, audit.rows, 1)
			assert.Equal(t, store.OutcomeFailed, audit.rows[0].Outcome)
			assert.NotEmpty(t, audit.rows[0].Detail)
		})
	}
}

func TestHandoff_AuditAndLockerFailuresDoNotFailTheTransaction(t *testing.T) {
	be := &fakeBackend{tx: reservedTx(), conf: &backend.Confirmation{TransactionID: "42", Direction: backend.CheckIn}}
	h := New(be, signer(""), "lab", &fakeAudit{err: errors.New("db down")}, &fakeLocker{err: errors.New("no port")}, quiet())

	out, err := h.Process(context.Background(), pipeline.TransactionRequest{SessionID: uuid.New(), Code: "ABC123"})
	require.NoError(t, err)
	assert.Equal(t, "Check-in", out.Direction)
}

func TestHandoff_NoOptionalCollaborators(t *testing.T) {
	be := &fakeBackend{tx: reservedTx(), conf: &backend.Confirmation{TransactionID: "42", Direction: backend.CheckOut}}
	h := New(be, signer(""), "lab", nil, nil, nil)

	_, err := h.Process(context.Background(), pipeline.TransactionRequest{SessionID: uuid.New(), Code: "ABC123"})
	assert.NoError(t, err)
}
