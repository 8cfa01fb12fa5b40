package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/warden/internal/auth"
	"github.com/andresmejia3/warden/internal/types"
)

func q(query string) string { return regexp.QuoteMeta(query) }

func newMockStore(t *testing.T) (*Store, pgxmock.PgxConnIface) {
	t.Helper()
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close(context.Background()) })
	return New(mock), mock
}

func TestStore_LoadGallery(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock pgxmock.PgxConnIface)
		want      []types.GalleryEntry
		wantErr   bool
	}{
		{
			name: "two identities",
			mockSetup: func(mock pgxmock.PgxConnIface) {
				alice := pgvector.NewVector([]float32{0.1, 0.2})
				bob := pgvector.NewVector([]float32{0.3, 0.4})
				rows := pgxmock.NewRows([]string{"id", "name", "embedding"}).
					AddRow(1, "alice", &alice).
					AddRow(2, "bob", &bob)
				mock.ExpectQuery(q(queryLoadGallery)).WithArgs("dlib").WillReturnRows(rows)
			},
			want: []types.GalleryEntry{
				{ID: 1, Name: "alice", Embedding: types.Embedding{0.1, 0.2}},
				{ID: 2, Name: "bob", Embedding: types.Embedding{0.3, 0.4}},
			},
		},
		{
			name: "empty gallery",
			mockSetup: func(mock pgxmock.PgxConnIface) {
				mock.ExpectQuery(q(queryLoadGallery)).WithArgs("dlib").
					WillReturnRows(pgxmock.NewRows([]string{"id", "name", "embedding"}))
			},
			want: nil,
		},
		{
			name: "database error",
			mockSetup: func(mock pgxmock.PgxConnIface) {
				mock.ExpectQuery(q(queryLoadGallery)).WithArgs("dlib").
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.mockSetup(mock)

			got, err := s.LoadGallery(context.Background(), "dlib")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "load gallery")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_CreateIdentity(t *testing.T) {
	t.Run("returns new id", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(q(queryCreateIdentity)).
			WithArgs("alice", "dlib", "alice.jpg", pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(7))

		id, err := s.CreateIdentity(context.Background(), "alice", "dlib", "alice.jpg", types.Embedding{0.1, 0.2})
		require.NoError(t, err)
		assert.Equal(t, 7, id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate name", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(q(queryCreateIdentity)).
			WithArgs("alice", "dlib", "alice.jpg", pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

		_, err := s.CreateIdentity(context.Background(), "alice", "dlib", "alice.jpg", types.Embedding{0.1})
		assert.ErrorIs(t, err, ErrIdentityExists)
	})
}

func TestStore_RenameAndDeleteIdentity(t *testing.T) {
	tests := []struct {
		name    string
		run     func(s *Store) error
		setup   func(mock pgxmock.PgxConnIface)
		wantErr error
	}{
		{
			name: "rename existing",
			run:  func(s *Store) error { return s.RenameIdentity(context.Background(), 3, "carol") },
			setup: func(mock pgxmock.PgxConnIface) {
				mock.ExpectExec(q(queryRenameIdentity)).WithArgs("carol", 3).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			name: "rename missing",
			run:  func(s *Store) error { return s.RenameIdentity(context.Background(), 99, "carol") },
			setup: func(mock pgxmock.PgxConnIface) {
				mock.ExpectExec(q(queryRenameIdentity)).WithArgs("carol", 99).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			},
			wantErr: ErrIdentityNotFound,
		},
		{
			name: "delete existing",
			run:  func(s *Store) error { return s.DeleteIdentity(context.Background(), 3) },
			setup: func(mock pgxmock.PgxConnIface) {
				mock.ExpectExec(q(queryDeleteIdentity)).WithArgs(3).
					WillReturnResult(pgxmock.NewResult("DELETE", 1))
			},
		},
		{
			name: "delete missing",
			run:  func(s *Store) error { return s.DeleteIdentity(context.Background(), 4) },
			setup: func(mock pgxmock.PgxConnIface) {
				mock.ExpectExec(q(queryDeleteIdentity)).WithArgs(4).
					WillReturnResult(pgxmock.NewResult("DELETE", 0))
			},
			wantErr: ErrIdentityNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setup(mock)

			err := tt.run(s)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Verifications(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectExec(q(queryInsertVerify)).
		WithArgs(id, "ABC123", "alice", "42", "Check-out", OutcomeConfirmed, "", "Kiosk-lab").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(q(queryListVerify)).WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "code", "identity_name", "transaction_id", "direction", "outcome", "detail", "verified_by", "created_at",
		}).AddRow(id, "ABC123", "alice", "42", "Check-out", OutcomeConfirmed, "", "Kiosk-lab", now))

	err := s.InsertVerification(context.Background(), Verification{
		ID: id, Code: "ABC123", IdentityName: "alice", TransactionID: "42",
		Direction: "Check-out", Outcome: OutcomeConfirmed, VerifiedBy: "Kiosk-lab",
	})
	require.NoError(t, err)

	got, err := s.ListVerifications(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "alice", got[0].IdentityName)
	assert.Equal(t, now, got[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertVerificationAssignsID(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q(queryInsertVerify)).
		WithArgs(pgxmock.AnyArg(), "ABC123", "alice", "", "", OutcomeFailed, "backend unreachable", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.InsertVerification(context.Background(), Verification{
		Code: "ABC123", IdentityName: "alice", Outcome: OutcomeFailed, Detail: "backend unreachable",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_OperatorSession(t *testing.T) {
	signedIn := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	expires := signedIn.Add(8 * time.Hour)

	t.Run("save", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(q(querySaveOperator)).
			WithArgs("operator", "Lab Operator", "tok", "APP01", "ROL23", []string{"borrowing.verify"}, signedIn, &expires).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := s.SaveOperatorSession(context.Background(), auth.Credentials{
			Username: "operator", DisplayName: "Lab Operator", Token: "tok", AppID: "APP01", RoleID: "ROL23",
			Permissions: []string{"borrowing.verify"}, SignedInAt: signedIn, ExpiresAt: expires,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("load", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(q(queryLoadOperator)).
			WillReturnRows(pgxmock.NewRows([]string{
				"username", "display_name", "token", "app_id", "role_id", "permissions", "signed_in_at", "expires_at",
			}).AddRow("operator", "Lab Operator", "tok", "APP01", "ROL23", []string{"borrowing.verify"}, signedIn, &expires))

		c, err := s.LoadOperatorSession(context.Background())
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, "tok", c.Token)
		assert.Equal(t, expires, c.ExpiresAt)
	})

	t.Run("load when nobody is signed in", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(q(queryLoadOperator)).WillReturnError(pgx.ErrNoRows)

		c, err := s.LoadOperatorSession(context.Background())
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("clear", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(q(queryClearOperator)).WillReturnResult(pgxmock.NewResult("DELETE", 1))
		require.NoError(t, s.ClearOperatorSession(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		postgres.WithDatabase("warden_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, connStr)
	require.NoError(t, err, "Open runs migrations")
	defer s.Close(ctx)

	// Enroll and read back
	emb := make(types.Embedding, 128)
	emb[0] = 0.5
	id, err := s.CreateIdentity(ctx, "alice", "dlib", "alice.jpg", emb)
	require.NoError(t, err)

	_, err = s.CreateIdentity(ctx, "alice", "dlib", "alice2.jpg", emb)
	assert.ErrorIs(t, err, ErrIdentityExists)

	gallery, err := s.LoadGallery(ctx, "dlib")
	require.NoError(t, err)
	require.Len(t, gallery, 1)
	assert.Equal(t, "alice", gallery[0].Name)
	assert.InDelta(t, 0.5, gallery[0].Embedding[0], 1e-6)

	require.NoError(t, s.RenameIdentity(ctx, id, "alice cooper"))
	ids, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "alice cooper", ids[0].Name)

	// Audit trail
	require.NoError(t, s.InsertVerification(ctx, Verification{Code: "ABC123", IdentityName: "alice cooper", Outcome: OutcomeConfirmed}))
	hist, err := s.ListVerifications(ctx, 5)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "ABC123", hist[0].Code)

	// Operator session round trip
	creds := auth.Credentials{Username: "operator", Token: "tok", Permissions: []string{"a"}, SignedInAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, s.SaveOperatorSession(ctx, creds))
	loaded, err := s.LoadOperatorSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "tok", loaded.Token)
	assert.True(t, loaded.ExpiresAt.IsZero())
	require.NoError(t, s.ClearOperatorSession(ctx))
	loaded, err = s.LoadOperatorSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Reset drops everything, including the migration ledger
	require.NoError(t, s.Reset(ctx))
	require.NoError(t, Migrate(ctx, connStr))
	gallery, err = s.LoadGallery(ctx, "dlib")
	require.NoError(t, err)
	assert.Empty(t, gallery)
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
