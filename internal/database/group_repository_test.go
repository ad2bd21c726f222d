package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

var groupColumns = []string{
	"id", "status", "match_score", "property_id", "ai_attempts", "failure_reason", "ai_result",
	"processing_started_at", "created_at", "updated_at",
}

func TestGroupRepository_AcquireLease(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewGroupRepository(db)

	now := time.Now()
	mock.ExpectQuery("UPDATE listing_groups SET status = 'processing_ai'").
		WithArgs("group-1", pq.Array([]string{"pending_ai"})).
		WillReturnRows(sqlmock.NewRows(groupColumns).
			AddRow("group-1", "processing_ai", 91.5, nil, 0, nil, nil, now, now, now))

	g, err := repo.AcquireLease(context.Background(), "group-1", false)
	if err != nil {
		t.Fatalf("AcquireLease() error = %v", err)
	}
	if g.Status != domain.GroupStatusProcessingAI {
		t.Errorf("status = %s", g.Status)
	}

	expectationsMet(t, mock)
}

func TestGroupRepository_AcquireLease_AlreadyProcessing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewGroupRepository(db)

	mock.ExpectQuery("UPDATE listing_groups SET status = 'processing_ai'").
		WithArgs("group-1", pq.Array([]string{"pending_ai", "completed"})).
		WillReturnRows(sqlmock.NewRows(groupColumns))

	_, err := repo.AcquireLease(context.Background(), "group-1", true)
	if !errors.Is(err, database.ErrLeaseNotAcquired) {
		t.Fatalf("AcquireLease() error = %v, want ErrLeaseNotAcquired", err)
	}

	expectationsMet(t, mock)
}

func TestGroupRepository_Release(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewGroupRepository(db)

	reason := "rate limited"
	mock.ExpectExec("UPDATE listing_groups SET").
		WithArgs("group-1", domain.GroupStatusPendingAI, &reason, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Release(context.Background(), database.ReleaseParams{
		ID:           "group-1",
		To:           domain.GroupStatusPendingAI,
		Reason:       reason,
		CountAttempt: true,
	})
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestGroupRepository_Release_RejectsCompleted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewGroupRepository(db)

	err := repo.Release(context.Background(), database.ReleaseParams{ID: "group-1", To: domain.GroupStatusRejected})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Release() error = %v, want ErrInvalidTransition", err)
	}

	expectationsMet(t, mock)
}
