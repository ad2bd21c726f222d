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

func sampleCommit() *database.UnificationCommit {
	return &database.UnificationCommit{
		GroupID: "group-1",
		Property: domain.Property{
			Title:           "Casa con jardín",
			ConfidenceScore: 82,
			AIUnification: domain.UnificationMetadata{
				Model: "claude-sonnet",
				Discrepancies: []domain.Discrepancy{
					{Field: "bedrooms", Values: []string{"3", "4"}, ChosenValue: "3", Resolution: "majority"},
				},
			},
		},
		ListingIDs:       []string{"l1", "l2"},
		PrimaryListingID: "l1",
		Publishers:       []domain.Publisher{{ID: "9", Name: "Agency", Platform: "inmuebles24"}},
		AIResult:         domain.RawJSON(`{"title":"Casa con jardín"}`),
	}
}

func TestUnificationRepository_Commit_CreatesProperty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewUnificationRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, property_id FROM listing_groups WHERE id = (.+) FOR UPDATE").
		WithArgs("group-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "property_id"}).AddRow("processing_ai", nil))
	mock.ExpectQuery("INSERT INTO properties").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("prop-1", now, now))
	mock.ExpectExec("UPDATE listings SET").
		WithArgs("prop-1", "group-1", "l1", pq.Array([]string{"l1", "l2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM property_conflicts WHERE property_id").
		WithArgs("prop-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO property_conflicts").
		WithArgs("prop-1", "bedrooms", "3", "3 | 4", domain.ConflictResolved).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE listing_groups SET").
		WithArgs("group-1", "prop-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := repo.Commit(context.Background(), sampleCommit())
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if !res.Created || res.Property.ID != "prop-1" {
		t.Errorf("Commit() result = %+v", res)
	}
	if len(res.Property.Publishers) != 1 {
		t.Errorf("publishers = %+v", res.Property.Publishers)
	}

	expectationsMet(t, mock)
}

func TestUnificationRepository_Commit_UpdatesLinkedProperty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewUnificationRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, property_id FROM listing_groups").
		WillReturnRows(sqlmock.NewRows([]string{"status", "property_id"}).AddRow("processing_ai", "prop-7"))
	mock.ExpectQuery("SELECT publishers FROM properties WHERE id = (.+) FOR UPDATE").
		WithArgs("prop-7").
		WillReturnRows(sqlmock.NewRows([]string{"publishers"}).
			AddRow([]byte(`[{"id":"1","name":"Owner","platform":"vivanuncios"}]`)))
	mock.ExpectQuery("UPDATE properties SET").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("UPDATE listings SET").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM property_conflicts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO property_conflicts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE listing_groups SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := repo.Commit(context.Background(), sampleCommit())
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if res.Created || res.Property.ID != "prop-7" {
		t.Errorf("Commit() result = %+v", res)
	}
	if len(res.Property.Publishers) != 2 {
		t.Errorf("publishers not merged: %+v", res.Property.Publishers)
	}

	expectationsMet(t, mock)
}

func TestUnificationRepository_Commit_LeaseLost(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewUnificationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, property_id FROM listing_groups").
		WillReturnRows(sqlmock.NewRows([]string{"status", "property_id"}).AddRow("pending_ai", nil))
	mock.ExpectRollback()

	_, err := repo.Commit(context.Background(), sampleCommit())
	if !errors.Is(err, database.ErrLeaseLost) {
		t.Fatalf("Commit() error = %v, want ErrLeaseLost", err)
	}

	expectationsMet(t, mock)
}

func TestUnificationRepository_Commit_RollsBackWhenLinkFails(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewUnificationRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, property_id FROM listing_groups").
		WillReturnRows(sqlmock.NewRows([]string{"status", "property_id"}).AddRow("processing_ai", nil))
	mock.ExpectQuery("INSERT INTO properties").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("prop-1", now, now))
	mock.ExpectExec("UPDATE listings SET").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	if _, err := repo.Commit(context.Background(), sampleCommit()); err == nil {
		t.Fatal("Commit() expected error")
	}

	expectationsMet(t, mock)
}
