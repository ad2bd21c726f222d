// Package unification turns a listing group into one canonical Property using the reasoning
// service, and re-analyzes existing properties when their listings change.
package unification

//go:generate mockgen -destination=mocks_test.go -package=unification_test . Reasoner,Geocoder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/geocode"
	"github.com/jonesrussell/north-cloud/listings/internal/reasoning"
)

const tracerName = "github.com/jonesrussell/north-cloud/listings/unification"

// Outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeRequeued  = "requeued"
	OutcomeReview    = "review"
	OutcomeFailed    = "failed"
)

// ErrEmptyGroup is returned when a group has no member listings.
var ErrEmptyGroup = errors.New("listing group has no listings")

// GroupStore leases and releases listing groups.
type GroupStore interface {
	AcquireLease(ctx context.Context, id string, reanalysis bool) (*domain.ListingGroup, error)
	Release(ctx context.Context, p database.ReleaseParams) error
	CreateForProperty(ctx context.Context, propertyID string, listingIDs []string) (*domain.ListingGroup, error)
}

// ListingReader loads group and property members.
type ListingReader interface {
	ListByGroup(ctx context.Context, groupID string) ([]*domain.Listing, error)
	ListByProperty(ctx context.Context, propertyID string) ([]*domain.Listing, error)
}

// PropertyReader loads properties.
type PropertyReader interface {
	GetByID(ctx context.Context, id string) (*domain.Property, error)
}

// Committer writes a unification result atomically.
type Committer interface {
	Commit(ctx context.Context, c *database.UnificationCommit) (*database.CommitResult, error)
}

// Reasoner is the external reasoning service.
type Reasoner interface {
	Unify(ctx context.Context, req reasoning.Request) (*reasoning.Result, error)
}

// Geocoder resolves an address to coordinates. A nil point means no match.
type Geocoder interface {
	Geocode(ctx context.Context, address, city, state string) (*geocode.Point, error)
}

// Indexer publishes committed properties to the read model.
type Indexer interface {
	IndexProperty(ctx context.Context, p *domain.Property) error
}

// Observer receives one call per unification attempt.
type Observer interface {
	ObserveUnification(mode domain.UnificationMode, outcome string, elapsed time.Duration)
	ObserveIndexFailure()
}

// Deps are the Engine's collaborators. Geocoder, Indexer and Observer are optional.
type Deps struct {
	Groups     GroupStore
	Listings   ListingReader
	Properties PropertyReader
	Committer  Committer
	Reasoner   Reasoner
	Geocoder   Geocoder
	Indexer    Indexer
	Observer   Observer
}

// Engine runs unification for one group at a time. The group's processing_ai status is the
// lease: it is acquired before any work and released on every failure path.
type Engine struct {
	groups     GroupStore
	listings   ListingReader
	properties PropertyReader
	committer  Committer
	reasoner   Reasoner
	geocoder   Geocoder
	indexer    Indexer
	observer   Observer
	tracer     trace.Tracer
	log        infralogger.Logger
	now        func() time.Time
}

// New creates a unification engine.
func New(deps Deps, log infralogger.Logger) *Engine {
	return &Engine{
		groups:     deps.Groups,
		listings:   deps.Listings,
		properties: deps.Properties,
		committer:  deps.Committer,
		reasoner:   deps.Reasoner,
		geocoder:   deps.Geocoder,
		indexer:    deps.Indexer,
		observer:   deps.Observer,
		tracer:     otel.Tracer(tracerName),
		log:        log,
		now:        time.Now,
	}
}

// Unify leases a pending group and unifies it. A group that is not pending yields
// database.ErrLeaseNotAcquired. Failures after the lease is taken are recorded on the group
// and not returned; an error is returned only when that record could not be written.
func (e *Engine) Unify(ctx context.Context, groupID string) error {
	group, err := e.groups.AcquireLease(ctx, groupID, false)
	if err != nil {
		return err
	}
	return e.run(ctx, group)
}

// Reanalyze re-enters a property's group into unification so the property is updated in place.
// A property without a group gets a single-property group built from its listings first.
func (e *Engine) Reanalyze(ctx context.Context, propertyID string) error {
	prop, err := e.properties.GetByID(ctx, propertyID)
	if err != nil {
		return err
	}

	groupID := ""
	if prop.ListingGroupID != nil {
		groupID = *prop.ListingGroupID
	} else {
		members, listErr := e.listings.ListByProperty(ctx, prop.ID)
		if listErr != nil {
			return listErr
		}
		if len(members) == 0 {
			e.log.Warn("Property has no listings, skipping re-analysis", infralogger.String("property_id", prop.ID))
			return nil
		}
		group, createErr := e.groups.CreateForProperty(ctx, prop.ID, listingIDs(members))
		if createErr != nil {
			return createErr
		}
		groupID = group.ID
		e.log.Info("Created group for re-analysis",
			infralogger.String("property_id", prop.ID),
			infralogger.GroupID(groupID),
			infralogger.Int("listings", len(members)),
		)
	}

	group, err := e.groups.AcquireLease(ctx, groupID, true)
	if err != nil {
		return err
	}
	return e.run(ctx, group)
}

func (e *Engine) run(ctx context.Context, group *domain.ListingGroup) error {
	start := e.now()

	ctx, span := e.tracer.Start(ctx, "unification.run", trace.WithAttributes(
		attribute.String("group_id", group.ID),
	))
	defer span.End()

	members, err := e.listings.ListByGroup(ctx, group.ID)
	if err == nil && len(members) == 0 {
		err = failure.Wrap(failure.KindInvalidData, fmt.Errorf("group %s: %w", group.ID, ErrEmptyGroup))
	}
	if err != nil {
		return e.fail(ctx, span, group, domain.UnificationModeEnrichment, err, start)
	}

	mode := ModeFor(members)
	span.SetAttributes(attribute.String("mode", string(mode)), attribute.Int("listings", len(members)))

	result, err := e.reasoner.Unify(ctx, BuildRequest(group, members, mode))
	if err != nil {
		return e.fail(ctx, span, group, mode, err, start)
	}

	commit := e.buildCommit(group, members, mode, result)
	commit.Property.AIUnification.GeocodeSource = e.resolveLocation(ctx, group, &commit.Property.Location, result, members)

	committed, err := e.committer.Commit(ctx, commit)
	if errors.Is(err, database.ErrLeaseLost) {
		e.log.Warn("Unification lease released during processing, result discarded",
			infralogger.GroupID(group.ID),
			infralogger.Error(err),
		)
		span.SetStatus(codes.Error, "lease lost")
		return err
	}
	if err != nil {
		return e.fail(ctx, span, group, mode, err, start)
	}

	e.observe(mode, OutcomeCompleted, start)
	e.log.Info("Group unified",
		infralogger.GroupID(group.ID),
		infralogger.String("property_id", committed.Property.ID),
		infralogger.Bool("created", committed.Created),
		infralogger.String("mode", string(mode)),
		infralogger.Int("listings", len(members)),
		infralogger.Int("quality_score", result.QualityScore),
		infralogger.Int("discrepancies", len(result.Discrepancies)),
		infralogger.String("geocode_source", commit.Property.AIUnification.GeocodeSource),
	)

	e.index(ctx, committed.Property)
	return nil
}

// fail releases the lease according to the retry policy of the error's kind. Rate-limited
// groups go back to pending_ai until their attempts run out; everything else is sent to review.
func (e *Engine) fail(
	ctx context.Context, span trace.Span, group *domain.ListingGroup, mode domain.UnificationMode, cause error, start time.Time,
) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "unification failed")

	kind := failure.Classify(cause)
	policy := failure.PolicyFor(kind)
	attempts := group.AIAttempts + 1

	to, outcome := domain.GroupStatusPendingReview, OutcomeReview
	if policy.GroupOutcome == failure.GroupRequeue {
		to, outcome = domain.GroupStatusPendingAI, OutcomeRequeued
		if !policy.ShouldRetry(attempts) {
			to, outcome = domain.GroupStatusFailed, OutcomeFailed
		}
	}

	reason := fmt.Sprintf("%s: %v", kind, cause)
	err := e.groups.Release(context.WithoutCancel(ctx), database.ReleaseParams{
		ID:           group.ID,
		To:           to,
		Reason:       reason,
		CountAttempt: true,
	})
	if err != nil {
		return fmt.Errorf("failed to record unification failure (%s): %w", reason, err)
	}

	e.observe(mode, outcome, start)
	e.log.Warn("Unification failed",
		infralogger.GroupID(group.ID),
		infralogger.String("kind", string(kind)),
		infralogger.String("status", string(to)),
		infralogger.Int("ai_attempts", attempts),
		infralogger.Error(cause),
	)
	return nil
}

func (e *Engine) index(ctx context.Context, p *domain.Property) {
	if e.indexer == nil {
		return
	}
	if err := e.indexer.IndexProperty(context.WithoutCancel(ctx), p); err != nil {
		if e.observer != nil {
			e.observer.ObserveIndexFailure()
		}
		e.log.Warn("Failed to index property",
			infralogger.String("property_id", p.ID),
			infralogger.Error(err),
		)
	}
}

func (e *Engine) observe(mode domain.UnificationMode, outcome string, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveUnification(mode, outcome, e.now().Sub(start))
	}
}

// ModeFor returns merge framing for multi-listing groups and enrichment framing otherwise.
func ModeFor(members []*domain.Listing) domain.UnificationMode {
	if len(members) > 1 {
		return domain.UnificationModeMerge
	}
	return domain.UnificationModeEnrichment
}

func listingIDs(members []*domain.Listing) []string {
	ids := make([]string, len(members))
	for i, l := range members {
		ids[i] = l.ID
	}
	return ids
}
