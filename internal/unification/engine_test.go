package unification_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/geocode"
	"github.com/jonesrussell/north-cloud/listings/internal/reasoning"
	"github.com/jonesrussell/north-cloud/listings/internal/unification"
)

// --- Fakes ---

type fakeGroups struct {
	mu       sync.Mutex
	groups   map[string]*domain.ListingGroup
	released []database.ReleaseParams
	created  []string
}

func (f *fakeGroups) AcquireLease(_ context.Context, id string, reanalysis bool) (*domain.ListingGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok || !domain.CanEnterUnification(g.Status, reanalysis) {
		return nil, fmt.Errorf("group %s: %w", id, database.ErrLeaseNotAcquired)
	}
	g.Status = domain.GroupStatusProcessingAI
	cp := *g
	return &cp, nil
}

func (f *fakeGroups) Release(_ context.Context, p database.ReleaseParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.groups[p.ID]
	if g.Status != domain.GroupStatusProcessingAI {
		return database.ErrLeaseLost
	}
	g.Status = p.To
	if p.CountAttempt {
		g.AIAttempts++
	}
	f.released = append(f.released, p)
	return nil
}

func (f *fakeGroups) CreateForProperty(_ context.Context, propertyID string, listingIDs []string) (*domain.ListingGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &domain.ListingGroup{ID: "group-for-" + propertyID, Status: domain.GroupStatusCompleted, PropertyID: &propertyID}
	f.groups[g.ID] = g
	f.created = append(f.created, listingIDs...)
	cp := *g
	return &cp, nil
}

type fakeListings struct {
	byGroup    map[string][]*domain.Listing
	byProperty map[string][]*domain.Listing
}

func (f *fakeListings) ListByGroup(_ context.Context, groupID string) ([]*domain.Listing, error) {
	return f.byGroup[groupID], nil
}

func (f *fakeListings) ListByProperty(_ context.Context, propertyID string) ([]*domain.Listing, error) {
	return f.byProperty[propertyID], nil
}

type fakeProperties struct {
	props map[string]*domain.Property
}

func (f *fakeProperties) GetByID(_ context.Context, id string) (*domain.Property, error) {
	p, ok := f.props[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

type fakeCommitter struct {
	mu      sync.Mutex
	groups  *fakeGroups
	commits []*database.UnificationCommit
	err     error
}

func (f *fakeCommitter) Commit(_ context.Context, c *database.UnificationCommit) (*database.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.commits = append(f.commits, c)

	f.groups.mu.Lock()
	defer f.groups.mu.Unlock()
	g := f.groups.groups[c.GroupID]
	if g.Status != domain.GroupStatusProcessingAI {
		return nil, database.ErrLeaseLost
	}
	g.Status = domain.GroupStatusCompleted

	prop := c.Property
	created := g.PropertyID == nil
	if created {
		prop.ID = "prop-new"
	} else {
		prop.ID = *g.PropertyID
	}
	g.PropertyID = &prop.ID
	return &database.CommitResult{Property: &prop, Created: created}, nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
}

func (f *fakeIndexer) IndexProperty(_ context.Context, p *domain.Property) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, p.ID)
	return nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *outcomeRecorder) ObserveUnification(_ domain.UnificationMode, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *outcomeRecorder) ObserveIndexFailure() {}

// --- Helpers ---

type testEngine struct {
	engine    *unification.Engine
	groups    *fakeGroups
	listings  *fakeListings
	props     *fakeProperties
	committer *fakeCommitter
	indexer   *fakeIndexer
	observer  *outcomeRecorder
	reasoner  *MockReasoner
	geocoder  *MockGeocoder
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	ctrl := gomock.NewController(t)

	groups := &fakeGroups{groups: map[string]*domain.ListingGroup{}}
	te := &testEngine{
		groups:    groups,
		listings:  &fakeListings{byGroup: map[string][]*domain.Listing{}, byProperty: map[string][]*domain.Listing{}},
		props:     &fakeProperties{props: map[string]*domain.Property{}},
		committer: &fakeCommitter{groups: groups},
		indexer:   &fakeIndexer{},
		observer:  &outcomeRecorder{},
		reasoner:  NewMockReasoner(ctrl),
		geocoder:  NewMockGeocoder(ctrl),
	}
	te.engine = unification.New(unification.Deps{
		Groups:     te.groups,
		Listings:   te.listings,
		Properties: te.props,
		Committer:  te.committer,
		Reasoner:   te.reasoner,
		Geocoder:   te.geocoder,
		Indexer:    te.indexer,
		Observer:   te.observer,
	}, infralogger.NewNop())
	return te
}

func (te *testEngine) addGroup(id string, status domain.GroupStatus, members ...*domain.Listing) {
	te.groups.groups[id] = &domain.ListingGroup{ID: id, Status: status, MatchScore: 91}
	te.listings.byGroup[id] = members
}

func ptr[T any](v T) *T { return &v }

func listing(id, platform string, completeness float64) *domain.Listing {
	return &domain.Listing{
		ID:          id,
		DataQuality: domain.QualityReport{Completeness: completeness},
		ScrapedAt:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		ListingRecord: domain.ListingRecord{
			Platform:     platform,
			ExternalID:   "ext-" + id,
			OriginalURL:  "https://" + platform + ".example.com/" + id,
			Title:        "Casa en venta " + id,
			PropertyType: "house",
			Operations:   domain.Operations{{Type: domain.OperationSale, Price: 5200000, Currency: "MXN"}},
			Bedrooms:     ptr(3),
			Location:     domain.Location{City: "Coyoacán", State: "Ciudad de México"},
			Images:       domain.StringList{"https://img.example.com/" + id + ".jpg", "https://img.example.com/shared.jpg"},
			Publisher:    domain.Publisher{ID: "pub-" + id, Name: "Agencia " + id},
		},
	}
}

func result(title string) *reasoning.Result {
	return &reasoning.Result{
		Fields: reasoning.UnifiedFields{
			Title:        title,
			PropertyType: "house",
			Bedrooms:     ptr(3),
			City:         "Coyoacán",
			State:        "Ciudad de México",
			Amenities:    []string{"Jardín", "alberca", "jardín"},
		},
		Description:  "Casa de dos niveles con jardín.",
		QualityScore: 82,
		Model:        "claude-sonnet-4-5",
		InputTokens:  900,
		OutputTokens: 200,
		Raw:          []byte(`{"unified_fields":{"title":"x"}}`),
	}
}

// --- Tests ---

func TestUnify_SingleListingEnrichment(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t)
	l1 := listing("l1", "inmuebles24", 0.8)
	te.addGroup("g1", domain.GroupStatusPendingAI, l1)

	res := result("Casa con jardín")
	res.Fields.Latitude, res.Fields.Longitude = ptr(19.35), ptr(-99.16)

	te.reasoner.EXPECT().
		Unify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req reasoning.Request) (*reasoning.Result, error) {
			assert.Equal(t, domain.UnificationModeEnrichment, req.Mode)
			assert.Equal(t, "g1", req.GroupID)
			assert.Contains(t, req.Prompt, "(id: l1)")
			assert.NotContains(t, req.Prompt, "Listing group")
			return res, nil
		})

	require.NoError(t, te.engine.Unify(context.Background(), "g1"))

	require.Len(t, te.committer.commits, 1)
	commit := te.committer.commits[0]
	assert.Equal(t, "l1", commit.PrimaryListingID)
	assert.Equal(t, []string{"l1"}, commit.ListingIDs)
	assert.Equal(t, "Casa con jardín", commit.Property.Title)
	assert.Equal(t, 82, commit.Property.ConfidenceScore)
	assert.Equal(t, domain.StringList{"alberca", "jardín"}, commit.Property.Amenities)
	assert.Equal(t, l1.Operations, commit.Property.Operations, "listing operations fill an empty result")
	assert.Equal(t, unification.GeocodeSourceResult, commit.Property.AIUnification.GeocodeSource)
	assert.Equal(t, domain.UnificationModeEnrichment, commit.Property.AIUnification.Mode)
	require.Len(t, commit.Publishers, 1)
	assert.Equal(t, "inmuebles24", commit.Publishers[0].Platform)

	assert.Equal(t, domain.GroupStatusCompleted, te.groups.groups["g1"].Status)
	assert.Equal(t, []string{"prop-new"}, te.indexer.indexed)
	assert.Equal(t, []string{unification.OutcomeCompleted}, te.observer.outcomes)
}

func TestUnify_MultiSourceMergeGeocodesAddress(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t)
	l1 := listing("l1", "inmuebles24", 0.6)
	l2 := listing("l2", "lamudi", 0.9)
	te.addGroup("g2", domain.GroupStatusPendingAI, l1, l2)

	res := result("Casa en Coyoacán")
	res.GeocodingAddress = "Francisco Sosa 100, Coyoacán"
	res.FieldSources = map[string]string{"bedrooms": "l2", "title": "l9"}
	res.Discrepancies = []domain.Discrepancy{{Field: "bedrooms", Values: []string{"3", "4"}, ChosenValue: "3"}}

	te.reasoner.EXPECT().
		Unify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req reasoning.Request) (*reasoning.Result, error) {
			assert.Equal(t, domain.UnificationModeMerge, req.Mode)
			assert.Contains(t, req.Prompt, "2 listings")
			return res, nil
		})
	te.geocoder.EXPECT().
		Geocode(gomock.Any(), "Francisco Sosa 100, Coyoacán", "Coyoacán", "Ciudad de México").
		Return(&geocode.Point{Lat: 19.3467, Lng: -99.1617}, nil)

	require.NoError(t, te.engine.Unify(context.Background(), "g2"))

	commit := te.committer.commits[0]
	assert.Equal(t, "l2", commit.PrimaryListingID, "most complete listing is primary")
	assert.Equal(t, map[string]string{"bedrooms": "l2"}, commit.Property.AIUnification.FieldSources)
	assert.Len(t, commit.Property.AIUnification.SourceListings, 2)
	assert.Len(t, commit.Property.Images, 3, "shared image is kept once")
	assert.Equal(t, unification.GeocodeSourceGeocoder, commit.Property.AIUnification.GeocodeSource)
	assert.InDelta(t, 19.3467, *commit.Property.Location.Latitude, 1e-9)
	assert.Len(t, commit.Publishers, 2)
}

func TestUnify_GeocodingFallsBackToListingCoordinates(t *testing.T) {
	t.Parallel()

	t.Run("no address proposed", func(t *testing.T) {
		t.Parallel()
		te := newTestEngine(t)
		l1 := listing("l1", "inmuebles24", 0.5)
		l2 := listing("l2", "lamudi", 0.5)
		l2.Location.Latitude, l2.Location.Longitude = ptr(20.67), ptr(-103.35)
		te.addGroup("g3", domain.GroupStatusPendingAI, l1, l2)

		te.reasoner.EXPECT().Unify(gomock.Any(), gomock.Any()).Return(result("Casa"), nil)

		require.NoError(t, te.engine.Unify(context.Background(), "g3"))

		loc := te.committer.commits[0].Property.Location
		require.True(t, loc.HasCoordinates())
		assert.InDelta(t, 20.67, *loc.Latitude, 1e-9)
		assert.InDelta(t, -103.35, *loc.Longitude, 1e-9)
		assert.Equal(t, unification.GeocodeSourceListing, te.committer.commits[0].Property.AIUnification.GeocodeSource)
	})

	t.Run("geocoder error", func(t *testing.T) {
		t.Parallel()
		te := newTestEngine(t)
		l1 := listing("l1", "inmuebles24", 0.5)
		l1.Location.Latitude, l1.Location.Longitude = ptr(19.43), ptr(-99.13)
		te.addGroup("g4", domain.GroupStatusPendingAI, l1)

		res := result("Casa")
		res.GeocodingAddress = "Av. Reforma 1"
		te.reasoner.EXPECT().Unify(gomock.Any(), gomock.Any()).Return(res, nil)
		te.geocoder.EXPECT().Geocode(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("geocoder unavailable"))

		require.NoError(t, te.engine.Unify(context.Background(), "g4"))
		assert.Equal(t, unification.GeocodeSourceListing, te.committer.commits[0].Property.AIUnification.GeocodeSource)
	})

	t.Run("nothing available", func(t *testing.T) {
		t.Parallel()
		te := newTestEngine(t)
		te.addGroup("g5", domain.GroupStatusPendingAI, listing("l1", "inmuebles24", 0.5))
		te.reasoner.EXPECT().Unify(gomock.Any(), gomock.Any()).Return(result("Casa"), nil)

		require.NoError(t, te.engine.Unify(context.Background(), "g5"))
		assert.False(t, te.committer.commits[0].Property.Location.HasCoordinates())
		assert.Empty(t, te.committer.commits[0].Property.AIUnification.GeocodeSource)
	})
}

func TestUnify_InvalidResultMovesGroupToReview(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t)
	te.addGroup("g1", domain.GroupStatusPendingAI, listing("l1", "inmuebles24", 0.5))

	invalid := failure.Wrap(failure.KindInvalidData, fmt.Errorf("%w: description missing", reasoning.ErrInvalidResult))
	te.reasoner.EXPECT().Unify(gomock.Any(), gomock.Any()).Return(nil, invalid)

	require.NoError(t, te.engine.Unify(context.Background(), "g1"))

	assert.Empty(t, te.committer.commits, "nothing is committed")
	require.Len(t, te.groups.released, 1)
	assert.Equal(t, domain.GroupStatusPendingReview, te.groups.released[0].To)
	assert.Contains(t, te.groups.released[0].Reason, "invalid_data")
	assert.Equal(t, domain.GroupStatusPendingReview, te.groups.groups["g1"].Status)
	assert.Equal(t, 1, te.groups.groups["g1"].AIAttempts)
	assert.Equal(t, []string{unification.OutcomeReview}, te.observer.outcomes)
}

func TestUnify_RateLimitRequeuesUntilExhausted(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t)
	te.addGroup("g1", domain.GroupStatusPendingAI, listing("l1", "inmuebles24", 0.5))

	rateLimited := failure.Wrap(failure.KindRateLimited, errors.New("429 too many requests"))
	te.reasoner.EXPECT().Unify(gomock.Any(), gomock.Any()).Return(nil, rateLimited).Times(2)

	require.NoError(t, te.engine.Unify(context.Background(), "g1"))
	assert.Equal(t, domain.GroupStatusPendingAI, te.groups.groups["g1"].Status)

	te.groups.groups["g1"].AIAttempts = failure.PolicyFor(failure.KindRateLimited).MaxAttempts - 1
	require.NoError(t, te.engine.Unify(context.Background(), "g1"))
	assert.Equal(t, domain.GroupStatusFailed, te.groups.groups["g1"].Status)
	assert.Equal(t, []string{unification.OutcomeRequeued, unification.OutcomeFailed}, te.observer.outcomes)
}

func TestUnify_LeaseHeldElsewhere(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t)
	te.addGroup("g1", domain.GroupStatusProcessingAI, listing("l1", "inmuebles24", 0.5))

	err := te.engine.Unify(context.Background(), "g1")
	require.ErrorIs(t, err, database.ErrLeaseNotAcquired)
	assert.Empty(t, te.groups.released)
}

func TestUnify_LeaseLostBeforeCommit(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t)
	te.addGroup("g1", domain.GroupStatusPendingAI, listing("l1", "inmuebles24", 0.5))
	te.committer.err = fmt.Errorf("group g1 is pending_ai: %w", database.ErrLeaseLost)
	te.reasoner.EXPECT().Unify(gomock.Any(), gomock.Any()).Return(result("Casa"), nil)

	err := te.engine.Unify(context.Background(), "g1")
	require.ErrorIs(t, err, database.ErrLeaseLost)
	assert.Empty(t, te.groups.released, "a lost lease is not released again")
	assert.Empty(t, te.indexer.indexed)
}

func TestUnify_EmptyGroupGoesToReview(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t)
	te.addGroup("g1", domain.GroupStatusPendingAI)

	require.NoError(t, te.engine.Unify(context.Background(), "g1"))
	require.Len(t, te.groups.released, 1)
	assert.Equal(t, domain.GroupStatusPendingReview, te.groups.released[0].To)
}

func TestReanalyze(t *testing.T) {
	t.Parallel()

	t.Run("existing group is updated in place", func(t *testing.T) {
		t.Parallel()
		te := newTestEngine(t)
		te.addGroup("g1", domain.GroupStatusCompleted, listing("l1", "inmuebles24", 0.5))
		te.groups.groups["g1"].PropertyID = ptr("prop-1")
		te.props.props["prop-1"] = &domain.Property{ID: "prop-1", ListingGroupID: ptr("g1"), NeedsReanalysis: true}
		te.reasoner.EXPECT().Unify(gomock.Any(), gomock.Any()).Return(result("Casa actualizada"), nil)

		require.NoError(t, te.engine.Reanalyze(context.Background(), "prop-1"))
		assert.Equal(t, []string{"prop-1"}, te.indexer.indexed)
		assert.Equal(t, domain.GroupStatusCompleted, te.groups.groups["g1"].Status)
	})

	t.Run("property without group gets one", func(t *testing.T) {
		t.Parallel()
		te := newTestEngine(t)
		l1 := listing("l1", "inmuebles24", 0.5)
		te.props.props["prop-2"] = &domain.Property{ID: "prop-2", NeedsReanalysis: true}
		te.listings.byProperty["prop-2"] = []*domain.Listing{l1}
		te.listings.byGroup["group-for-prop-2"] = []*domain.Listing{l1}
		te.reasoner.EXPECT().Unify(gomock.Any(), gomock.Any()).Return(result("Casa"), nil)

		require.NoError(t, te.engine.Reanalyze(context.Background(), "prop-2"))
		assert.Equal(t, []string{"l1"}, te.groups.created)
		assert.Equal(t, []string{"prop-2"}, te.indexer.indexed)
	})

	t.Run("group being processed is not re-entered", func(t *testing.T) {
		t.Parallel()
		te := newTestEngine(t)
		te.addGroup("g1", domain.GroupStatusProcessingAI, listing("l1", "inmuebles24", 0.5))
		te.props.props["prop-1"] = &domain.Property{ID: "prop-1", ListingGroupID: ptr("g1")}

		require.ErrorIs(t, te.engine.Reanalyze(context.Background(), "prop-1"), database.ErrLeaseNotAcquired)
	})
}

func TestBuildRequest_Framing(t *testing.T) {
	t.Parallel()
	group := &domain.ListingGroup{ID: "g1", MatchScore: 88}
	l1 := listing("l1", "inmuebles24", 0.5)
	l1.Description = "Hermosa casa con 3 recámaras."
	l1.DataQuality.Conflicts = []domain.FieldConflict{{Field: "bedrooms", StructuredValue: 3, DescriptionValue: 4}}

	single := unification.BuildRequest(group, []*domain.Listing{l1}, domain.UnificationModeEnrichment)
	assert.Contains(t, single.System, "one property listing")
	assert.Contains(t, single.Prompt, "Hermosa casa")
	assert.Contains(t, single.Prompt, "Extraction conflict: bedrooms structured=3 text=4")
	assert.Contains(t, single.Prompt, "Operation: sale 5200000 MXN")

	multi := unification.BuildRequest(group, []*domain.Listing{l1, listing("l2", "lamudi", 0.5)}, domain.UnificationModeMerge)
	assert.Contains(t, multi.System, "field_sources")
	assert.Contains(t, multi.Prompt, "match score 88")
	assert.Contains(t, multi.Prompt, "## Listing 2 (id: l2)")
}
