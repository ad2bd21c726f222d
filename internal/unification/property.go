package unification

import (
	"context"
	"slices"
	"strings"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/reasoning"
)

// Geocode sources recorded on the property's unification metadata.
const (
	GeocodeSourceResult   = "ai_result"
	GeocodeSourceGeocoder = "geocoder"
	GeocodeSourceListing  = "listing"
)

const maxPropertyImages = 40

// buildCommit copies only the allow-listed canonical fields from the result onto a new Property
// value. Identity, status and bookkeeping columns are resolved by the commit.
func (e *Engine) buildCommit(
	group *domain.ListingGroup, members []*domain.Listing, mode domain.UnificationMode, result *reasoning.Result,
) *database.UnificationCommit {
	f := result.Fields
	unifiedAt := e.now().UTC()

	prop := domain.Property{
		Title:         f.Title,
		Description:   result.Description,
		PropertyType:  f.PropertyType,
		Operations:    domain.Operations(f.Operations),
		Bedrooms:      f.Bedrooms,
		Bathrooms:     f.Bathrooms,
		HalfBathrooms: f.HalfBathrooms,
		Parking:       f.Parking,
		BuiltSizeM2:   f.BuiltSizeM2,
		LotSizeM2:     f.LotSizeM2,
		Location: domain.Location{
			Address:      f.Address,
			Neighborhood: f.Neighborhood,
			City:         f.City,
			State:        f.State,
			PostalCode:   f.PostalCode,
			Latitude:     f.Latitude,
			Longitude:    f.Longitude,
		},
		Amenities:       uniqueSorted(f.Amenities),
		Images:          mergeImages(members),
		ConfidenceScore: result.QualityScore,
		AIUnification: domain.UnificationMetadata{
			Model:          result.Model,
			Mode:           mode,
			InputTokens:    result.InputTokens,
			OutputTokens:   result.OutputTokens,
			SourceListings: sourceListings(members),
			FieldSources:   e.fieldSources(group, members, result.FieldSources),
			Discrepancies:  result.Discrepancies,
			UnifiedAt:      &unifiedAt,
		},
	}
	if len(prop.Operations) == 0 {
		prop.Operations = primary(members).Operations
	}
	if prop.PropertyType == "" {
		prop.PropertyType = primary(members).PropertyType
	}

	publishers := make([]domain.Publisher, 0, len(members))
	for _, l := range members {
		if !l.Publisher.IsZero() {
			pub := l.Publisher
			if pub.Platform == "" {
				pub.Platform = l.Platform
			}
			publishers = append(publishers, pub)
		}
	}

	return &database.UnificationCommit{
		GroupID:          group.ID,
		Property:         prop,
		ListingIDs:       listingIDs(members),
		PrimaryListingID: primary(members).ID,
		Publishers:       publishers,
		AIResult:         domain.RawJSON(result.Raw),
	}
}

// resolveLocation applies the geocoding fallback: coordinates proposed by the result are kept
// unless the result also offers a cleaned address, which is geocoded; when coordinates are still
// missing the first member listing with raw coordinates supplies them. Geocoder failures never
// fail the unification. It returns where the coordinates came from.
func (e *Engine) resolveLocation(
	ctx context.Context, group *domain.ListingGroup, loc *domain.Location, result *reasoning.Result, members []*domain.Listing,
) string {
	address := strings.TrimSpace(result.GeocodingAddress)

	if address != "" && e.geocoder != nil {
		point, err := e.geocoder.Geocode(ctx, address, loc.City, loc.State)
		switch {
		case err != nil:
			e.log.Warn("Geocoding failed, falling back",
				infralogger.GroupID(group.ID),
				infralogger.String("address", address),
				infralogger.Error(err),
			)
		case point != nil:
			loc.Latitude, loc.Longitude = &point.Lat, &point.Lng
			return GeocodeSourceGeocoder
		}
	}

	if loc.HasCoordinates() {
		return GeocodeSourceResult
	}
	loc.Latitude, loc.Longitude = nil, nil

	for _, l := range members {
		if l.Location.HasCoordinates() {
			lat, lng := *l.Location.Latitude, *l.Location.Longitude
			loc.Latitude, loc.Longitude = &lat, &lng
			return GeocodeSourceListing
		}
	}
	return ""
}

// fieldSources keeps attributions that name a member listing.
func (e *Engine) fieldSources(group *domain.ListingGroup, members []*domain.Listing, sources map[string]string) map[string]string {
	if len(sources) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(members))
	for _, l := range members {
		known[l.ID] = struct{}{}
	}

	out := make(map[string]string, len(sources))
	for field, listingID := range sources {
		if _, ok := known[listingID]; !ok {
			e.log.Debug("Dropping field source for unknown listing",
				infralogger.GroupID(group.ID),
				infralogger.String("field", field),
				infralogger.String("listing_id", listingID),
			)
			continue
		}
		out[field] = listingID
	}
	return out
}

// primary is the most complete member; ties keep the listing order, which puts an existing
// primary first.
func primary(members []*domain.Listing) *domain.Listing {
	best := members[0]
	for _, l := range members[1:] {
		if l.DataQuality.Completeness > best.DataQuality.Completeness {
			best = l
		}
	}
	return best
}

func sourceListings(members []*domain.Listing) []domain.SourceListing {
	out := make([]domain.SourceListing, len(members))
	for i, l := range members {
		out[i] = domain.SourceListing{
			ListingID:  l.ID,
			Platform:   l.Platform,
			ExternalID: l.ExternalID,
			URL:        l.OriginalURL,
		}
	}
	return out
}

func mergeImages(members []*domain.Listing) domain.StringList {
	seen := make(map[string]struct{})
	var out domain.StringList
	for _, l := range members {
		for _, img := range l.Images {
			if _, ok := seen[img]; ok {
				continue
			}
			seen[img] = struct{}{}
			out = append(out, img)
			if len(out) == maxPropertyImages {
				return out
			}
		}
	}
	return out
}

func uniqueSorted(values []string) domain.StringList {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return domain.StringList(slices.Compact(out))
}
