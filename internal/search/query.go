package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrInvalidQuery is returned for queries the index cannot answer as asked.
var ErrInvalidQuery = errors.New("invalid search query")

// Query filters the property read model.
type Query struct {
	Text         string
	City         string
	State        string
	PropertyType string
	Operation    string
	MinBedrooms  int
	MaxPrice     float64
	// Near restricts results to a radius around a point.
	Near     *GeoPoint
	RadiusKm float64
	Page     int
	Size     int
}

// Hit is one matching property.
type Hit struct {
	Score    float64  `json:"score"`
	Document Document `json:"document"`
}

// Results is one page of matches.
type Results struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Hits  []Hit `json:"hits"`
}

// buildQuery turns a Query into a search body.
func buildQuery(q *Query) (map[string]any, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size < 1 {
		q.Size = defaultPageSize
	}
	if q.Size > maxPageSize {
		return nil, fmt.Errorf("%w: page size exceeds maximum of %d", ErrInvalidQuery, maxPageSize)
	}

	var must, filter []any
	if text := strings.TrimSpace(q.Text); text != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  text,
				"fields": []string{"title^3", "description", "neighborhood", "address"},
			},
		})
	}
	term := func(field, value string) {
		if value != "" {
			filter = append(filter, map[string]any{"term": map[string]any{field: value}})
		}
	}
	term("city", q.City)
	term("state", q.State)
	term("property_type", q.PropertyType)
	term("operation_types", q.Operation)
	term("status", "active")

	if q.MinBedrooms > 0 {
		filter = append(filter, map[string]any{"range": map[string]any{"bedrooms": map[string]any{"gte": q.MinBedrooms}}})
	}
	if q.MaxPrice > 0 {
		priceFilter := []any{map[string]any{"range": map[string]any{"operations.price": map[string]any{"lte": q.MaxPrice}}}}
		if q.Operation != "" {
			priceFilter = append(priceFilter, map[string]any{"term": map[string]any{"operations.type": q.Operation}})
		}
		filter = append(filter, map[string]any{
			"nested": map[string]any{
				"path":  "operations",
				"query": map[string]any{"bool": map[string]any{"filter": priceFilter}},
			},
		})
	}
	if q.Near != nil {
		radius := q.RadiusKm
		if radius <= 0 {
			radius = 5
		}
		filter = append(filter, map[string]any{
			"geo_distance": map[string]any{
				"distance": fmt.Sprintf("%gkm", radius),
				"location": map[string]any{"lat": q.Near.Lat, "lon": q.Near.Lon},
			},
		})
	}

	boolQuery := map[string]any{"filter": filter}
	if len(must) > 0 {
		boolQuery["must"] = must
	}

	sort := []any{"_score", map[string]any{"confidence_score": "desc"}}
	if len(must) == 0 {
		sort = []any{map[string]any{"updated_at": "desc"}}
	}

	return map[string]any{
		"query":            map[string]any{"bool": boolQuery},
		"from":             (q.Page - 1) * q.Size,
		"size":             q.Size,
		"sort":             sort,
		"track_total_hits": true,
	}, nil
}

// Search runs a query against the property index.
func (i *Indexer) Search(ctx context.Context, q Query) (*Results, error) {
	if i.client == nil {
		return nil, ErrNotConfigured
	}

	body, err := buildQuery(&q)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error encoding query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.cfg.Index),
		i.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search properties: %w", err)
	}
	defer i.closeResponse(res)

	if res.IsError() {
		return nil, responseError("search properties", res)
	}

	var decoded struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Score  *float64 `json:"_score"`
				Source Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("error decoding search response: %w", err)
	}

	out := &Results{Total: decoded.Hits.Total.Value, Page: q.Page, Size: q.Size, Hits: make([]Hit, 0, len(decoded.Hits.Hits))}
	for _, h := range decoded.Hits.Hits {
		hit := Hit{Document: h.Source}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}
