package search

// propertyMapping is the index body for the property read model. Descriptions are Spanish.
func propertyMapping(shards, replicas int) map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   shards,
			"number_of_replicas": replicas,
		},
		"mappings": map[string]any{
			"dynamic": "strict",
			"properties": map[string]any{
				"id":              map[string]any{"type": "keyword"},
				"title":           map[string]any{"type": "text", "analyzer": "spanish"},
				"description":     map[string]any{"type": "text", "analyzer": "spanish"},
				"property_type":   map[string]any{"type": "keyword"},
				"operation_types": map[string]any{"type": "keyword"},
				"operations": map[string]any{
					"type": "nested",
					"properties": map[string]any{
						"type":     map[string]any{"type": "keyword"},
						"price":    map[string]any{"type": "double"},
						"currency": map[string]any{"type": "keyword"},
					},
				},
				"bedrooms":         map[string]any{"type": "integer"},
				"bathrooms":        map[string]any{"type": "integer"},
				"parking":          map[string]any{"type": "integer"},
				"built_size_m2":    map[string]any{"type": "double"},
				"lot_size_m2":      map[string]any{"type": "double"},
				"address":          map[string]any{"type": "text"},
				"neighborhood":     map[string]any{"type": "keyword"},
				"city":             map[string]any{"type": "keyword"},
				"state":            map[string]any{"type": "keyword"},
				"postal_code":      map[string]any{"type": "keyword"},
				"location":         map[string]any{"type": "geo_point"},
				"amenities":        map[string]any{"type": "keyword"},
				"images":           map[string]any{"type": "keyword", "index": false},
				"platforms":        map[string]any{"type": "keyword"},
				"source_count":     map[string]any{"type": "integer"},
				"confidence_score": map[string]any{"type": "integer"},
				"status":           map[string]any{"type": "keyword"},
				"unified_at":       map[string]any{"type": "date"},
				"updated_at":       map[string]any{"type": "date"},
			},
		},
	}
}
