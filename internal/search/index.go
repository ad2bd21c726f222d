// Package search maintains the Elasticsearch read model of canonical properties.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
)

const (
	defaultIndex   = "properties"
	defaultTimeout = 10 * time.Second
)

// ErrNotConfigured is returned when the indexer has no client.
var ErrNotConfigured = errors.New("elasticsearch client is not initialized")

// Config configures the property index.
type Config struct {
	Index    string        `mapstructure:"index"`
	Shards   int           `mapstructure:"shards"`
	Replicas int           `mapstructure:"replicas"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Refresh makes each write visible to search before returning.
	Refresh bool `mapstructure:"refresh"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Index == "" {
		c.Index = defaultIndex
	}
	if c.Shards <= 0 {
		c.Shards = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Indexer writes and queries the property index.
type Indexer struct {
	client *es.Client
	cfg    Config
	log    infralogger.Logger
}

// New creates an indexer.
func New(client *es.Client, cfg Config, log infralogger.Logger) *Indexer {
	cfg.SetDefaults()
	return &Indexer{client: client, cfg: cfg, log: log}
}

// Index returns the index name.
func (i *Indexer) Index() string {
	return i.cfg.Index
}

// EnsureIndex creates the property index with its mapping when it does not exist.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	if i.client == nil {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	res, err := i.client.Indices.Exists([]string{i.cfg.Index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", i.cfg.Index, err)
	}
	i.closeResponse(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to check index %s: %s", i.cfg.Index, res.Status())
	}

	body, err := json.Marshal(propertyMapping(i.cfg.Shards, i.cfg.Replicas))
	if err != nil {
		return fmt.Errorf("error encoding mapping: %w", err)
	}

	res, err = i.client.Indices.Create(
		i.cfg.Index,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", i.cfg.Index, err)
	}
	defer i.closeResponse(res)

	if res.IsError() && !isAlreadyExists(res) {
		return responseError("create index "+i.cfg.Index, res)
	}

	i.log.Info("Created property index", infralogger.String("index", i.cfg.Index))
	return nil
}

// IndexProperty writes a property document keyed by the property id.
func (i *Indexer) IndexProperty(ctx context.Context, p *domain.Property) error {
	if i.client == nil {
		return ErrNotConfigured
	}

	body, err := json.Marshal(NewDocument(p))
	if err != nil {
		return fmt.Errorf("failed to marshal property %s: %w", p.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	opts := []func(*esapi.IndexRequest){
		i.client.Index.WithContext(ctx),
		i.client.Index.WithDocumentID(p.ID),
	}
	if i.cfg.Refresh {
		opts = append(opts, i.client.Index.WithRefresh("true"))
	}

	res, err := i.client.Index(i.cfg.Index, bytes.NewReader(body), opts...)
	if err != nil {
		return failure.Wrap(failure.KindNetwork, fmt.Errorf("failed to index property %s: %w", p.ID, err))
	}
	defer i.closeResponse(res)

	if res.IsError() {
		return responseError("index property "+p.ID, res)
	}

	i.log.Debug("Property indexed",
		infralogger.String("index", i.cfg.Index),
		infralogger.String("property_id", p.ID),
	)
	return nil
}

// DeleteProperty removes a property document. A missing document is not an error.
func (i *Indexer) DeleteProperty(ctx context.Context, id string) error {
	if i.client == nil {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	res, err := i.client.Delete(i.cfg.Index, id, i.client.Delete.WithContext(ctx))
	if err != nil {
		return failure.Wrap(failure.KindNetwork, fmt.Errorf("failed to delete property %s: %w", id, err))
	}
	defer i.closeResponse(res)

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete property "+id, res)
	}
	return nil
}

func (i *Indexer) closeResponse(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	if err := res.Body.Close(); err != nil {
		i.log.Debug("Failed to close Elasticsearch response body", infralogger.Error(err))
	}
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	return fmt.Errorf("%s: %w", op, &failure.StatusError{StatusCode: res.StatusCode, Body: string(bytes.TrimSpace(body))})
}

func isAlreadyExists(res *esapi.Response) bool {
	if res.StatusCode != http.StatusBadRequest {
		return false
	}
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return false
	}
	return body.Error.Type == "resource_already_exists_exception"
}
