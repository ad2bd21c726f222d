// Package elasticsearch connects to the cluster that serves the property read model.
package elasticsearch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/tidwall/gjson"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/retry"
)

// minMajorVersion is the oldest cluster the v8 client and the property mapping support.
const minMajorVersion = 8

// ErrUnsupportedVersion is returned for clusters older than minMajorVersion. It is not retried.
var ErrUnsupportedVersion = errors.New("unsupported elasticsearch version")

// ClusterInfo identifies the cluster a client is connected to.
type ClusterInfo struct {
	Name    string
	Version string
}

// NewClient creates a client and waits for the cluster to answer, retrying with backoff. A
// cluster older than version 8 fails immediately.
func NewClient(ctx context.Context, cfg Config, log logger.Logger) (*es.Client, error) {
	cfg.SetDefaults()
	url := normalizeURL(cfg.URL)

	clientConfig := es.Config{
		Addresses:  []string{url},
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.InsecureSkipVerify {
		clientConfig.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in for development clusters
		}
	}
	if cfg.APIKey != "" {
		clientConfig.APIKey = cfg.APIKey
	} else if cfg.Username != "" && cfg.Password != "" {
		clientConfig.Username = cfg.Username
		clientConfig.Password = cfg.Password
	}

	client, err := es.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	var info ClusterInfo
	retryCfg := *cfg.RetryConfig
	retryCfg.IsRetryable = func(err error) bool { return !errors.Is(err, ErrUnsupportedVersion) }
	err = retry.Do(ctx, retryCfg, func(ctx context.Context) error {
		var infoErr error
		info, infoErr = clusterInfo(ctx, client, cfg)
		if infoErr != nil {
			log.Debug("Elasticsearch not ready", logger.String("url", url), logger.Error(infoErr))
		}
		return infoErr
	})
	if err != nil {
		return nil, fmt.Errorf("connect to elasticsearch at %s: %w", url, err)
	}

	log.Info("Elasticsearch connected",
		logger.String("url", url),
		logger.String("cluster", info.Name),
		logger.String("version", info.Version),
	)
	return client, nil
}

func normalizeURL(url string) string {
	if url == "" {
		return defaultURL
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "http://" + url
	}
	return url
}

// clusterInfo reads the root endpoint and checks the cluster version.
func clusterInfo(ctx context.Context, client *es.Client, cfg Config) (ClusterInfo, error) {
	infoCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()

	res, err := client.Info(client.Info.WithContext(infoCtx))
	if err != nil {
		return ClusterInfo{}, fmt.Errorf("info request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return ClusterInfo{}, fmt.Errorf("read info response: %w", err)
	}
	if res.IsError() {
		return ClusterInfo{}, fmt.Errorf("info returned %s: %s", res.Status(), body)
	}

	parsed := gjson.ParseBytes(body)
	info := ClusterInfo{
		Name:    parsed.Get("cluster_name").String(),
		Version: parsed.Get("version.number").String(),
	}
	major, convErr := strconv.Atoi(strings.SplitN(info.Version, ".", 2)[0])
	if convErr != nil || major < minMajorVersion {
		return info, fmt.Errorf("%w: %q", ErrUnsupportedVersion, info.Version)
	}
	return info, nil
}
