package platform_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

const testDefinitions = `
defaults:
  user_agent: test-agent
  requests_per_second: 2
  timeout: 15s
platforms:
  - name: alpha
    base_url: https://alpha.example.com
    search:
      page_pattern: "-pagina-{page}"
      total_pattern: 'de\s+([\d,]+)\s+propiedades'
      link_pattern: '/propiedades/'
    listing:
      external_id_pattern: '-(\d+)\.html'
      scripts:
        price: "'price'\\s*:\\s*'([\\d.]+)'"
        currency: "'currency'\\s*:\\s*'(\\w+)'"
      image_upgrades:
        - pattern: '/\d+x\d+/'
          replace: /1200x1200/
      image_id_pattern: '/img/(\d+)\.'
      property_types:
        "2": apartment
      operation_types:
        Venta: sale
  - name: beta
    base_url: https://beta.example.com
    requests_per_second: 5
    search:
      page_param: p
`

func TestParse_AppliesDefaults(t *testing.T) {
	t.Parallel()

	defs, err := platform.Parse([]byte(testDefinitions))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	alpha := defs["alpha"]
	require.NotNil(t, alpha)
	assert.Equal(t, "test-agent", alpha.UserAgent)
	assert.InDelta(t, 2.0, alpha.RequestsPerSecond, 0.0001)
	assert.Equal(t, 15*time.Second, alpha.Timeout)
	assert.Equal(t, "href", alpha.Search.LinkAttr)

	beta := defs["beta"]
	require.NotNil(t, beta)
	assert.InDelta(t, 5.0, beta.RequestsPerSecond, 0.0001, "platform value overrides default")
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "no platforms", yaml: "defaults: {}\n"},
		{name: "missing name", yaml: "platforms:\n  - base_url: https://x.example.com\n"},
		{name: "bad regex", yaml: "platforms:\n  - name: x\n    listing:\n      external_id_pattern: '(['\n"},
		{name: "bad base url", yaml: "platforms:\n  - name: x\n    base_url: ftp://x\n"},
		{name: "duplicate", yaml: "platforms:\n  - name: x\n  - name: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := platform.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDefinition_PageURL(t *testing.T) {
	t.Parallel()

	defs, err := platform.Parse([]byte(testDefinitions))
	require.NoError(t, err)

	got, err := defs["alpha"].PageURL("https://alpha.example.com/casas-en-venta.html", 3)
	require.NoError(t, err)
	assert.Equal(t, "https://alpha.example.com/casas-en-venta-pagina-3.html", got)

	got, err = defs["alpha"].PageURL("https://alpha.example.com/casas-en-venta.html", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://alpha.example.com/casas-en-venta.html", got)

	got, err = defs["beta"].PageURL("https://beta.example.com/venta?city=cdmx", 2)
	require.NoError(t, err)
	assert.Equal(t, "https://beta.example.com/venta?city=cdmx&p=2", got)
}

func TestDefinition_Patterns(t *testing.T) {
	t.Parallel()

	defs, err := platform.Parse([]byte(testDefinitions))
	require.NoError(t, err)
	alpha := defs["alpha"]

	assert.Equal(t, "145500123", alpha.ExternalIDFromURL("https://alpha.example.com/propiedades/casa-centro-145500123.html"))
	assert.True(t, alpha.IsListingLink("/propiedades/casa-1.html"))
	assert.False(t, alpha.IsListingLink("/blog/post"))

	total, ok := alpha.TotalResults("Mostrando 1 - 30 de 1,954 propiedades")
	require.True(t, ok)
	assert.Equal(t, 1954, total)

	patterns := alpha.ScriptPatterns()
	require.Len(t, patterns, 2)
	assert.Equal(t, "currency", patterns[0].Field, "sorted by field")
	assert.Equal(t, "price", patterns[1].Field)

	assert.Equal(t, "https://cdn.example.com/img/1200x1200/77.jpg", alpha.UpgradeImage("https://cdn.example.com/img/360x266/77.jpg"))
	assert.Equal(t, "991", alpha.ImageKey("https://cdn.example.com/img/991.jpg"))
	assert.Equal(t, "https://cdn.example.com/x.jpg", alpha.ImageKey("https://cdn.example.com/x.jpg"))

	assert.Equal(t, "apartment", alpha.PropertyType("2"))
	assert.Equal(t, "sale", alpha.OperationType("Venta"))
	assert.Empty(t, alpha.PropertyType("99"))
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{in: "954 propiedades", want: 954, ok: true},
		{in: "1,234", want: 1234, ok: true},
		{in: "Total: 12.500 resultados", want: 12500, ok: true},
		{in: "sin resultados", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := platform.ParseCount(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestShippedDefinitionsParse(t *testing.T) {
	t.Parallel()

	defs, err := platform.LoadFile(filepath.Join("..", "..", "config", "platforms.yml"))
	require.NoError(t, err)
	assert.Contains(t, defs, "inmuebles24")
	assert.Contains(t, defs, "lamudi")
	assert.NotEmpty(t, defs["inmuebles24"].ScriptPatterns())
}

func TestRegistry_GetAndReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "platforms.yml")
	require.NoError(t, os.WriteFile(path, []byte(testDefinitions), 0o600))

	reg, err := platform.LoadRegistry(path, infralogger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, reg.Names())

	_, err = reg.Get("gamma")
	assert.True(t, errors.Is(err, platform.ErrUnknownPlatform))

	require.NoError(t, os.WriteFile(path, []byte("platforms: [broken"), 0o600))
	require.Error(t, reg.Reload())
	_, err = reg.Get("alpha")
	require.NoError(t, err, "previous definitions are kept when reload fails")

	require.NoError(t, os.WriteFile(path, []byte("platforms:\n  - name: gamma\n"), 0o600))
	require.NoError(t, reg.Reload())
	_, err = reg.Get("gamma")
	require.NoError(t, err)
	_, err = reg.Get("alpha")
	assert.Error(t, err)
}

func TestRegistry_Watch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "platforms.yml")
	require.NoError(t, os.WriteFile(path, []byte(testDefinitions), 0o600))

	reg, err := platform.LoadRegistry(path, infralogger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("platforms:\n  - name: delta\n"), 0o600))

	require.Eventually(t, func() bool {
		_, getErr := reg.Get("delta")
		return getErr == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
