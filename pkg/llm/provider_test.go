package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	name string
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{0.1, 0.2, 0.3}
	}
	return result, nil
}

func (m *mockProvider) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockProvider) Chat(_ context.Context, _ []Message) (string, error) {
	return "mock response", nil
}

func (m *mockProvider) Generate(_ context.Context, _ string, _ string) (string, error) {
	return "mock generated text", nil
}

func TestRegisterAndNewProvider(t *testing.T) {
	RegisterProvider("test-provider", func(config map[string]any) (Provider, error) {
		return &mockProvider{name: ConfigString(config, "name", "test-provider")}, nil
	})

	p, err := NewProvider("test-provider", map[string]any{"name": "custom-name"})
	require.NoError(t, err)
	assert.Equal(t, "custom-name", p.Name())

	e, err := NewEmbeddingProvider("test-provider", nil)
	require.NoError(t, err)
	assert.Equal(t, "test-provider", e.Name())

	c, err := NewChatProvider("test-provider", nil)
	require.NoError(t, err)
	out, err := c.Generate(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "mock generated text", out)

	assert.Contains(t, ListProviders(), "test-provider")
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider("unknown-provider", nil)
	assert.Error(t, err)
	_, err = NewEmbeddingProvider("unknown-provider", nil)
	assert.Error(t, err)
	_, err = NewChatProvider("unknown-provider", nil)
	assert.Error(t, err)
}

func TestListProvidersSorted(t *testing.T) {
	factory := func(map[string]any) (Provider, error) { return &mockProvider{}, nil }
	RegisterProvider("zz-test", factory)
	RegisterProvider("aa-test", factory)

	names := ListProviders()
	assert.IsNonDecreasing(t, names)
}

func TestConfigHelpers(t *testing.T) {
	cfg := map[string]any{
		"s":     "value",
		"empty": "",
		"i":     7,
		"f64":   12.0,
		"d":     5 * time.Second,
		"ds":    "250ms",
		"bad":   "soon",
	}

	assert.Equal(t, "value", ConfigString(cfg, "s", "def"))
	assert.Equal(t, "def", ConfigString(cfg, "empty", "def"))
	assert.Equal(t, "def", ConfigString(cfg, "missing", "def"))

	assert.Equal(t, 7, ConfigInt(cfg, "i", 1))
	assert.Equal(t, 12, ConfigInt(cfg, "f64", 1))
	assert.Equal(t, 1, ConfigInt(cfg, "s", 1))

	assert.InDelta(t, 7.0, ConfigFloat(cfg, "i", 0), 1e-9)
	assert.InDelta(t, 0.5, ConfigFloat(cfg, "missing", 0.5), 1e-9)

	assert.Equal(t, 5*time.Second, ConfigDuration(cfg, "d", time.Second))
	assert.Equal(t, 250*time.Millisecond, ConfigDuration(cfg, "ds", time.Second))
	assert.Equal(t, time.Second, ConfigDuration(cfg, "bad", time.Second))
}
