package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		wantProvider string // "" means disabled
		wantErr      bool
	}{
		{name: "none", cfg: Config{Provider: "none"}},
		{name: "empty provider", cfg: Config{}},
		{name: "openai without key is disabled", cfg: Config{Provider: "openai"}},
		{name: "openai with key", cfg: Config{Provider: "OpenAI", APIKey: "k"}, wantProvider: ProviderOpenAI},
		{name: "local", cfg: Config{Provider: "local", CacheSize: 10}, wantProvider: ProviderLocal},
		{name: "unknown", cfg: Config{Provider: "jina"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownProvider)
				return
			}
			require.NoError(t, err)

			if tt.wantProvider == "" {
				assert.Nil(t, emb)
				assert.False(t, NewGenerator(emb, GeneratorOptions{}).SemanticAvailable())
				return
			}
			require.NotNil(t, emb)
			assert.Equal(t, tt.wantProvider, emb.Provider())
			assert.NoError(t, emb.Close())
		})
	}
}
