package jaeger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderBuilder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "empty endpoint",
			cfg:     Config{ServiceName: "bulkmail"},
			wantErr: "tracing endpoint is empty",
		},
		{
			name:    "empty service name",
			cfg:     Config{Endpoint: "http://localhost:4318/v1/traces"},
			wantErr: "service name is empty",
		},
		{
			name: "valid",
			cfg:  Config{Endpoint: "http://localhost:4318/v1/traces", ServiceName: "bulkmail", AppVersion: "1.0.0", SampleRatio: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			provider, err := NewProviderBuilder(tt.cfg)()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, provider)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &Provider{}, provider)
			// No spans were recorded, so nothing is exported on close.
			assert.NoError(t, provider.Close())
		})
	}
}

func TestConfig_Enabled(t *testing.T) {
	t.Parallel()

	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Endpoint: "http://collector:4318"}.Enabled())
}
