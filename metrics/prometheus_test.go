package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitDefault_Disabled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode")
	}
	original := otel.GetMeterProvider()
	defer otel.SetMeterProvider(original)

	closer, err := InitDefault(Config{})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())

	counter, err := otel.GetMeterProvider().Meter("test").Int64Counter("bulkmail.test")
	require.NoError(t, err)
	assert.NotNil(t, counter)
}
