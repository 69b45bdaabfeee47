package traffic

import (
	"context"
	"testing"
	"time"

	"github.com/FairForge/meridian/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testRegions = []string{"us-east-1", "us-west-2"}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestControllerRedirect(t *testing.T) {
	provider := NewMemoryProvider("us-east-1", testRegions)
	c, err := NewController(provider, testRegions, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Redirect(context.Background(), "us-west-2"))

	weights, err := provider.Weights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, weights["us-west-2"])
	assert.Equal(t, 0, weights["us-east-1"])
}

func TestControllerRedirectIsIdempotent(t *testing.T) {
	provider := NewMemoryProvider("us-east-1", testRegions)
	c, err := NewController(provider, testRegions, zap.NewNop())
	require.NoError(t, err)

	// Already fully on the target: no write issued.
	require.NoError(t, c.Redirect(context.Background(), "us-east-1"))
	assert.Equal(t, 0, provider.SetCalls())

	require.NoError(t, c.Redirect(context.Background(), "us-west-2"))
	require.NoError(t, c.Redirect(context.Background(), "us-west-2"))
	assert.Equal(t, 1, provider.SetCalls(), "second redirect converged without a write")
}

func TestControllerRetriesTransientFailures(t *testing.T) {
	provider := NewMemoryProvider("us-east-1", testRegions)
	c, err := NewController(provider, testRegions, zap.NewNop())
	require.NoError(t, err)
	c.retry = fastRetry()

	provider.FailNext(2)
	require.NoError(t, c.Redirect(context.Background(), "us-west-2"))
	assert.Equal(t, 3, provider.SetCalls())
}

func TestControllerSurfacesExhaustedRetries(t *testing.T) {
	provider := NewMemoryProvider("us-east-1", testRegions)
	c, err := NewController(provider, testRegions, zap.NewNop())
	require.NoError(t, err)
	c.retry = fastRetry()

	provider.FailNext(100)
	err = c.Redirect(context.Background(), "us-west-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect to us-west-2 failed")
	assert.Equal(t, 5, provider.SetCalls(), "full retry budget, then give up")
}

func TestControllerRejectsUnknownRegion(t *testing.T) {
	provider := NewMemoryProvider("us-east-1", testRegions)
	c, err := NewController(provider, testRegions, zap.NewNop())
	require.NoError(t, err)

	err = c.Redirect(context.Background(), "eu-central-1")
	require.Error(t, err)
	assert.Equal(t, 0, provider.SetCalls())
}

func TestNewControllerValidation(t *testing.T) {
	provider := NewMemoryProvider("us-east-1", testRegions)

	_, err := NewController(nil, testRegions, zap.NewNop())
	require.Error(t, err)

	_, err = NewController(provider, []string{"only-one"}, zap.NewNop())
	require.Error(t, err)
}
