package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(GatewayOperations.WithLabelValues("add", "test-backend", "error"))
	ObserveOperation("add", "test-backend", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(GatewayOperations.WithLabelValues("add", "test-backend", "error"))
	assert.Equal(t, before+1, after)
}

func TestSetMode(t *testing.T) {
	SetMode("remote", "embedded", "remote", "unavailable")
	assert.Equal(t, 1.0, testutil.ToFloat64(GatewayMode.WithLabelValues("remote")))
	assert.Equal(t, 0.0, testutil.ToFloat64(GatewayMode.WithLabelValues("embedded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(GatewayMode.WithLabelValues("unavailable")))
}
