package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	assert := assert.New(t)

	uut := NewCollector()

	// Case 0: subscription gauge
	{
		uut.SubscriptionOpened(KindTopic)
		uut.SubscriptionOpened(KindTopic)
		uut.SubscriptionOpened(KindGlobal)
		uut.SubscriptionClosed(KindTopic)
		assert.Equal(1.0, testutil.ToFloat64(uut.subscriptions.WithLabelValues(KindTopic)))
		assert.Equal(1.0, testutil.ToFloat64(uut.subscriptions.WithLabelValues(KindGlobal)))
	}

	// Case 1: frame counters
	{
		uut.FrameWritten("dashboard", true)
		uut.FrameWritten("dashboard", false)
		uut.FrameWritten("dashboard", true)
		assert.Equal(2.0, testutil.ToFloat64(uut.frames.WithLabelValues("dashboard", "delivered")))
		assert.Equal(1.0, testutil.ToFloat64(uut.frames.WithLabelValues("dashboard", "dropped")))
	}

	// Case 2: auth counters
	{
		uut.AuthOperation("login", OutcomeRejected)
		assert.Equal(1.0, testutil.ToFloat64(uut.authOps.WithLabelValues("login", OutcomeRejected)))
	}

	// Case 3: exposition
	{
		req, err := http.NewRequest("GET", "/metrics", nil)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		uut.Handler().ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusOK, respRecorder.Code)
		assert.True(strings.Contains(
			respRecorder.Body.String(), "fundstream_stream_active_subscriptions",
		))
	}
}

func TestNilCollector(t *testing.T) {
	var uut *Collector
	// None of these may panic
	uut.SubscriptionOpened(KindTopic)
	uut.SubscriptionClosed(KindTopic)
	uut.FrameWritten("heartbeat", true)
	uut.AuthOperation("refresh", OutcomeSuccess)

	respRecorder := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	uut.Handler().ServeHTTP(respRecorder, req)
	assert.Equal(t, http.StatusNotFound, respRecorder.Code)
}
