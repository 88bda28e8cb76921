package obs

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncFeedMessage("bin")
	m.IncRingOverwrite("bbo")
	m.AddSubmits("bin", 3)
	m.ObserveTick(time.Millisecond)
	assert.Nil(t, m.Registry())
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.IncFeedMessage("bin")
	m.IncFeedMessage("bin")
	m.IncBookResync("ETHUSDT")
	m.AddSubmits("sim", 5)
	m.SetFeedState("bin", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.feedMessages.WithLabelValues("bin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookResyncs.WithLabelValues("ETHUSDT")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.omsSubmits.WithLabelValues("sim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedState.WithLabelValues("bin")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tradecore_feed_messages_total"))
}
