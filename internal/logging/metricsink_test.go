package logging

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestMetricCore_QueuesEntriesWithFields(t *testing.T) {
	sender := newMetricSender("http://collector.test/", "", "lmnp-workflow")
	logger := teeMetricSink(zap.NewNop(), sender, zapcore.InfoLevel)

	logger.With(zap.String("lot_id", "L1")).Info("step transitioned", zap.String("status", "completed"))
	logger.Debug("ignored below level")

	require.Len(t, sender.ch, 1)
	payload := <-sender.ch
	assert.Equal(t, "lmnp-workflow", payload.Source)
	assert.Equal(t, "info", payload.Level)
	assert.Equal(t, "step transitioned", payload.Message)
	assert.Equal(t, "L1", payload.Metadata["lot_id"])
	assert.Equal(t, "completed", payload.Metadata["status"])
	assert.Equal(t, "http://collector.test", sender.baseURL)
}

func TestMetricCore_DropsWhenQueueFull(t *testing.T) {
	sender := newMetricSender("http://collector.test", "", "svc")
	sender.ch = make(chan metricPayload, 1)
	logger := teeMetricSink(zap.NewNop(), sender, zapcore.InfoLevel)

	logger.Info("first")
	logger.Info("second")

	require.Len(t, sender.ch, 1)
	assert.Equal(t, "first", (<-sender.ch).Message)
}

func TestMetricSender_PostsToCollector(t *testing.T) {
	received := make(chan metricPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/logs", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var p metricPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := newMetricSender(srv.URL, "key", "svc")
	sender.post(metricPayload{Source: "svc", Level: "warn", Message: "no recipients"})

	select {
	case p := <-received:
		assert.Equal(t, "no recipients", p.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not receive payload")
	}
}

func TestAttachMetricSink_DisabledWithoutURL(t *testing.T) {
	t.Setenv("METRIC_SERVICE_BASE_URL", "")
	logger := zap.NewNop()
	assert.Same(t, logger, attachMetricSink(logger, "svc"))
}
