// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJobOutcome(t *testing.T) {
	before := testutil.ToFloat64(JobsProcessedTotal.WithLabelValues("done"))
	RecordJobOutcome("done")
	RecordJobOutcome("")
	assert.Equal(t, before+1, testutil.ToFloat64(JobsProcessedTotal.WithLabelValues("done")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(JobsProcessedTotal.WithLabelValues("unknown")), 1.0)
}

func TestObserveStage(t *testing.T) {
	ObserveStage("transcription", 1500*time.Millisecond)

	var m dto.Metric
	h, err := StageDurationSeconds.GetMetricWithLabelValues("transcription")
	require.NoError(t, err)
	require.NoError(t, h.(interface{ Write(*dto.Metric) error }).Write(&m))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleCount(), uint64(1))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleSum(), 1.5)
}

func TestUploadAndBusCounters(t *testing.T) {
	RecordUpload("accepted")
	IncBusDrop("send_failed")
	RecordAnalysisAttempt("ok")

	assert.GreaterOrEqual(t, testutil.ToFloat64(UploadsTotal.WithLabelValues("accepted")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(BusDroppedTotal.WithLabelValues("send_failed")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(AnalysisAttemptsTotal.WithLabelValues("ok")), 1.0)
}

func TestQueueDepthGauge(t *testing.T) {
	QueueDepth.Set(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(QueueDepth))
	QueueDepth.Set(0)
}
