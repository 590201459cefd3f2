package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	// registering twice is tolerated
	require.NoError(t, Register(reg))

	RecordUpload("image", OutcomeUploaded)
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["wacompose_media_uploads_total"])
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(Uploads.WithLabelValues("video", OutcomeCached))
	RecordUpload("video", OutcomeCached)
	assert.Equal(t, before+1, testutil.ToFloat64(Uploads.WithLabelValues("video", OutcomeCached)))

	before = testutil.ToFloat64(UploadCacheLookups.WithLabelValues("memory", "hit"))
	RecordCacheLookup("memory", "hit")
	assert.Equal(t, before+1, testutil.ToFloat64(UploadCacheLookups.WithLabelValues("memory", "hit")))

	before = testutil.ToFloat64(ConnRefreshes.WithLabelValues("ok"))
	RecordConnRefresh("ok")
	assert.Equal(t, before+1, testutil.ToFloat64(ConnRefreshes.WithLabelValues("ok")))

	before = testutil.ToFloat64(ReconcilerUpdates.WithLabelValues("append", "inserted"))
	RecordReconcile("append", "inserted")
	assert.Equal(t, before+1, testutil.ToFloat64(ReconcilerUpdates.WithLabelValues("append", "inserted")))

	before = testutil.ToFloat64(ReceiptsMerged.WithLabelValues("stale"))
	RecordReceipt("stale")
	assert.Equal(t, before+1, testutil.ToFloat64(ReceiptsMerged.WithLabelValues("stale")))

	ObserveUploadDuration("audio", 150*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(UploadDuration, "wacompose_media_upload_duration_seconds"), 1)
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("POST", "/v1/receipts", "200"))
	RecordHTTPRequest("POST", "/v1/receipts", 200, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequests.WithLabelValues("POST", "/v1/receipts", "200")))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(HTTPRequestDuration, "wacompose_http_request_duration_seconds"), 1)
}
