package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wacompose/internal/database"
	"wacompose/internal/errors"
	"wacompose/internal/events"
	"wacompose/internal/metrics"
	"wacompose/internal/models"
	"wacompose/internal/service"
	"wacompose/internal/versioning"
	"wacompose/pkg/media"
	"wacompose/pkg/whatsapp/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChat  = "111@s.whatsapp.net"
	testGroup = "123-456@g.us"
	testUser  = "999@s.whatsapp.net"
)

type recordingRelay struct {
	mu   sync.Mutex
	sent []*types.WebMessageInfo
	err  error
}

func (r *recordingRelay) Relay(_ context.Context, _ string, info *types.WebMessageInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, info)
	return nil
}

// streamUploader drains the pending media and reports it hosted
type streamUploader struct {
	mu       sync.Mutex
	received []byte
}

func (u *streamUploader) Upload(_ context.Context, upload *types.MediaUpload, _ types.MediaType, _ time.Duration) (*media.Uploaded, error) {
	var r io.Reader = bytes.NewReader(upload.Data)
	if upload.Stream != nil {
		r = upload.Stream
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.received = data
	u.mu.Unlock()
	return &media.Uploaded{
		UploadResult: types.UploadResult{MediaURL: "https://mmg.example.net/m/1", DirectPath: "/m/1"},
		FileSHA256:   []byte{1},
		FileLength:   uint64(len(data)),
	}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return assert.AnError }

type testServer struct {
	*Server
	relay    *recordingRelay
	uploader *streamUploader
	bus      *events.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := database.New(context.Background(), models.DatabaseConfig{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewBus(logger)
	t.Cleanup(bus.Close)

	relay := &recordingRelay{}
	uploader := &streamUploader{}
	reconciler := service.NewReconciler(db, bus, logger)
	messages := service.NewMessageService(service.Defaults{UserJID: testUser, MediaUploadTimeout: time.Second}, uploader, nil, relay, reconciler, logger)

	registry := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(registry))

	cfg := models.ServerConfig{MaxBodyMB: 1}
	return &testServer{
		Server:   NewServer(cfg, messages, reconciler, bus, db, registry, logger, false),
		relay:    relay,
		uploader: uploader,
		bus:      bus,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type generatedResponse struct {
	Message  types.WebMessageInfo `json:"message"`
	Warnings []service.Warning    `json:"warnings"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["database"])

	s.health = failingPinger{}
	w = s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleMetrics(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/health", "")

	w := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wacompose_http_requests_total")
}

func TestHandleGenerate(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/chats/"+testChat+"/generate", `{"content": {"text": "hello"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[generatedResponse](t, w)
	assert.Equal(t, testChat, got.Message.Key.RemoteJID)
	assert.True(t, got.Message.Key.FromMe)
	assert.True(t, strings.HasPrefix(got.Message.Key.ID, "3EB0"))
	assert.Equal(t, "hello", got.Message.Message.Text.Text)
	assert.Equal(t, types.StatusPending, got.Message.Status)
	assert.Empty(t, s.relay.sent)
	assert.Equal(t, versioning.CurrentVersion.String(), w.Header().Get(versioning.CurrentVersionHeader))
}

func TestHandleGenerate_Warnings(t *testing.T) {
	s := newTestServer(t)
	body := `{"content": {
		"text": "pick",
		"buttons": [{"buttonId": "a", "buttonText": "A"}],
		"templateButtons": [{"index": 1, "quickReplyButton": {"displayText": "B", "id": "b"}}]
	}}`
	w := s.do(t, http.MethodPost, "/v1/chats/"+testChat+"/generate", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[generatedResponse](t, w)
	require.Len(t, got.Warnings, 1)
	assert.Equal(t, service.WarningButtonsOverridden, got.Warnings[0].Code)
}

func TestHandleGenerate_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   errors.ErrorCode
	}{
		{"bad jid", "/v1/chats/nobody/generate", `{"content": {"text": "x"}}`, http.StatusBadRequest, errors.ErrCodeInvalidContent},
		{"malformed json", "/v1/chats/" + testChat + "/generate", `{"content":`, http.StatusBadRequest, errors.ErrCodeInvalidContent},
		{"missing content", "/v1/chats/" + testChat + "/generate", `{}`, http.StatusBadRequest, errors.ErrCodeInvalidContent},
		{"two variants", "/v1/chats/" + testChat + "/generate", `{"content": {"text": "x", "location": {"degreesLatitude": 1, "degreesLongitude": 2}}}`, http.StatusBadRequest, errors.ErrCodeInvalidContent},
		{"too large", "/v1/chats/" + testChat + "/generate", `{"content": {"text": "` + strings.Repeat("a", 2<<20) + `"}}`, http.StatusBadRequest, errors.ErrCodeInvalidContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			resp := decode[errors.HTTPErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestHandleGenerate_GroupMetadata(t *testing.T) {
	s := newTestServer(t)
	body := `{
		"content": {"text": "hi @2", "mentions": ["2@s.whatsapp.net"]},
		"groupMetadata": {"participants": [{"id": "1@s.whatsapp.net"}]}
	}`
	w := s.do(t, http.MethodPost, "/v1/chats/"+testGroup+"/generate", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = strings.Replace(body, `"1@s.whatsapp.net"`, `"2@s.whatsapp.net"`, 1)
	w = s.do(t, http.MethodPost, "/v1/chats/"+testGroup+"/generate", body)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHandleSend_RecordsHistory(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/chats/"+testChat+"/messages", `{"content": {"text": "sent"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, s.relay.sent, 1)

	w = s.do(t, http.MethodGet, "/v1/chats/"+testChat+"/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[historyPage](t, w)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, "sent", page.Messages[0].Message.Text.Text)
	assert.Equal(t, s.relay.sent[0].Key.ID, page.Newest.ID)
}

func TestHandleSend_RelayFailure(t *testing.T) {
	s := newTestServer(t)
	s.relay.err = assert.AnError

	w := s.do(t, http.MethodPost, "/v1/chats/"+testChat+"/messages", `{"content": {"text": "lost"}}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, errors.ErrCodeRelay, decode[errors.HTTPErrorResponse](t, w).Error.Code)
}

func TestHandleGenerate_MultipartMedia(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	reqPart, err := mw.CreateFormField("request")
	require.NoError(t, err)
	_, _ = io.WriteString(reqPart, `{"content": {"document": {}}}`)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="media"; filename="report.csv"`)
	header.Set("Content-Type", "text/csv")
	mediaPart, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, _ = io.WriteString(mediaPart, "a,b\n1,2\n")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/chats/"+testChat+"/generate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[generatedResponse](t, w)
	doc := got.Message.Message.Document
	require.NotNil(t, doc)
	assert.Equal(t, "text/csv", doc.Mimetype)
	assert.Equal(t, "report.csv", *doc.FileName)
	assert.Equal(t, "/m/1", *doc.DirectPath)
	assert.Equal(t, "a,b\n1,2\n", string(s.uploader.received))
}

func TestHandleGenerate_MultipartErrors(t *testing.T) {
	s := newTestServer(t)

	build := func(first, firstBody, second string) *http.Request {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		p, _ := mw.CreateFormField(first)
		_, _ = io.WriteString(p, firstBody)
		if second != "" {
			p, _ = mw.CreateFormField(second)
			_, _ = io.WriteString(p, "data")
		}
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/v1/chats/"+testChat+"/generate", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req
	}

	for name, req := range map[string]*http.Request{
		"wrong first part":  build("media", `{}`, ""),
		"wrong second part": build("request", `{"content": {"image": {}}}`, "extra"),
		"media for text":    build("request", `{"content": {"text": "x"}}`, "media"),
		"missing content":   build("request", `{}`, ""),
		"malformed request": build("request", `{`, ""),
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestHandleUpdatesAndHistory(t *testing.T) {
	s := newTestServer(t)

	updates := `[
		{"key": {"remoteJid": "` + testChat + `", "id": "A"}, "update": {"message": {"type": "text", "text": {"text": "one"}}, "messageTimestamp": 1}},
		{"key": {"remoteJid": "` + testChat + `", "id": "B"}, "update": {"message": {"type": "text", "text": {"text": "two"}}, "messageTimestamp": 2}},
		{"key": {"remoteJid": "` + testChat + `", "id": "C"}, "update": {"message": {"type": "text", "text": {"text": "three"}}, "messageTimestamp": 3}},
		{"key": {"remoteJid": "` + testChat + `", "id": "A"}, "update": {"message": {"type": "text", "text": {"text": "dup"}}}},
		{"key": {"remoteJid": "", "id": "X"}, "update": {}}
	]`
	w := s.do(t, http.MethodPost, "/v1/updates/append", updates)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	results := decode[struct {
		Results []updateResult `json:"results"`
	}](t, w).Results
	require.Len(t, results, 5)
	assert.Equal(t, service.OutcomeInserted, results[0].Outcome)
	assert.Equal(t, service.OutcomeDuplicate, results[3].Outcome)
	require.NotNil(t, results[4].Error)
	assert.Equal(t, errors.ErrCodeInvalidContent, results[4].Error.Code)

	texts := func(page historyPage) []string {
		var out []string
		for _, m := range page.Messages {
			out = append(out, m.Message.Text.Text)
		}
		return out
	}

	w = s.do(t, http.MethodGet, "/v1/chats/"+testChat+"/messages?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[historyPage](t, w)
	assert.Equal(t, []string{"two", "three"}, texts(page))
	assert.Equal(t, "B", page.Oldest.ID)

	w = s.do(t, http.MethodGet, "/v1/chats/"+testChat+"/messages?before=B", "")
	assert.Equal(t, []string{"one"}, texts(decode[historyPage](t, w)))

	w = s.do(t, http.MethodGet, "/v1/chats/"+testChat+"/messages?after=A&limit=1", "")
	assert.Equal(t, []string{"two"}, texts(decode[historyPage](t, w)))

	w = s.do(t, http.MethodGet, "/v1/chats/"+testChat+"/messages?from=oldest&limit=1", "")
	assert.Equal(t, []string{"one"}, texts(decode[historyPage](t, w)))

	w = s.do(t, http.MethodGet, "/v1/chats/222@s.whatsapp.net/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[historyPage](t, w).Count)
	assert.Contains(t, w.Body.String(), `"messages":[]`)
}

func TestHandleHistory_InvalidQuery(t *testing.T) {
	s := newTestServer(t)

	tests := map[string]int{
		"?before=A&after=B":  http.StatusBadRequest,
		"?limit=zero":        http.StatusBadRequest,
		"?limit=0":           http.StatusBadRequest,
		"?before=A&fromMe=x": http.StatusBadRequest,
		"?before=missing":    http.StatusNotFound,
	}
	for query, status := range tests {
		t.Run(query, func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/v1/chats/"+testChat+"/messages"+query, "")
			assert.Equal(t, status, w.Code, w.Body.String())
		})
	}
}

func TestHandleUpdates_Errors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/updates/upsert", `[]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/updates/append", `[]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/updates/notify", `{"not": "an array"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleReceipts(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/updates/append",
		`[{"key": {"remoteJid": "`+testChat+`", "id": "A"}, "update": {"message": {"type": "text", "text": {"text": "one"}}}}]`)
	require.Equal(t, http.StatusOK, w.Code)

	receipts := `[
		{"key": {"remoteJid": "` + testChat + `", "id": "A"}, "receipt": {"userJid": "` + testChat + `", "readTimestamp": 20}},
		{"key": {"remoteJid": "` + testChat + `", "id": "A"}, "receipt": {"userJid": "` + testChat + `", "readTimestamp": 10}},
		{"key": {"remoteJid": "` + testChat + `", "id": "Z"}, "receipt": {"userJid": "` + testChat + `", "readTimestamp": 10}}
	]`
	w = s.do(t, http.MethodPost, "/v1/receipts", receipts)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	results := decode[struct {
		Results []receiptResult `json:"results"`
	}](t, w).Results
	require.Len(t, results, 3)
	assert.Equal(t, service.ReceiptApplied, results[0].Outcome)
	assert.Equal(t, service.ReceiptStale, results[1].Outcome)
	assert.Equal(t, service.ReceiptUnknown, results[2].Outcome)
	assert.Equal(t, testChat, results[0].UserJID)
}

func TestVersionHeaders(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/chats/"+testChat+"/messages", nil)
	req.Header.Set(versioning.AcceptVersionHeader, "9.0.0")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set(versioning.AcceptVersionHeader, "1.0.0")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Contains(t, w.Body.String(), "FEATURE_NOT_AVAILABLE")
}

func TestHandleEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?jid=" + testChat
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return s.bus.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	post := func(jid, id string) {
		body := `[{"key": {"remoteJid": "` + jid + `", "id": "` + id + `"}, "update": {"message": {"type": "text", "text": {"text": "x"}}}}]`
		resp, err := http.Post(srv.URL+"/v1/updates/append", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	post("222@s.whatsapp.net", "OTHER")
	post(testChat, "MINE")

	var ev events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, events.KindUpsert, ev.Kind)
	assert.Equal(t, "MINE", ev.Key.ID)
	assert.Equal(t, types.UpdateAppend, ev.UpdateType)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return s.bus.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleEvents_InvalidJID(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/v1/events?jid=nobody", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionDefaults(t *testing.T) {
	d := sessionDefaults(models.SessionConfig{UserJID: testUser, MediaUploadTimeoutMs: 1500})
	assert.Equal(t, testUser, d.UserJID)
	assert.Equal(t, 1500*time.Millisecond, d.MediaUploadTimeout)
	assert.Nil(t, d.EphemeralExpiration)

	d = sessionDefaults(models.SessionConfig{EphemeralExpiration: 86400})
	require.NotNil(t, d.EphemeralExpiration)
	assert.Equal(t, uint32(86400), *d.EphemeralExpiration)
}

func TestNewUploadCache(t *testing.T) {
	db, err := database.New(context.Background(), models.DatabaseConfig{Path: filepath.Join(t.TempDir(), "h.db")})
	require.NoError(t, err)
	defer db.Close()

	tests := []struct {
		backend    string
		wantName   string
		wantPurger bool
	}{
		{models.UploadCacheMemory, models.UploadCacheMemory, true},
		{"", models.UploadCacheMemory, true},
		{models.UploadCacheSQLite, models.UploadCacheSQLite, true},
		{models.UploadCacheNone, models.UploadCacheNone, false},
		{models.UploadCacheRedis, models.UploadCacheRedis, false},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &models.Config{
				Media: models.MediaConfig{UploadCache: tt.backend, UploadCacheTTLSec: 60},
				Redis: models.RedisConfig{Addr: "127.0.0.1:0"},
			}
			cache, purger, closeCache, err := newUploadCache(cfg, db)
			require.NoError(t, err)
			defer closeCache()
			assert.Equal(t, tt.wantName, cache.Name())
			assert.Equal(t, tt.wantPurger, purger != nil)
		})
	}

	_, _, _, err = newUploadCache(&models.Config{Media: models.MediaConfig{UploadCache: models.UploadCacheRedis}}, db)
	assert.Error(t, err)
}

func TestSetupMedia_NoEndpoint(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	uploader, stop, err := setupMedia(context.Background(), &models.Config{}, nil, logger)
	require.NoError(t, err)
	stop()
	assert.Nil(t, uploader)
}
