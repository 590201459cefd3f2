package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"wacompose/internal/constants"
	"wacompose/internal/errors"
	"wacompose/internal/events"
	"wacompose/internal/middleware"
	"wacompose/internal/models"
	"wacompose/internal/service"
	"wacompose/internal/tracing"
	"wacompose/internal/validation"
	"wacompose/internal/versioning"
	"wacompose/pkg/whatsapp/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const eventWriteTimeout = 10 * time.Second

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg        models.ServerConfig
	router     *mux.Router
	logger     *logrus.Logger
	messages   *service.MessageService
	reconciler *service.Reconciler
	bus        *events.Bus
	health     HealthChecker
	gatherer   prometheus.Gatherer
	verbose    bool
	server     *http.Server
}

func NewServer(cfg models.ServerConfig, messages *service.MessageService, reconciler *service.Reconciler, bus *events.Bus, health HealthChecker, gatherer prometheus.Gatherer, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		cfg:        cfg,
		router:     mux.NewRouter(),
		logger:     logger,
		messages:   messages,
		reconciler: reconciler,
		bus:        bus,
		health:     health,
		gatherer:   gatherer,
		verbose:    verbose,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(versioning.NewVersionMiddleware(s.logger).VersionHandler)

	api.HandleFunc("/chats/{jid}/messages", s.handleMessage(true)).Methods(http.MethodPost)
	api.HandleFunc("/chats/{jid}/generate", s.handleMessage(false)).Methods(http.MethodPost)
	api.HandleFunc("/chats/{jid}/messages", s.handleHistory()).Methods(http.MethodGet)
	api.HandleFunc("/updates/{type}", s.handleUpdates()).Methods(http.MethodPost)
	api.HandleFunc("/receipts", s.handleReceipts()).Methods(http.MethodPost)
	api.Handle("/events", versioning.RequireFeature(versioning.FeatureEventStream)(s.handleEvents())).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Port)
	if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]interface{}{
			"status":  "healthy",
			"version": Version,
		}
		if s.health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.health.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "unhealthy"
				body["database"] = "unreachable"
				s.logger.WithError(err).Warn("Health check failed")
			} else {
				body["database"] = "ok"
			}
		}
		s.writeJSON(w, status, body)
	}
}

// messageRequest is the body of the generate and send endpoints
type messageRequest struct {
	Content *types.Content             `json:"content"`
	Options *service.GenerationOptions `json:"options,omitempty"`
	// GroupMetadata lets the caller supply participants for mention checks
	GroupMetadata *types.GroupMetadataParticipants `json:"groupMetadata,omitempty"`
}

func (m *messageRequest) options() *service.GenerationOptions {
	opts := m.Options
	if opts == nil {
		opts = &service.GenerationOptions{}
	}
	if meta := m.GroupMetadata; meta != nil {
		opts.CachedGroupMetadata = func(context.Context, string) (*types.GroupMetadataParticipants, error) {
			return meta, nil
		}
	}
	return opts
}

func (s *Server) handleMessage(send bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := service.WithVerbose(r.Context(), s.verbose)
		jid := mux.Vars(r)["jid"]
		if err := validation.ValidateChatJID(jid); err != nil {
			s.writeError(w, r, err)
			return
		}

		req, err := s.decodeMessageRequest(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		var generated *service.Generated
		status := http.StatusOK
		if send {
			generated, err = s.messages.SendMessage(ctx, jid, req.Content, req.options())
			status = http.StatusCreated
		} else {
			generated, err = s.messages.GenerateMessage(ctx, jid, req.Content, req.options())
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, status, generated)
	}
}

// decodeMessageRequest reads a JSON body, or a multipart body whose
// "request" part holds the JSON and whose optional "media" part is streamed
// into the media variant
func (s *Server) decodeMessageRequest(w http.ResponseWriter, r *http.Request) (*messageRequest, error) {
	if err := validation.ValidateHTTPRequestSize(r, s.maxBodyBytes()); err != nil {
		return nil, err
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())

	var req messageRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := decodeJSON(r.Body, &req); err != nil {
			return nil, err
		}
		if req.Content == nil {
			return nil, errors.NewInvalidContentError("content", "content is required")
		}
		return &req, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errors.NewInvalidContentError("body", "malformed multipart body")
	}
	part, err := mr.NextPart()
	if err != nil || part.FormName() != "request" {
		return nil, errors.NewInvalidContentError("body", `first part must be the "request" JSON`)
	}
	if err := decodeJSON(part, &req); err != nil {
		return nil, err
	}
	if req.Content == nil {
		return nil, errors.NewInvalidContentError("content", "content is required")
	}

	media, err := mr.NextPart()
	if err == io.EOF {
		return &req, nil
	}
	if err != nil || media.FormName() != "media" {
		return nil, errors.NewInvalidContentError("body", `second part must be "media"`)
	}
	slot := req.Content.MediaSource()
	if slot == nil {
		return nil, errors.NewInvalidContentError("media", "media part given for a message without media")
	}
	slot.Stream = media
	if ct := media.Header.Get("Content-Type"); req.Content.Mimetype == nil && ct != "" && ct != "application/octet-stream" {
		req.Content.Mimetype = &ct
	}
	if name := media.FileName(); req.Content.Document != nil && req.Content.FileName == nil && name != "" {
		req.Content.FileName = &name
	}
	return &req, nil
}

type historyPage struct {
	Messages []*types.WebMessageInfo `json:"messages"`
	Count    int                     `json:"count"`
	// Oldest and Newest are the keys to pass back as before/after cursors
	Oldest *types.MessageKey `json:"oldest,omitempty"`
	Newest *types.MessageKey `json:"newest,omitempty"`
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := service.WithVerbose(r.Context(), s.verbose)
		jid := mux.Vars(r)["jid"]
		if err := validation.ValidateChatJID(jid); err != nil {
			s.writeError(w, r, err)
			return
		}

		cursor, limit, err := parseHistoryQuery(jid, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		it, err := s.reconciler.Messages(ctx, jid, cursor, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		messages, err := types.Collect(it)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		page := historyPage{Messages: messages, Count: len(messages)}
		if page.Messages == nil {
			page.Messages = []*types.WebMessageInfo{}
		}
		if n := len(messages); n > 0 {
			page.Oldest = &messages[0].Key
			page.Newest = &messages[n-1].Key
		}
		s.writeJSON(w, http.StatusOK, page)
	}
}

// parseHistoryQuery reads ?before=|after=<id>&fromMe=&participant=&limit=.
// Without a key, ?from=oldest reads forward from the start of the chat.
func parseHistoryQuery(jid string, r *http.Request) (types.Cursor, int, error) {
	q := r.URL.Query()
	limit, err := validation.ParseHistoryLimit(q.Get("limit"))
	if err != nil {
		return types.Cursor{}, 0, err
	}

	before, after := q.Get("before"), q.Get("after")
	if before != "" && after != "" {
		return types.Cursor{}, 0, errors.NewInvalidContentError("cursor", "before and after are mutually exclusive")
	}
	if before == "" && after == "" {
		if q.Get("from") == "oldest" {
			return types.After(nil), limit, nil
		}
		return types.Before(nil), limit, nil
	}

	key := &types.MessageKey{RemoteJID: jid, ID: before + after}
	if raw := q.Get("fromMe"); raw != "" {
		fromMe, err := strconv.ParseBool(raw)
		if err != nil {
			return types.Cursor{}, 0, errors.NewInvalidContentError("fromMe", "fromMe must be a boolean")
		}
		key.FromMe = fromMe
	}
	if p := q.Get("participant"); p != "" {
		key.Participant = &p
	}
	if err := validation.ValidateMessageKey(*key); err != nil {
		return types.Cursor{}, 0, err
	}

	if after != "" {
		return types.After(key), limit, nil
	}
	return types.Before(key), limit, nil
}

// itemError is the per-item failure of a batch request
type itemError struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func newItemError(err error) *itemError {
	return &itemError{Code: errors.GetCode(err), Message: errors.GetUserMessage(err)}
}

type updateResult struct {
	Key     types.MessageKey      `json:"key"`
	Outcome service.UpdateOutcome `json:"outcome,omitempty"`
	Error   *itemError            `json:"error,omitempty"`
}

type receiptResult struct {
	Key     types.MessageKey       `json:"key"`
	UserJID string                 `json:"userJid"`
	Outcome service.ReceiptOutcome `json:"outcome,omitempty"`
	Error   *itemError             `json:"error,omitempty"`
}

func (s *Server) handleUpdates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := service.WithVerbose(r.Context(), s.verbose)
		updateType, err := types.ParseMessageUpdateType(mux.Vars(r)["type"])
		if err != nil {
			s.writeError(w, r, errors.NewInvalidContentError("type", err.Error()))
			return
		}

		var updates []types.MessageUpdate
		if err := s.decodeBatch(w, r, &updates); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateBatchSize(len(updates)); err != nil {
			s.writeError(w, r, err)
			return
		}

		results := make([]updateResult, len(updates))
		for i, update := range updates {
			results[i].Key = update.Key
			outcome, err := s.reconciler.Apply(ctx, updateType, update)
			if err != nil {
				results[i].Error = newItemError(err)
				continue
			}
			results[i].Outcome = outcome
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
	}
}

func (s *Server) handleReceipts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := service.WithVerbose(r.Context(), s.verbose)

		var receipts []types.MessageUserReceiptUpdate
		if err := s.decodeBatch(w, r, &receipts); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateBatchSize(len(receipts)); err != nil {
			s.writeError(w, r, err)
			return
		}

		results := make([]receiptResult, len(receipts))
		for i, receipt := range receipts {
			results[i].Key = receipt.Key
			results[i].UserJID = receipt.Receipt.UserJID
			outcome, err := s.reconciler.ApplyReceipt(ctx, receipt)
			if err != nil {
				results[i].Error = newItemError(err)
				continue
			}
			results[i].Outcome = outcome
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
	}
}

// handleEvents streams bus events as JSON text frames. ?jid= narrows the
// stream to one chat. The connection ends when the client goes away or the
// bus closes.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jid := r.URL.Query().Get("jid")
		if jid != "" {
			if err := validation.ValidateChatJID(jid); err != nil {
				s.writeError(w, r, err)
				return
			}
		}

		// the server write timeout must not end long-lived streams
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})
		_ = rc.SetReadDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
		if err != nil {
			s.logger.WithError(err).Warn("Websocket upgrade failed")
			return
		}
		defer conn.CloseNow()

		sub := s.bus.Subscribe(jid, constants.DefaultEventBuffer)
		defer s.bus.Unsubscribe(sub)

		log := service.LogWithContext(r.Context(), s.logger)
		log.Debug("Event stream opened")

		// the stream is write-only; CloseRead handles control frames
		ctx := conn.CloseRead(r.Context())
		for {
			select {
			case <-ctx.Done():
				log.WithField("dropped", sub.Dropped()).Debug("Event stream closed by client")
				return
			case ev, ok := <-sub.Events():
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
				err := wsjson.Write(writeCtx, conn, ev)
				cancel()
				if err != nil {
					log.WithError(err).Debug("Event stream write failed")
					return
				}
			}
		}
	}
}

func (s *Server) maxBodyBytes() int64 {
	return int64(s.cfg.MaxBodyMB) * constants.BytesPerMegabyte
}

func (s *Server) decodeBatch(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, s.maxBodyBytes()); err != nil {
		return err
	}
	return decodeJSON(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()), v)
}

func decodeJSON(body io.Reader, v interface{}) error {
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewInvalidContentError("body", "request body too large")
		}
		return errors.NewInvalidContentError("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	requestID := tracing.RequestID(r.Context())
	fields := logrus.Fields{
		service.LogFieldRequestID:  requestID,
		service.LogFieldErrorCode:  errors.GetCode(err),
		service.LogFieldStatusCode: status,
	}
	if status >= http.StatusInternalServerError {
		errors.WrapLogger(s.logger).LogError(err, "API request failed", fields)
	} else {
		s.logger.WithFields(fields).WithError(err).Debug("API request rejected")
	}
	s.writeJSON(w, status, errors.ToHTTPResponse(err, requestID))
}
