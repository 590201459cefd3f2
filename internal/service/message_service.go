package service

import (
	"context"
	"fmt"
	"time"

	"wacompose/internal/errors"
	"wacompose/internal/metrics"
	"wacompose/internal/tracing"
	"wacompose/pkg/media"
	"wacompose/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Relay hands a generated message to the transport
type Relay interface {
	Relay(ctx context.Context, jid string, info *types.WebMessageInfo) error
}

// MediaUploader turns pending media into hosted media
type MediaUploader interface {
	Upload(ctx context.Context, upload *types.MediaUpload, mediaType types.MediaType, timeout time.Duration) (*media.Uploaded, error)
}

// LinkPreviewer looks up preview metadata for the first link in a text
type LinkPreviewer interface {
	Resolve(ctx context.Context, text string) *types.URLInfo
}

// Generated is a message ready for the transport plus the composition
// conflicts that were resolved along the way
type Generated struct {
	Info     *types.WebMessageInfo `json:"message"`
	Warnings []Warning             `json:"warnings,omitempty"`
}

// MessageService generates outgoing messages and sends them
type MessageService struct {
	defaults   Defaults
	uploader   MediaUploader
	previewer  LinkPreviewer
	relay      Relay
	reconciler *Reconciler
	logger     *logrus.Logger
	now        func() time.Time
}

// NewMessageService wires the service. previewer, relay and reconciler may
// be nil; SendMessage needs relay.
func NewMessageService(defaults Defaults, uploader MediaUploader, previewer LinkPreviewer, relay Relay, reconciler *Reconciler, logger *logrus.Logger) *MessageService {
	return &MessageService{
		defaults:   defaults,
		uploader:   uploader,
		previewer:  previewer,
		relay:      relay,
		reconciler: reconciler,
		logger:     logger,
		now:        time.Now,
	}
}

// GenerateMessage composes content for chat jid, uploads its media and
// wraps it in a pending envelope
func (s *MessageService) GenerateMessage(ctx context.Context, jid string, content *types.Content, opts *GenerationOptions) (*Generated, error) {
	ctx, span := tracing.StartSpan(ctx, "service.GenerateMessage")
	defer span.End()

	generated, err := s.generate(ctx, jid, content, opts)
	if err != nil {
		tracing.RecordError(ctx, err)
		metrics.CompositionFailures.WithLabelValues(string(errors.GetCode(err))).Inc()
		return nil, err
	}
	return generated, nil
}

func (s *MessageService) generate(ctx context.Context, jid string, content *types.Content, opts *GenerationOptions) (*Generated, error) {
	if !types.IsUserJID(jid) && !types.IsGroupJID(jid) {
		return nil, errors.NewInvalidContentError("jid", fmt.Sprintf("invalid chat jid %q", jid))
	}
	if content == nil {
		return nil, errors.NewInvalidContentError("content", "content is required")
	}

	resolved, err := ResolveOptions(s.defaults, opts, s.now())
	if err != nil {
		return nil, err
	}

	c := *content
	if c.Text != nil && c.LinkPreview == nil && s.previewer != nil {
		c.LinkPreview = s.previewer.Resolve(ctx, *c.Text)
	}

	msg, warnings, err := ComposeContent(&c, resolved.Timestamp)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, attribute.String("content_type", string(msg.Type)))

	log := LogWithContext(ctx, s.logger).WithFields(chatFields(ctx, jid, nil))
	for _, w := range warnings {
		metrics.CompositionWarnings.WithLabelValues(string(w.Code)).Inc()
		log.WithField(LogFieldWarning, w.Code).Warn(w.Message)
	}

	if err := s.checkMentions(ctx, jid, msg, resolved); err != nil {
		return nil, err
	}
	// forwarded media is already hosted and has nothing to upload
	if m := msg.Media(); m != nil && (m.Source != nil || !m.IsHosted()) {
		if err := s.hostMedia(ctx, msg, resolved); err != nil {
			return nil, err
		}
	}
	if resolved.Quoted != nil {
		applyQuoted(msg, jid, resolved)
	}
	if resolved.EphemeralExpiration != nil && !msg.Type.IsProtocol() {
		expiration := *resolved.EphemeralExpiration
		msg.EnsureContextInfo().Expiration = &expiration
	}

	info := &types.WebMessageInfo{
		Key: types.MessageKey{
			RemoteJID: jid,
			FromMe:    true,
			ID:        resolved.MessageID,
		},
		Message:          msg,
		MessageTimestamp: resolved.Timestamp.Unix(),
		Status:           types.StatusPending,
	}
	if types.IsGroupJID(jid) {
		participant := resolved.UserJID
		info.Participant = &participant
	}
	if err := msg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "generated message is malformed")
	}

	metrics.MessagesGenerated.WithLabelValues(string(msg.Type)).Inc()
	log.WithFields(chatFields(ctx, jid, &info.Key)).WithField(LogFieldContentType, msg.Type).Info("Generated message")

	return &Generated{Info: info, Warnings: warnings}, nil
}

// checkMentions rejects mentions of non-members in group chats. Unavailable
// group metadata skips the check.
func (s *MessageService) checkMentions(ctx context.Context, jid string, msg *types.Message, resolved *ResolvedOptions) error {
	if !types.IsGroupJID(jid) || len(msg.Mentions) == 0 {
		return nil
	}
	for _, m := range msg.Mentions {
		if !types.IsUserJID(m) {
			return errors.NewInvalidContentError("mentions", fmt.Sprintf("mention %q is not a user jid", m))
		}
	}

	participants, ok := resolved.GroupParticipants(ctx, jid)
	if !ok {
		LogWithContext(ctx, s.logger).WithFields(chatFields(ctx, jid, nil)).
			Warn("Skipping mention validation: group metadata unavailable")
		return nil
	}
	for _, m := range msg.Mentions {
		if !participants.HasParticipant(m) {
			return errors.NewInvalidContentError("mentions", "mentioned user is not a group participant")
		}
	}
	return nil
}

func (s *MessageService) hostMedia(ctx context.Context, msg *types.Message, resolved *ResolvedOptions) error {
	info := msg.Media()
	if s.uploader == nil {
		return errors.New(errors.ErrCodeInternalError, "no media uploader configured")
	}

	uploaded, err := s.uploader.Upload(ctx, info.Source, msg.Type.MediaType(), resolved.MediaUploadTimeout)
	if err != nil {
		return err
	}

	url, directPath := uploaded.MediaURL, uploaded.DirectPath
	length := uploaded.FileLength
	keyTimestamp := resolved.Timestamp.Unix()
	info.URL = &url
	info.DirectPath = &directPath
	info.FileSHA256 = uploaded.FileSHA256
	info.FileLength = &length
	info.MediaKeyTimestamp = &keyTimestamp
	info.Source = nil
	return nil
}

// applyQuoted points the message's context info at the quoted message
func applyQuoted(msg *types.Message, jid string, resolved *ResolvedOptions) {
	quoted := resolved.Quoted
	ci := msg.EnsureContextInfo()

	id := quoted.Key.ID
	ci.StanzaID = &id

	var participant string
	switch {
	case quoted.Key.FromMe:
		participant = types.NormalizeUserJID(resolved.UserJID)
	case quoted.Key.Participant != nil:
		participant = *quoted.Key.Participant
	case quoted.Participant != nil:
		participant = *quoted.Participant
	default:
		participant = quoted.Key.RemoteJID
	}
	ci.Participant = &participant

	if quoted.Message != nil {
		ci.QuotedMessage = cloneMessage(quoted.Message)
		ci.QuotedMessage.ContextInfo = nil
	}
	if quoted.Key.RemoteJID != "" && quoted.Key.RemoteJID != jid {
		remote := quoted.Key.RemoteJID
		ci.RemoteJID = &remote
	}
}

// SendMessage generates a message, relays it and records it in the history
func (s *MessageService) SendMessage(ctx context.Context, jid string, content *types.Content, opts *GenerationOptions) (*Generated, error) {
	if s.relay == nil {
		return nil, errors.New(errors.ErrCodeInternalError, "no relay configured")
	}

	generated, err := s.GenerateMessage(ctx, jid, content, opts)
	if err != nil {
		return nil, err
	}
	info := generated.Info

	ctx, span := tracing.StartSpan(ctx, "service.Relay")
	defer span.End()
	if err := s.relay.Relay(ctx, jid, info); err != nil {
		relayErr := errors.NewRelayError(info.Key.ID, err)
		tracing.RecordError(ctx, relayErr)
		metrics.CompositionFailures.WithLabelValues(string(errors.ErrCodeRelay)).Inc()
		return nil, relayErr
	}

	if s.reconciler != nil {
		if _, err := s.reconciler.Append(ctx, info); err != nil {
			errors.WrapLogger(s.logger).LogError(err, "Failed to record sent message", chatFields(ctx, jid, &info.Key))
		}
	}
	return generated, nil
}

// LogRelay accepts every message and only logs it. Used when no broker is
// configured.
type LogRelay struct {
	logger *logrus.Logger
}

func NewLogRelay(logger *logrus.Logger) *LogRelay {
	return &LogRelay{logger: logger}
}

func (r *LogRelay) Relay(ctx context.Context, jid string, info *types.WebMessageInfo) error {
	LogWithContext(ctx, r.logger).WithFields(chatFields(ctx, jid, &info.Key)).
		WithField(LogFieldContentType, info.Message.Type).
		Info("Relayed message")
	return nil
}
