package service

import (
	"fmt"
	"time"

	"wacompose/internal/constants"
	"wacompose/internal/errors"
	"wacompose/pkg/whatsapp/types"
)

// Default mimetypes applied to media variants that do not name one
var defaultMimetypes = map[types.ContentType]string{
	types.ContentImage:    "image/jpeg",
	types.ContentVideo:    "video/mp4",
	types.ContentAudio:    "audio/ogg; codecs=opus",
	types.ContentSticker:  "image/webp",
	types.ContentDocument: "application/pdf",
}

// DefaultMimetype returns the mimetype used for t when the request has none
func DefaultMimetype(t types.ContentType) string {
	return defaultMimetypes[t]
}

// Trait names an optional bundle that may accompany a primary variant
type Trait string

const (
	TraitMentions        Trait = "mentions"
	TraitButtons         Trait = "buttons"
	TraitTemplateButtons Trait = "templateButtons"
	TraitFooter          Trait = "footer"
	TraitSections        Trait = "sections"
	TraitTitle           Trait = "title"
	TraitButtonText      Trait = "buttonText"
	TraitWidth           Trait = "width"
	TraitHeight          Trait = "height"
	TraitViewOnce        Trait = "viewOnce"
)

var (
	buttonTraits    = []Trait{TraitButtons}
	templateTraits  = []Trait{TraitTemplateButtons, TraitFooter}
	listTraits      = []Trait{TraitSections, TraitTitle, TraitButtonText}
	dimensionTraits = []Trait{TraitWidth, TraitHeight}
)

func traitSet(groups ...[]Trait) map[Trait]bool {
	set := make(map[Trait]bool)
	for _, g := range groups {
		for _, t := range g {
			set[t] = true
		}
	}
	return set
}

// traitCompatibility lists the traits each primary variant accepts.
// Variants missing from the table accept no traits.
var traitCompatibility = map[types.ContentType]map[Trait]bool{
	types.ContentText:        traitSet([]Trait{TraitMentions, TraitViewOnce}, buttonTraits, templateTraits, listTraits),
	types.ContentImage:       traitSet([]Trait{TraitMentions, TraitViewOnce}, buttonTraits, templateTraits, dimensionTraits),
	types.ContentVideo:       traitSet([]Trait{TraitMentions, TraitViewOnce}, buttonTraits, templateTraits, dimensionTraits),
	types.ContentAudio:       traitSet([]Trait{TraitViewOnce}),
	types.ContentSticker:     traitSet([]Trait{TraitViewOnce}, dimensionTraits),
	types.ContentDocument:    traitSet([]Trait{TraitViewOnce}, buttonTraits, templateTraits),
	types.ContentContacts:    traitSet([]Trait{TraitViewOnce}),
	types.ContentLocation:    traitSet([]Trait{TraitViewOnce}),
	types.ContentReaction:    traitSet([]Trait{TraitViewOnce}),
	types.ContentButtonReply: traitSet([]Trait{TraitViewOnce}),
}

// TraitAllowed reports whether trait may accompany variant
func TraitAllowed(variant types.ContentType, trait Trait) bool {
	return traitCompatibility[variant][trait]
}

// presentTraits lists the trait bundles set on c, in a stable order
func presentTraits(c *types.Content) []Trait {
	var out []Trait
	add := func(set bool, t Trait) {
		if set {
			out = append(out, t)
		}
	}
	add(c.Mentions != nil, TraitMentions)
	add(c.Buttons != nil, TraitButtons)
	add(c.TemplateButtons != nil, TraitTemplateButtons)
	add(c.Footer != nil, TraitFooter)
	add(c.Sections != nil, TraitSections)
	add(c.Title != nil, TraitTitle)
	add(c.ButtonText != nil, TraitButtonText)
	add(c.Width != nil, TraitWidth)
	add(c.Height != nil, TraitHeight)
	add(c.ViewOnce != nil, TraitViewOnce)
	return out
}

// WarningCode identifies a non-fatal composition conflict
type WarningCode string

// WarningButtonsOverridden is raised when templateButtons replaces buttons
const WarningButtonsOverridden WarningCode = "BUTTONS_OVERRIDDEN"

// Warning is a documented conflict the composer resolved on its own
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// ComposeContent merges the primary variant of c with its trait bundles into
// a canonical message. Media payloads are left pending on MediaInfo.Source for
// the upload step. now stamps reactions that carry no sender timestamp.
func ComposeContent(c *types.Content, now time.Time) (*types.Message, []Warning, error) {
	if c == nil {
		return nil, nil, errors.NewInvalidContentError("content", "content is required")
	}
	c = withoutEmptyLists(c)

	variants := c.Variants()
	switch len(variants) {
	case 0:
		return nil, nil, errors.NewInvalidContentError("content", "no primary content variant set")
	case 1:
	default:
		return nil, nil, errors.NewInvalidContentError("content",
			fmt.Sprintf("exactly one primary content variant allowed, got %v", variants))
	}
	variant := variants[0]

	for _, trait := range presentTraits(c) {
		if !TraitAllowed(variant, trait) {
			return nil, nil, errors.NewInvalidContentError(string(trait),
				fmt.Sprintf("%s cannot be combined with %s content", trait, variant))
		}
	}

	var warnings []Warning
	buttons := c.Buttons
	if c.Buttons != nil && c.TemplateButtons != nil {
		buttons = nil
		warnings = append(warnings, Warning{
			Code:    WarningButtonsOverridden,
			Message: "templateButtons and buttons both set; buttons dropped",
		})
	}

	if err := validateList(c, buttons); err != nil {
		return nil, nil, err
	}

	msg, err := composeVariant(c, variant, now)
	if err != nil {
		return nil, nil, err
	}
	if variant == types.ContentForward {
		return msg, warnings, nil
	}

	msg.Mentions = c.Mentions
	msg.Buttons = buttons
	msg.TemplateButtons = c.TemplateButtons
	msg.Footer = c.Footer
	msg.Sections = c.Sections
	msg.Title = c.Title
	msg.ButtonText = c.ButtonText
	msg.Width = c.Width
	msg.Height = c.Height
	msg.ViewOnce = c.ViewOnce

	return msg, warnings, nil
}

// withoutEmptyLists returns c with empty list traits cleared, so an explicit
// empty list counts as absent
func withoutEmptyLists(c *types.Content) *types.Content {
	out := *c
	if len(out.Mentions) == 0 {
		out.Mentions = nil
	}
	if len(out.Buttons) == 0 {
		out.Buttons = nil
	}
	if len(out.TemplateButtons) == 0 {
		out.TemplateButtons = nil
	}
	if len(out.Sections) == 0 {
		out.Sections = nil
	}
	return &out
}

func validateList(c *types.Content, buttons []types.Button) error {
	if c.Sections == nil {
		if c.Title != nil || c.ButtonText != nil {
			return errors.NewInvalidContentError("sections", "title and buttonText require sections")
		}
		return nil
	}
	if c.ButtonText == nil {
		return errors.NewInvalidContentError("buttonText", "buttonText is required with sections")
	}
	if buttons != nil || c.TemplateButtons != nil {
		return errors.NewInvalidContentError("sections", "sections cannot be combined with buttons")
	}
	return nil
}

// validateOptions restricts variant options to the variants that define them
func validateOptions(c *types.Content, variant types.ContentType) error {
	check := func(set bool, field string, allowed ...types.ContentType) error {
		if !set {
			return nil
		}
		for _, a := range allowed {
			if a == variant {
				return nil
			}
		}
		return errors.NewInvalidContentError(field, fmt.Sprintf("%s is not valid for %s content", field, variant))
	}
	for _, err := range []error{
		check(c.LinkPreview != nil, "linkPreview", types.ContentText),
		check(c.Caption != nil, "caption", types.ContentImage, types.ContentVideo),
		check(c.JPEGThumbnail != nil, "jpegThumbnail", types.ContentImage, types.ContentVideo),
		check(c.GifPlayback != nil, "gifPlayback", types.ContentVideo),
		check(c.PTT != nil, "ptt", types.ContentAudio),
		check(c.Seconds != nil, "seconds", types.ContentAudio),
		check(c.IsAnimated != nil, "isAnimated", types.ContentSticker),
		check(c.FileName != nil, "fileName", types.ContentDocument),
		check(c.Mimetype != nil, "mimetype", types.ContentImage, types.ContentVideo,
			types.ContentAudio, types.ContentSticker, types.ContentDocument),
		check(c.ButtonReplyType != "", "type", types.ContentButtonReply),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func composeVariant(c *types.Content, variant types.ContentType, now time.Time) (*types.Message, error) {
	if err := validateOptions(c, variant); err != nil {
		return nil, err
	}

	msg := &types.Message{Type: variant}
	switch variant {
	case types.ContentText:
		msg.Text = &types.TextMessage{Text: *c.Text, LinkPreview: c.LinkPreview}

	case types.ContentImage, types.ContentVideo, types.ContentAudio, types.ContentSticker, types.ContentDocument:
		info, err := pendingMedia(c, variant)
		if err != nil {
			return nil, err
		}
		switch variant {
		case types.ContentImage:
			msg.Image = &types.ImageMessage{MediaInfo: info, Caption: c.Caption, JPEGThumbnail: c.JPEGThumbnail}
		case types.ContentVideo:
			msg.Video = &types.VideoMessage{MediaInfo: info, Caption: c.Caption, GifPlayback: c.GifPlayback, JPEGThumbnail: c.JPEGThumbnail}
		case types.ContentAudio:
			msg.Audio = &types.AudioMessage{MediaInfo: info, PTT: c.PTT, Seconds: c.Seconds}
		case types.ContentSticker:
			msg.Sticker = &types.StickerMessage{MediaInfo: info, IsAnimated: c.IsAnimated}
		case types.ContentDocument:
			msg.Document = &types.DocumentMessage{MediaInfo: info, FileName: c.FileName}
		}

	case types.ContentContacts:
		if len(c.Contacts.Contacts) == 0 {
			return nil, errors.NewInvalidContentError("contacts", "at least one contact is required")
		}
		msg.Contacts = &types.ContactsMessage{DisplayName: c.Contacts.DisplayName, Contacts: c.Contacts.Contacts}
		if len(c.Contacts.Contacts) > 1 && c.Contacts.DisplayName == nil {
			name := fmt.Sprintf("%d contacts", len(c.Contacts.Contacts))
			msg.Contacts.DisplayName = &name
		}

	case types.ContentLocation:
		loc := *c.Location
		if loc.DegreesLatitude < -90 || loc.DegreesLatitude > 90 {
			return nil, errors.NewInvalidContentError("location", "degreesLatitude out of range")
		}
		if loc.DegreesLongitude < -180 || loc.DegreesLongitude > 180 {
			return nil, errors.NewInvalidContentError("location", "degreesLongitude out of range")
		}
		msg.Location = &loc

	case types.ContentReaction:
		react := *c.React
		if react.Key.ID == "" || react.Key.RemoteJID == "" {
			return nil, errors.NewInvalidContentError("react", "reaction key needs remoteJid and id")
		}
		if react.SenderTimestampMs == nil {
			ms := now.UnixMilli()
			react.SenderTimestampMs = &ms
		}
		msg.Reaction = &react

	case types.ContentButtonReply:
		replyType := c.ButtonReplyType
		switch replyType {
		case "":
			replyType = types.ButtonReplyPlain
		case types.ButtonReplyTemplate, types.ButtonReplyPlain:
		default:
			return nil, errors.NewInvalidContentError("type", fmt.Sprintf("unknown button reply type %q", replyType))
		}
		msg.ButtonReply = &types.ButtonReplyMessage{
			Type:        replyType,
			DisplayText: c.ButtonReply.DisplayText,
			ID:          c.ButtonReply.ID,
			Index:       c.ButtonReply.Index,
		}

	case types.ContentForward:
		return composeForward(c.Forward)

	case types.ContentDelete:
		if c.Delete.ID == "" || c.Delete.RemoteJID == "" {
			return nil, errors.NewInvalidContentError("delete", "delete key needs remoteJid and id")
		}
		key := *c.Delete
		msg.Protocol = &types.ProtocolMessage{Type: types.ProtocolRevoke, Key: &key}

	case types.ContentDisappearingToggle:
		expiration := c.DisappearingMessagesInChat.Expiration()
		msg.Protocol = &types.ProtocolMessage{Type: types.ProtocolEphemeralSetting, EphemeralExpiration: &expiration}
	}

	return msg, nil
}

func pendingMedia(c *types.Content, variant types.ContentType) (types.MediaInfo, error) {
	upload := c.MediaSource()
	if _, err := upload.Source(); err != nil {
		return types.MediaInfo{}, errors.NewInvalidContentError(string(variant), err.Error())
	}
	if upload.Consumed() {
		return types.MediaInfo{}, errors.NewInvalidContentError(string(variant), "media upload already consumed")
	}
	mimetype := DefaultMimetype(variant)
	switch {
	case c.Mimetype != nil && *c.Mimetype != "":
		mimetype = *c.Mimetype
	case variant == types.ContentDocument && c.FileName != nil:
		if guessed, ok := constants.MimetypeForFileName(*c.FileName); ok {
			mimetype = guessed
		}
	}
	return types.MediaInfo{Mimetype: mimetype, Source: upload}, nil
}

// composeForward copies the forwarded content and bumps its forwarding
// score. Our own messages keep their score unless the forward is forced.
func composeForward(f *types.ForwardContent) (*types.Message, error) {
	if f.Message == nil || f.Message.Message == nil {
		return nil, errors.NewInvalidContentError("forward", "forwarded message has no content")
	}
	original := f.Message.Message
	if err := original.Validate(); err != nil {
		return nil, errors.NewInvalidContentError("forward", err.Error())
	}
	if original.Type.IsProtocol() {
		return nil, errors.NewInvalidContentError("forward", "protocol messages cannot be forwarded")
	}

	var score uint32
	if original.ContextInfo != nil && original.ContextInfo.ForwardingScore != nil {
		score = *original.ContextInfo.ForwardingScore
	}
	if !f.Message.Key.FromMe || f.Force {
		score++
	}

	msg := cloneMessage(original)
	msg.ContextInfo = nil
	if score > 0 {
		msg.ContextInfo = &types.ContextInfo{
			ForwardingScore: &score,
			IsForwarded:     types.BoolPtr(true),
		}
	}
	return msg, nil
}

// cloneMessage copies m deeply enough that mutating the payload structs or
// context info of the copy leaves m untouched
func cloneMessage(m *types.Message) *types.Message {
	out := *m
	if m.Text != nil {
		v := *m.Text
		out.Text = &v
	}
	if m.Image != nil {
		v := *m.Image
		v.Source = nil
		out.Image = &v
	}
	if m.Video != nil {
		v := *m.Video
		v.Source = nil
		out.Video = &v
	}
	if m.Audio != nil {
		v := *m.Audio
		v.Source = nil
		out.Audio = &v
	}
	if m.Sticker != nil {
		v := *m.Sticker
		v.Source = nil
		out.Sticker = &v
	}
	if m.Document != nil {
		v := *m.Document
		v.Source = nil
		out.Document = &v
	}
	if m.Contacts != nil {
		v := *m.Contacts
		out.Contacts = &v
	}
	if m.Location != nil {
		v := *m.Location
		out.Location = &v
	}
	if m.Reaction != nil {
		v := *m.Reaction
		out.Reaction = &v
	}
	if m.ButtonReply != nil {
		v := *m.ButtonReply
		out.ButtonReply = &v
	}
	if m.Protocol != nil {
		v := *m.Protocol
		out.Protocol = &v
	}
	if m.ContextInfo != nil {
		v := *m.ContextInfo
		out.ContextInfo = &v
	}
	return &out
}
