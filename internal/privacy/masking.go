package privacy

import (
	"net/url"
	"strings"

	"wacompose/internal/constants"
)

// MaskJID masks the user part of a JID and keeps the server and device
// suffix readable.
// Example: "1234567890:3@s.whatsapp.net" -> "******7890:3@s.whatsapp.net"
func MaskJID(jid string) string {
	if jid == "" {
		return ""
	}

	at := strings.IndexByte(jid, '@')
	if at < 0 {
		return maskString(jid, constants.DefaultJIDMaskLength)
	}
	user, server := jid[:at], jid[at:]

	device := ""
	if colon := strings.IndexByte(user, ':'); colon >= 0 {
		user, device = user[:colon], user[colon:]
	}

	// group JIDs look like "<creator>-<timestamp>@g.us"
	if dash := strings.IndexByte(user, '-'); dash >= 0 {
		return maskString(user[:dash], constants.DefaultJIDMaskLength) + "-" +
			maskString(user[dash+1:], constants.DefaultJIDMaskLength) + device + server
	}
	return maskString(user, constants.DefaultJIDMaskLength) + device + server
}

// MaskMessageID masks a message ID while keeping its tail for correlation
// Example: "3EB0A1B2C3D4E5F6A7B8" -> "**************F6A7B8"
func MaskMessageID(messageID string) string {
	return maskString(messageID, constants.DefaultMessageIDMaskLength)
}

// MaskMessageKey masks a "<remoteJid>/<fromMe>/<id>[/<participant>]" key string
func MaskMessageKey(key string) string {
	if key == "" {
		return ""
	}
	parts := strings.Split(key, "/")
	if len(parts) < 3 {
		return maskString(key, constants.DefaultMessageIDMaskLength)
	}
	parts[0] = MaskJID(parts[0])
	parts[2] = MaskMessageID(parts[2])
	if len(parts) > 3 {
		parts[3] = MaskJID(parts[3])
	}
	return strings.Join(parts, "/")
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "jid", "chat_id", "remote_jid", "participant", "user_jid", "user_id":
			masked[k] = MaskJID(s)
		case "message_id", "stanza_id":
			masked[k] = MaskMessageID(s)
		case "message_key":
			masked[k] = MaskMessageKey(s)
		default:
			masked[k] = v
		}
	}

	return masked
}

// MaskURL keeps the scheme and host of a link and hides its path and query
func MaskURL(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return maskString(link, 0)
	}
	if u.Path == "" && u.RawQuery == "" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/***"
}
