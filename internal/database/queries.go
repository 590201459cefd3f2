package database

// History queries
const (
	SelectMessageByKeyQuery = `
		SELECT seq, body
		FROM messages
		WHERE remote_jid = ? AND from_me = ? AND msg_id = ? AND participant = ?
	`

	InsertMessageIfAbsentQuery = `
		INSERT INTO messages (remote_jid, from_me, msg_id, participant, message_timestamp, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (remote_jid, from_me, msg_id, participant) DO NOTHING
	`

	UpsertMessageQuery = `
		INSERT INTO messages (remote_jid, from_me, msg_id, participant, message_timestamp, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (remote_jid, from_me, msg_id, participant) DO UPDATE SET
			message_timestamp = excluded.message_timestamp,
			body = excluded.body
	`

	SelectOldestPageQuery = `
		SELECT body FROM messages
		WHERE remote_jid = ?
		ORDER BY seq ASC
		LIMIT ?
	`

	SelectNewestPageQuery = `
		SELECT body FROM (
			SELECT seq, body FROM messages
			WHERE remote_jid = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`

	SelectPageAfterQuery = `
		SELECT body FROM messages
		WHERE remote_jid = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`

	SelectPageBeforeQuery = `
		SELECT body FROM (
			SELECT seq, body FROM messages
			WHERE remote_jid = ? AND seq < ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`

	CountMessagesQuery = `SELECT COUNT(*) FROM messages WHERE remote_jid = ?`
)

// Upload cache queries
const (
	SelectUploadQuery = `
		SELECT media_url, direct_path
		FROM upload_cache
		WHERE cache_key = ? AND expires_at > ?
	`

	UpsertUploadQuery = `
		INSERT INTO upload_cache (cache_key, media_url, direct_path, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			media_url = excluded.media_url,
			direct_path = excluded.direct_path,
			expires_at = excluded.expires_at
	`

	DeleteExpiredUploadsQuery = `DELETE FROM upload_cache WHERE expires_at <= ?`
)
