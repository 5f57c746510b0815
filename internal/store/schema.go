package store

// 兼容 sqlite 与 postgres 的建表语句，逐条执行
var schema = []string{
	`CREATE TABLE IF NOT EXISTS voting_session (
		local_id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		origin_message_id TEXT NOT NULL,
		announcement_message_id TEXT NOT NULL DEFAULT '',
		remote_voting_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		state INTEGER NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		creator_user_id TEXT NOT NULL,
		options TEXT NOT NULL,
		ballots_seen TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_voting_session_state ON voting_session(state)`,
	`CREATE INDEX IF NOT EXISTS idx_voting_session_channel ON voting_session(guild_id, channel_id)`,
	`CREATE TABLE IF NOT EXISTS active_session (
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		local_id TEXT NOT NULL,
		PRIMARY KEY (guild_id, channel_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_active_session_local ON active_session(local_id)`,
}
