package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"ddbridge/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var sessionColumns = []string{
	"local_id", "guild_id", "channel_id", "origin_message_id", "announcement_message_id", "remote_voting_id", "name",
	"state", "failure_reason", "creator_user_id", "options", "ballots_seen", "created_at", "updated_at",
}

// SQLStore 基于 database/sql 的实现，默认使用内嵌 sqlite
type SQLStore struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
}

type sessionRow struct {
	LocalID         string `db:"local_id"`
	GuildID         string `db:"guild_id"`
	ChannelID       string `db:"channel_id"`
	OriginMessageID string `db:"origin_message_id"`
	AnnouncementID  string `db:"announcement_message_id"`
	RemoteVotingID  string `db:"remote_voting_id"`
	Name            string `db:"name"`
	State           int    `db:"state"`
	FailureReason   string `db:"failure_reason"`
	CreatorUserID   string `db:"creator_user_id"`
	Options         string `db:"options"`
	BallotsSeen     string `db:"ballots_seen"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

// Open 打开数据库并建表
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var (
		sqlDriver string
		ph        sq.PlaceholderFormat
	)
	switch driver {
	case DriverSQLite, "":
		driver, sqlDriver, ph = DriverSQLite, "sqlite", sq.Question
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	case DriverPostgres:
		sqlDriver, ph = "pgx", sq.Dollar
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if driver == DriverSQLite {
		// sqlite 只有一个写者，单连接避免 SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(ph),
	}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("driver", driver).Msg("会话存储已就绪")
	return s, nil
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create database directory")
	}
	return nil
}

func (s *SQLStore) initialize(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "create schema")
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(ctx context.Context, localID string) (*models.VotingSession, error) {
	query, args, err := s.sb.Select(sessionColumns...).
		From("voting_session").
		Where(sq.Eq{"local_id": localID}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build get query")
	}
	return s.scanOne(ctx, s.db, query, args)
}

func (s *SQLStore) FindActive(ctx context.Context, guildID, channelID string) (*models.VotingSession, error) {
	cols := make([]string, len(sessionColumns))
	for i, c := range sessionColumns {
		cols[i] = "s." + c
	}
	query, args, err := s.sb.Select(cols...).
		From("active_session a").
		Join("voting_session s ON s.local_id = a.local_id").
		Where(sq.Eq{"a.guild_id": guildID, "a.channel_id": channelID}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build find active query")
	}
	session, err := s.scanOne(ctx, s.db, query, args)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() {
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *SQLStore) scanOne(ctx context.Context, q sqlscan.Querier, query string, args []any) (*models.VotingSession, error) {
	var row sessionRow
	if err := sqlscan.Get(ctx, q, &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "query voting session")
	}
	return row.toModel()
}

func (s *SQLStore) Put(ctx context.Context, session *models.VotingSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	row, err := fromModel(session)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin put")
	}
	defer tx.Rollback()

	_, err = s.sb.Insert("voting_session").
		Columns(sessionColumns...).
		Values(row.LocalID, row.GuildID, row.ChannelID, row.OriginMessageID, row.AnnouncementID, row.RemoteVotingID, row.Name,
			row.State, row.FailureReason, row.CreatorUserID, row.Options, row.BallotsSeen, row.CreatedAt, row.UpdatedAt).
		// options 在行创建后不再改变
		Suffix(`ON CONFLICT (local_id) DO UPDATE SET
			announcement_message_id = excluded.announcement_message_id,
			remote_voting_id = excluded.remote_voting_id,
			state = excluded.state,
			failure_reason = excluded.failure_reason,
			ballots_seen = excluded.ballots_seen,
			updated_at = excluded.updated_at`).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrap(err, "upsert voting session")
	}

	if session.State.Terminal() {
		_, err = s.sb.Delete("active_session").
			Where(sq.Eq{"local_id": row.LocalID}).
			RunWith(tx).
			ExecContext(ctx)
	} else {
		_, err = s.sb.Insert("active_session").
			Columns("guild_id", "channel_id", "local_id").
			Values(row.GuildID, row.ChannelID, row.LocalID).
			Suffix("ON CONFLICT (guild_id, channel_id) DO UPDATE SET local_id = excluded.local_id").
			RunWith(tx).
			ExecContext(ctx)
	}
	if err != nil {
		return errors.Wrap(err, "update active session index")
	}

	return errors.Wrap(tx.Commit(), "commit put")
}

func (s *SQLStore) Delete(ctx context.Context, localID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete")
	}
	defer tx.Rollback()

	query, args, err := s.sb.Select("state").From("voting_session").Where(sq.Eq{"local_id": localID}).ToSql()
	if err != nil {
		return errors.Wrap(err, "build delete lookup")
	}
	var state int
	if err := sqlscan.Get(ctx, tx, &state, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return ErrNotFound
		}
		return errors.Wrap(err, "lookup voting session")
	}
	if models.SessionState(state) == models.SessionStatePublished {
		return ErrPublished
	}

	if _, err := s.sb.Delete("voting_session").Where(sq.Eq{"local_id": localID}).RunWith(tx).ExecContext(ctx); err != nil {
		return errors.Wrap(err, "delete voting session")
	}
	if _, err := s.sb.Delete("active_session").Where(sq.Eq{"local_id": localID}).RunWith(tx).ExecContext(ctx); err != nil {
		return errors.Wrap(err, "delete active session index")
	}
	return errors.Wrap(tx.Commit(), "commit delete")
}

func (s *SQLStore) Stats(ctx context.Context) (map[string]int, error) {
	query, args, err := s.sb.Select("state", "COUNT(*) AS n").From("voting_session").GroupBy("state").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build stats query")
	}
	var rows []struct {
		State int `db:"state"`
		N     int `db:"n"`
	}
	if err := sqlscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query stats")
	}
	stats := make(map[string]int, len(rows))
	for _, r := range rows {
		stats[models.SessionState(r.State).String()] = r.N
	}
	return stats, nil
}

func fromModel(m *models.VotingSession) (sessionRow, error) {
	options, err := json.Marshal(m.Options)
	if err != nil {
		return sessionRow{}, errors.Wrap(err, "encode options")
	}
	seen := m.BallotsSeen
	if seen == nil {
		seen = []string{}
	}
	ballots, err := json.Marshal(seen)
	if err != nil {
		return sessionRow{}, errors.Wrap(err, "encode ballots seen")
	}
	return sessionRow{
		LocalID:         m.LocalID,
		GuildID:         m.GuildID,
		ChannelID:       m.ChannelID,
		OriginMessageID: m.OriginMessageID,
		AnnouncementID:  m.AnnouncementMessageID,
		RemoteVotingID:  m.RemoteVotingID,
		Name:            m.Name,
		State:           int(m.State),
		FailureReason:   m.FailureReason,
		CreatorUserID:   m.CreatorUserID,
		Options:         string(options),
		BallotsSeen:     string(ballots),
		CreatedAt:       m.CreatedAt.UnixMilli(),
		UpdatedAt:       m.UpdatedAt.UnixMilli(),
	}, nil
}

func (r sessionRow) toModel() (*models.VotingSession, error) {
	m := &models.VotingSession{
		LocalID:               r.LocalID,
		RemoteVotingID:        r.RemoteVotingID,
		GuildID:               r.GuildID,
		ChannelID:             r.ChannelID,
		OriginMessageID:       r.OriginMessageID,
		AnnouncementMessageID: r.AnnouncementID,
		Name:                  r.Name,
		State:                 models.SessionState(r.State),
		FailureReason:         r.FailureReason,
		CreatorUserID:         r.CreatorUserID,
		CreatedAt:             time.UnixMilli(r.CreatedAt),
		UpdatedAt:             time.UnixMilli(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Options), &m.Options); err != nil {
		return nil, errors.Wrap(err, "decode options")
	}
	if err := json.Unmarshal([]byte(r.BallotsSeen), &m.BallotsSeen); err != nil {
		return nil, errors.Wrap(err, "decode ballots seen")
	}
	return m, nil
}
