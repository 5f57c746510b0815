// Package session 投票会话生命周期：状态机、串行化与重投递去重。
package session

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ddbridge/internal/models"
	"ddbridge/internal/store"
	"ddbridge/pkg/third/directdecisions"
)

const reasonRemoteGone = "remote voting not found"

// Remote Direct Decisions 上的投票操作
type Remote interface {
	CreateVoting(ctx context.Context, choices []string) (string, error)
	SubmitBallot(ctx context.Context, votingID, voterID string, ballot map[string]int) error
	CloseVoting(ctx context.Context, votingID string) error
	FetchResults(ctx context.Context, votingID string) (*directdecisions.Outcome, error)
	DeleteVoting(ctx context.Context, votingID string) error
}

// Command 一次 Discord 交互对应的命令
type Command struct {
	Kind          models.CommandKind
	InteractionID string
	GuildID       string
	ChannelID     string
	UserID        string
	// LocalID 来自按钮或弹窗；为空时取频道内的活跃会话
	LocalID string
	Name    string
	Options []string
	Ranking []string
}

// Reply 命令执行结果
type Reply struct {
	Message string
	Session *models.VotingSession
	Outcome *directdecisions.Outcome
	// Replayed 结果来自去重缓存，没有重新执行
	Replayed bool
}

type Manager struct {
	store  store.Store
	remote Remote
	locks  *keyLocker
	dedup  *dedup
	now    func() time.Time
}

type Option func(*managerOptions)

type managerOptions struct {
	ttl time.Duration
	now func() time.Time
}

func WithDedupTTL(d time.Duration) Option {
	return func(o *managerOptions) { o.ttl = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) { o.now = now }
}

func NewManager(s store.Store, r Remote, opts ...Option) *Manager {
	o := managerOptions{ttl: DefaultDedupTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		store:  s,
		remote: r,
		locks:  newKeyLocker(),
		dedup:  newDedup(o.ttl, o.now),
		now:    o.now,
	}
}

// Execute 执行命令。同一交互 ID 在去重窗口内只会产生一次效果，
// 重复投递直接返回第一次的结果。
func (m *Manager) Execute(ctx context.Context, cmd Command) (*Reply, error) {
	logger := log.With().
		Str("interaction_id", cmd.InteractionID).
		Str("command", cmd.Kind.String()).
		Str("user_id", cmd.UserID).
		Logger()
	ctx = logger.WithContext(ctx)

	if cmd.InteractionID == "" {
		return m.execute(ctx, cmd)
	}
	reply, err, replayed := m.dedup.do(cmd.InteractionID, func() (*Reply, error) {
		return m.execute(ctx, cmd)
	})
	if replayed {
		logger.Info().Msg("重复投递的交互，返回缓存结果")
	}
	return reply, err
}

func (m *Manager) execute(ctx context.Context, cmd Command) (*Reply, error) {
	var (
		reply *Reply
		err   error
	)
	switch cmd.Kind {
	case models.CommandStart:
		reply, err = m.start(ctx, cmd)
	case models.CommandVote:
		reply, err = m.vote(ctx, cmd)
	case models.CommandComplete:
		reply, err = m.complete(ctx, cmd)
	case models.CommandPublish:
		reply, err = m.publish(ctx, cmd)
	case models.CommandDelete:
		reply, err = m.delete(ctx, cmd)
	default:
		err = invalid(ErrInvalidCommand, "unknown command %d", cmd.Kind)
	}

	logger := zerolog.Ctx(ctx)
	switch {
	case err == nil:
		logger.Info().Str("local_id", reply.Session.LocalID).Str("state", reply.Session.State.String()).Msg("命令执行成功")
	case IsValidation(err):
		logger.Info().Err(err).Msg("命令被拒绝")
	case directdecisions.IsTransient(err):
		logger.Warn().Err(err).Msg("远端暂时不可用")
	default:
		logger.Error().Stack().Err(err).Msg("命令执行失败")
	}
	return reply, err
}

// PromptBallot 打开投票弹窗前的只读检查
func (m *Manager) PromptBallot(ctx context.Context, localID, userID string) (*models.VotingSession, error) {
	session, err := m.store.Get(ctx, localID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid(ErrSessionNotFound, "this voting does not exist anymore")
		}
		return nil, storageErr("get", err)
	}
	if err := checkBallot(session, userID); err != nil {
		return nil, err
	}
	return session, nil
}

// CheckCreator 受理交互前的只读检查，只拒绝非创建者，其余情况交给 Execute
func (m *Manager) CheckCreator(ctx context.Context, cmd Command) error {
	if !cmd.Kind.CreatorOnly() {
		return nil
	}
	if _, ok := m.dedup.lookup(cmd.InteractionID); ok {
		return nil
	}
	var (
		session *models.VotingSession
		err     error
	)
	if cmd.LocalID != "" {
		session, err = m.store.Get(ctx, cmd.LocalID)
	} else {
		session, err = m.store.FindActive(ctx, cmd.GuildID, cmd.ChannelID)
	}
	if err != nil {
		return nil
	}
	return requireCreator(session, cmd.UserID)
}

// AttachAnnouncement 记录 start 发出的公告消息，返回记录后的会话
func (m *Manager) AttachAnnouncement(ctx context.Context, localID, messageID string) (*models.VotingSession, error) {
	unlock := m.locks.Lock(localID)
	defer unlock()

	session, err := m.store.Get(ctx, localID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid(ErrSessionNotFound, "this voting does not exist anymore")
		}
		return nil, storageErr("get", err)
	}
	if session.AnnouncementMessageID == messageID {
		return session, nil
	}
	session.AnnouncementMessageID = messageID
	session.UpdatedAt = m.now()
	if err := m.store.Put(ctx, session); err != nil {
		return nil, storageErr("put", err)
	}
	return session.Clone(), nil
}

func checkBallot(session *models.VotingSession, userID string) error {
	if session.State != models.SessionStateOpen {
		return invalid(ErrWrongState, "voting %q is %s, ballots are accepted only while it is open", session.Name, session.State)
	}
	if session.HasBallot(userID) {
		return invalid(ErrAlreadyVoted, "you have already voted in %q", session.Name)
	}
	return nil
}

func (m *Manager) start(ctx context.Context, cmd Command) (*Reply, error) {
	if cmd.GuildID == "" || cmd.ChannelID == "" {
		return nil, invalid(ErrInvalidCommand, "votings can only be started in a server channel")
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, invalid(ErrInvalidCommand, "the voting needs a name")
	}
	options, err := NormalizeOptions(cmd.Options)
	if err != nil {
		return nil, err
	}

	// 同一频道的 start 互斥，保证最多一个远端投票被创建
	unlockChannel := m.locks.Lock("channel:" + cmd.GuildID + "/" + cmd.ChannelID)
	defer unlockChannel()

	localID := models.LocalID(cmd.GuildID, cmd.ChannelID, cmd.InteractionID)
	unlock := m.locks.Lock(localID)
	defer unlock()

	// 去重窗口过期后的重投递：LocalID 相同，直接返回已有会话
	existing, err := m.store.Get(ctx, localID)
	switch {
	case err == nil:
		if existing.State == models.SessionStateOpen {
			return &Reply{Message: "Voting is already open.", Session: existing}, nil
		}
		return nil, invalid(ErrWrongState, "voting %q is already %s", existing.Name, existing.State)
	case !errors.Is(err, store.ErrNotFound):
		return nil, storageErr("get", err)
	}

	active, err := m.store.FindActive(ctx, cmd.GuildID, cmd.ChannelID)
	switch {
	case err == nil:
		return nil, invalid(ErrSessionActive, "voting %q is still %s in this channel, complete or delete it first", active.Name, active.State)
	case !errors.Is(err, store.ErrNotFound):
		return nil, storageErr("find active", err)
	}

	session := models.NewVotingSession(cmd.GuildID, cmd.ChannelID, cmd.InteractionID, cmd.UserID, name, options, m.now())
	if err := m.store.Put(ctx, session); err != nil {
		return nil, storageErr("put", err)
	}

	logger := zerolog.Ctx(ctx).With().Str("local_id", localID).Logger()
	remoteID, err := m.remote.CreateVoting(ctx, session.Options)
	if err != nil {
		if directdecisions.IsRejected(err) {
			if ferr := session.Fail(err.Error(), m.now()); ferr == nil {
				if perr := m.store.Put(ctx, session); perr != nil {
					logger.Error().Err(perr).Msg("记录失败状态出错")
				}
			}
		}
		if derr := m.store.Delete(ctx, localID); derr != nil {
			logger.Error().Err(derr).Msg("清理未创建成功的会话出错")
		}
		return nil, errors.Wrap(err, "create voting")
	}

	session.RemoteVotingID = remoteID
	if err := session.Transition(models.SessionStateOpen, m.now()); err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, session); err != nil {
		// 本地无法记录，撤销远端投票，避免产生孤儿
		if derr := m.remote.DeleteVoting(ctx, remoteID); derr != nil {
			logger.Error().Err(derr).Str("remote_voting_id", remoteID).Msg("撤销远端投票失败")
		}
		if derr := m.store.Delete(ctx, localID); derr != nil {
			logger.Error().Err(derr).Msg("清理未创建成功的会话出错")
		}
		return nil, storageErr("put", err)
	}

	return &Reply{Message: "Voting opened.", Session: session.Clone()}, nil
}

// locate 取得会话并持有其独占锁，调用方负责释放
func (m *Manager) locate(ctx context.Context, cmd Command) (*models.VotingSession, func(), error) {
	localID := cmd.LocalID
	if localID == "" {
		active, err := m.store.FindActive(ctx, cmd.GuildID, cmd.ChannelID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil, invalid(ErrSessionNotFound, "there is no active voting in this channel")
			}
			return nil, nil, storageErr("find active", err)
		}
		localID = active.LocalID
	}

	unlock := m.locks.Lock(localID)
	session, err := m.store.Get(ctx, localID)
	if err != nil {
		unlock()
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, invalid(ErrSessionNotFound, "this voting does not exist anymore")
		}
		return nil, nil, storageErr("get", err)
	}
	return session, unlock, nil
}

func requireCreator(session *models.VotingSession, userID string) error {
	if session.CreatorUserID != userID {
		return invalid(ErrNotCreator, "only the creator of %q can do this", session.Name)
	}
	return nil
}

// remoteFailure 远端 404 表示投票已消失，会话转为 Failed
func (m *Manager) remoteFailure(ctx context.Context, session *models.VotingSession, op string, err error) error {
	if directdecisions.IsNotFound(err) {
		if ferr := session.Fail(reasonRemoteGone, m.now()); ferr == nil {
			if perr := m.store.Put(ctx, session); perr != nil {
				return storageErr("put", perr)
			}
		}
	}
	return errors.Wrap(err, op)
}

func (m *Manager) vote(ctx context.Context, cmd Command) (*Reply, error) {
	session, unlock, err := m.locate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkBallot(session, cmd.UserID); err != nil {
		return nil, err
	}
	order, err := ParseRanking(session.Options, cmd.Ranking)
	if err != nil {
		return nil, err
	}

	if err := m.remote.SubmitBallot(ctx, session.RemoteVotingID, cmd.UserID, Ballot(session.Options, order)); err != nil {
		return nil, m.remoteFailure(ctx, session, "submit ballot", err)
	}

	session.AddBallot(cmd.UserID, m.now())
	if err := m.store.Put(ctx, session); err != nil {
		return nil, storageErr("put", err)
	}

	ranked := make([]string, len(order))
	for i, idx := range order {
		ranked[i] = session.Options[idx]
	}
	return &Reply{
		Message: "Your ballot was recorded: " + strings.Join(ranked, " > "),
		Session: session.Clone(),
	}, nil
}

func (m *Manager) complete(ctx context.Context, cmd Command) (*Reply, error) {
	session, unlock, err := m.locate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := requireCreator(session, cmd.UserID); err != nil {
		return nil, err
	}
	if session.State != models.SessionStateOpen {
		return nil, invalid(ErrWrongState, "voting %q is %s, only open votings can be completed", session.Name, session.State)
	}

	if err := m.remote.CloseVoting(ctx, session.RemoteVotingID); err != nil {
		return nil, m.remoteFailure(ctx, session, "close voting", err)
	}
	if err := session.Transition(models.SessionStateClosed, m.now()); err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, session); err != nil {
		return nil, storageErr("put", err)
	}
	return &Reply{Message: "Voting closed.", Session: session.Clone()}, nil
}

func (m *Manager) publish(ctx context.Context, cmd Command) (*Reply, error) {
	session, unlock, err := m.locate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := requireCreator(session, cmd.UserID); err != nil {
		return nil, err
	}
	if session.State != models.SessionStateClosed {
		return nil, invalid(ErrWrongState, "voting %q is %s, complete it before publishing", session.Name, session.State)
	}

	outcome, err := m.remote.FetchResults(ctx, session.RemoteVotingID)
	if err != nil {
		return nil, m.remoteFailure(ctx, session, "fetch results", err)
	}
	if err := session.Transition(models.SessionStatePublished, m.now()); err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, session); err != nil {
		return nil, storageErr("put", err)
	}
	return &Reply{Message: "Results published.", Session: session.Clone(), Outcome: outcome}, nil
}

func (m *Manager) delete(ctx context.Context, cmd Command) (*Reply, error) {
	session, unlock, err := m.locate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := requireCreator(session, cmd.UserID); err != nil {
		return nil, err
	}
	if session.State == models.SessionStatePublished {
		return nil, invalid(ErrWrongState, "voting %q is published and cannot be deleted", session.Name)
	}

	if session.RemoteVotingID != "" {
		if err := m.remote.DeleteVoting(ctx, session.RemoteVotingID); err != nil && !directdecisions.IsNotFound(err) {
			return nil, errors.Wrap(err, "delete voting")
		}
	}
	if err := m.store.Delete(ctx, session.LocalID); err != nil {
		switch {
		case errors.Is(err, store.ErrPublished):
			return nil, invalid(ErrWrongState, "voting %q is published and cannot be deleted", session.Name)
		case !errors.Is(err, store.ErrNotFound):
			return nil, storageErr("delete", err)
		}
	}
	return &Reply{Message: "Voting deleted.", Session: session.Clone()}, nil
}
