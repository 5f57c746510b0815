package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// sessionNamespace LocalID 的 UUIDv5 命名空间
var sessionNamespace = uuid.MustParse("6f1c2d1e-8a4b-5c3d-9e7f-0a1b2c3d4e5f")

var (
	ErrIllegalTransition = errors.New("illegal session state transition")
	ErrInconsistent      = errors.New("inconsistent voting session")
)

type VotingSession struct {
	// LocalID 由 (guild, channel, origin message) 派生，不可变
	LocalID string `json:"local_id"`
	// RemoteVotingID Direct Decisions 返回的投票 ID，Open 之前为空
	RemoteVotingID string `json:"remote_voting_id,omitempty"`
	GuildID        string `json:"guild_id"`
	ChannelID      string `json:"channel_id"`
	// OriginMessageID 发起 start 的交互 ID
	OriginMessageID string `json:"origin_message_id"`
	// AnnouncementMessageID 带按钮的公告消息，会话结束后会被改写
	AnnouncementMessageID string `json:"announcement_message_id,omitempty"`
	Name                  string `json:"name"`
	// State 状态 iota-enum
	//
	// SessionStatePending SessionStateOpen SessionStateClosed SessionStatePublished SessionStateFailed
	State         SessionState `json:"state"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatorUserID string       `json:"creator_user_id"`
	// Options 候选项，顺序即选票槽位顺序
	Options []string `json:"options"`
	// BallotsSeen 已成功投票的用户，仅用于避免重复提示
	BallotsSeen []string  `json:"ballots_seen"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LocalID 同一 Discord 上下文总是得到同一个 ID，便于识别重投递
func LocalID(guildID, channelID, originMessageID string) string {
	key := guildID + "/" + channelID + "/" + originMessageID
	return uuid.NewSHA1(sessionNamespace, []byte(key)).String()
}

// NewVotingSession 创建 Pending 状态的会话
func NewVotingSession(guildID, channelID, originMessageID, creatorUserID, name string, options []string, now time.Time) *VotingSession {
	return &VotingSession{
		LocalID:         LocalID(guildID, channelID, originMessageID),
		GuildID:         guildID,
		ChannelID:       channelID,
		OriginMessageID: originMessageID,
		Name:            name,
		State:           SessionStatePending,
		CreatorUserID:   creatorUserID,
		Options:         slices.Clone(options),
		BallotsSeen:     []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Transition 推进状态；进入 Failed 请使用 Fail
func (s *VotingSession) Transition(to SessionState, now time.Time) error {
	if to == SessionStateFailed || !s.State.CanTransition(to) {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", s.State, to)
	}
	s.State = to
	s.UpdatedAt = now
	return nil
}

// Fail 标记为失败终态，同时清除远端 ID
func (s *VotingSession) Fail(reason string, now time.Time) error {
	if !s.State.CanTransition(SessionStateFailed) {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", s.State, SessionStateFailed)
	}
	s.State = SessionStateFailed
	s.FailureReason = reason
	s.RemoteVotingID = ""
	s.UpdatedAt = now
	return nil
}

func (s *VotingSession) HasBallot(userID string) bool {
	return slices.Contains(s.BallotsSeen, userID)
}

func (s *VotingSession) AddBallot(userID string, now time.Time) {
	if s.HasBallot(userID) {
		return
	}
	s.BallotsSeen = append(s.BallotsSeen, userID)
	s.UpdatedAt = now
}

// Validate 写入前检查不变量
func (s *VotingSession) Validate() error {
	if s.LocalID == "" || s.GuildID == "" || s.ChannelID == "" {
		return errors.Wrap(ErrInconsistent, "missing identity")
	}
	if s.State.HasRemote() != (s.RemoteVotingID != "") {
		return errors.Wrapf(ErrInconsistent, "state %s with remote id %q", s.State, s.RemoteVotingID)
	}
	if len(s.Options) == 0 {
		return errors.Wrap(ErrInconsistent, "no options")
	}
	return nil
}

// Clone 深拷贝，避免调用方改动缓存中的会话
func (s *VotingSession) Clone() *VotingSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Options = slices.Clone(s.Options)
	c.BallotsSeen = slices.Clone(s.BallotsSeen)
	return &c
}
