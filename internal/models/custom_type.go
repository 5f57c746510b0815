package models

import (
	"strings"

	"github.com/pkg/errors"
)

type SessionState uint8
type CommandKind uint8

const (
	// SessionStatePending 已在本地登记，远端投票尚未创建
	SessionStatePending SessionState = iota
	// SessionStateOpen 远端投票已创建，接受选票
	SessionStateOpen
	// SessionStateClosed 已截止，等待公布结果
	SessionStateClosed
	// SessionStatePublished 结果已公布，终态
	SessionStatePublished
	// SessionStateFailed 远端不可恢复错误，终态
	SessionStateFailed
)

const (
	CommandStart CommandKind = iota
	CommandVote
	CommandComplete
	CommandPublish
	CommandDelete
)

var stateNames = [...]string{
	SessionStatePending:   "pending",
	SessionStateOpen:      "open",
	SessionStateClosed:    "closed",
	SessionStatePublished: "published",
	SessionStateFailed:    "failed",
}

var commandNames = [...]string{
	CommandStart:    "start",
	CommandVote:     "vote",
	CommandComplete: "complete",
	CommandPublish:  "publish",
	CommandDelete:   "delete",
}

func (s SessionState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal 终态不再参与频道活跃索引
func (s SessionState) Terminal() bool {
	return s == SessionStatePublished || s == SessionStateFailed
}

// HasRemote 处于该状态时必须持有远端投票 ID
func (s SessionState) HasRemote() bool {
	return s == SessionStateOpen || s == SessionStateClosed || s == SessionStatePublished
}

// CanTransition 只允许逐级前进，或由非终态进入 Failed
func (s SessionState) CanTransition(to SessionState) bool {
	if s.Terminal() {
		return false
	}
	if to == SessionStateFailed {
		return true
	}
	return to == s+1
}

func ParseSessionState(name string) (SessionState, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			return SessionState(i), nil
		}
	}
	return 0, errors.Errorf("unknown session state %q", name)
}

func (k CommandKind) String() string {
	if int(k) < len(commandNames) {
		return commandNames[k]
	}
	return "unknown"
}

// CreatorOnly 只有会话创建者可以执行的命令
func (k CommandKind) CreatorOnly() bool {
	return k == CommandComplete || k == CommandPublish || k == CommandDelete
}

func ParseCommandKind(name string) (CommandKind, error) {
	for i, n := range commandNames {
		if n == name {
			return CommandKind(i), nil
		}
	}
	return 0, errors.Errorf("unknown command %q", name)
}
