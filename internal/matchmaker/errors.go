package matchmaker

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyQueued   = errors.New("lobby already queued")
	ErrAlreadyClaimed  = errors.New("queue entry already claimed")
	ErrInvalidLobby    = errors.New("lobbyId is required")
	ErrEmptyLobby      = errors.New("lobby has no members")
	ErrInvalidMember   = errors.New("member id is required")
	ErrInvalidTeamSize = errors.New("invalid teamSize")
	ErrLobbyTooLarge   = errors.New("lobby has more members than teamSize")
	ErrNotLobbyOwner   = errors.New("caller is not a member of this lobby")
)

// Kind 区分处理失败的原因，调用方不需要解析错误字符串
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindStoreUnavailable
	KindPartialPairing
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindPartialPairing:
		return "partial_pairing"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf 返回错误链中第一个 *Error 的 Kind
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
