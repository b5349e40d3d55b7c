package session

import "github.com/MrEthical07/authflow/authority"

// Identity is the persisted authenticated identity. AccessToken and User are
// always written and cleared together.
type Identity struct {
	AccessToken  string
	RefreshToken string
	User         authority.User
	// UpdatedAt is the unix millisecond time of the last write.
	UpdatedAt int64
}

// ChangeKind says what happened to the stored identity.
type ChangeKind uint8

const (
	ChangeSet ChangeKind = iota + 1
	ChangeClear
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSet:
		return "set"
	case ChangeClear:
		return "clear"
	}
	return "unknown"
}

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind ChangeKind
	// Identity is the new value for ChangeSet and zero for ChangeClear.
	Identity Identity
	// Remote is true when another tab made the change.
	Remote bool
	Origin string
}
