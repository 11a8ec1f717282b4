package chat

import "context"

// SessionProvider resolves the signed-in user. It returns ErrNotAuthenticated
// when there is no usable session.
type SessionProvider interface {
	UserID(ctx context.Context) (int64, error)
}

// StaticSession is a session whose user is known up front, e.g. from a token
// decoded at startup. Zero means signed out.
type StaticSession int64

func (s StaticSession) UserID(context.Context) (int64, error) {
	if s <= 0 {
		return 0, ErrNotAuthenticated
	}
	return int64(s), nil
}
