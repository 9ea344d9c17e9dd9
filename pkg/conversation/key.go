package conversation

import (
	"errors"

	"commandbot/pkg/jid"
)

var ErrNoPeer = errors.New("conversation key requires a peer address")

// Key identifies one dialogue: the peer's exact address plus the thread id.
// An empty thread id means the message carried none. Keys are comparable
// and are used directly as map keys.
type Key struct {
	peer   jid.JID
	thread string
}

func NewKey(peer jid.JID, thread string) (Key, error) {
	if peer.IsZero() {
		return Key{}, ErrNoPeer
	}
	return Key{peer: peer, thread: thread}, nil
}

func (k Key) Peer() jid.JID { return k.peer }

func (k Key) Thread() string { return k.thread }

// Bare is the same key with the resource stripped from the peer.
func (k Key) Bare() Key {
	return Key{peer: k.peer.Bare(), thread: k.thread}
}

func (k Key) IsBare() bool { return k.peer.IsBare() }

func (k Key) String() string {
	if k.thread == "" {
		return k.peer.String()
	}
	return k.peer.String() + "#" + k.thread
}
