package domain

import "context"

// SidechannelMessage is one delivered payload on a subscribed channel.
type SidechannelMessage struct {
	Channel string
	Payload []byte
}

// JoinOpts carries the opaque capability blobs required to join a gated
// channel. The core never inspects them.
type JoinOpts struct {
	Invite  string
	Welcome string
}

// SendOpts lets a sender attach the invite that authorizes delivery on an
// invite-gated channel.
type SendOpts struct {
	Invite string
}

// Sidechannel is the pub/sub transport the coordinator rides on. Channels
// with the "swap:" prefix are invite-gated: the transport enforces
// sender-side gating so uninvited subscribers receive nothing.
type Sidechannel interface {
	Subscribe(ctx context.Context, channels []string) (<-chan SidechannelMessage, error)
	Join(ctx context.Context, channel string, opts JoinOpts) error
	Send(ctx context.Context, channel string, payload []byte, opts SendOpts) error
}

// LockManager serializes writers per trade; the receipt store write
// capability is held for the duration of an apply.
type LockManager interface {
	Acquire(ctx context.Context, key string) (unlock func(), err error)
}
