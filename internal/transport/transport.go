// Package transport provides the concrete "cluster messaging" layer
// spec.md §1 treats as an abstract collaborator: multi-destination
// request/reply with a per-call timeout, and a set of unreachable
// destinations folded into the quorum count as Down votes.
package transport

import (
	"context"

	"github.com/bycanvas/locker/internal/engine"
	"github.com/bycanvas/locker/internal/lease"
)

// MsgType tags the inter-node request/reply messages of §6.
type MsgType int

const (
	MsgPromise MsgType = iota
	MsgCommit
	MsgAbort
	MsgExtendCommit
	MsgReleaseCommit
	MsgAdminSetMasters
	MsgAdminSetReplicas
	MsgAdminSetW
	MsgDirtyRead
)

func (m MsgType) String() string {
	switch m {
	case MsgPromise:
		return "Promise"
	case MsgCommit:
		return "Commit"
	case MsgAbort:
		return "Abort"
	case MsgExtendCommit:
		return "ExtendCommit"
	case MsgReleaseCommit:
		return "ReleaseCommit"
	case MsgAdminSetMasters:
		return "AdminSetMasters"
	case MsgAdminSetReplicas:
		return "AdminSetReplicas"
	case MsgAdminSetW:
		return "AdminSetW"
	case MsgDirtyRead:
		return "DirtyRead"
	default:
		return "INVALID"
	}
}

// Request is one unicast, reply-expecting inter-node message.
type Request struct {
	Type     MsgType      `json:"type"`
	Tag      lease.Tag    `json:"tag"`
	Key      lease.Key    `json:"key"`
	Expected lease.Value  `json:"expected,omitempty"`
	Value    lease.Value  `json:"value,omitempty"`
	LeaseMs  int64        `json:"lease_ms,omitempty"`
	Masters  []lease.NodeID `json:"masters,omitempty"`
	Replicas []lease.NodeID `json:"replicas,omitempty"`
	W        int          `json:"w,omitempty"`
}

// Reply carries back an engine.Status, plus a Value/Found pair used
// only by MsgDirtyRead replies.
type Reply struct {
	Status engine.Status `json:"status"`
	Value  lease.Value   `json:"value,omitempty"`
	Found  bool          `json:"found,omitempty"`
}

// ApplyLogRequest is the asynchronous, no-reply broadcast of §6.
type ApplyLogRequest struct {
	Origin  lease.NodeID             `json:"origin"`
	Records []lease.TransLogRecord `json:"records"`
}

// CallResult pairs a Reply with a transport-level error. A non-nil Err
// means the destination is Down for the purposes of quorum accounting.
type CallResult struct {
	Reply Reply
	Err   error
}

// Transport is the abstract cluster messaging collaborator.
type Transport interface {
	// Call sends req to dest, blocking until a Reply arrives or ctx
	// is done.
	Call(ctx context.Context, dest lease.NodeID, req Request) (Reply, error)
	// CallMany fans req out to every destination concurrently and
	// returns one CallResult per destination once all have settled or
	// ctx is done.
	CallMany(ctx context.Context, dests []lease.NodeID, req Request) map[lease.NodeID]CallResult
	// Cast broadcasts an ApplyLogRequest without waiting for replies.
	Cast(dests []lease.NodeID, msg ApplyLogRequest)
}
