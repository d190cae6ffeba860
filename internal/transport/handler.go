package transport

import "github.com/bycanvas/locker/internal/engine"

// Handler dispatches wire Requests into Node State Engine operations,
// the inter-node counterpart of the teacher's Agent.handleMessage
// switch over Msg.Type.
type Handler struct {
	Engine *engine.Engine
}

// Handle serves one synchronous request/reply message.
func (h *Handler) Handle(req Request) Reply {
	switch req.Type {
	case MsgPromise:
		return Reply{Status: h.Engine.Promise(req.Key, req.Expected, req.Tag)}
	case MsgCommit:
		return Reply{Status: h.Engine.Commit(req.Tag, req.Key, req.Value, req.LeaseMs)}
	case MsgAbort:
		h.Engine.Abort(req.Tag)
		return Reply{Status: engine.StatusOk}
	case MsgExtendCommit:
		return Reply{Status: h.Engine.ExtendCommit(req.Tag, req.Key, req.Value, req.LeaseMs)}
	case MsgReleaseCommit:
		return Reply{Status: h.Engine.ReleaseCommit(req.Tag, req.Key, req.Value)}
	case MsgAdminSetMasters:
		h.Engine.AdminSetMasters(req.Masters)
		return Reply{Status: engine.StatusOk}
	case MsgAdminSetReplicas:
		h.Engine.AdminSetReplicas(req.Replicas)
		return Reply{Status: engine.StatusOk}
	case MsgAdminSetW:
		h.Engine.AdminSetW(req.W)
		return Reply{Status: engine.StatusOk}
	case MsgDirtyRead:
		v, ok := h.Engine.DirtyRead(req.Key)
		if !ok {
			return Reply{Status: engine.StatusNotFound}
		}
		return Reply{Status: engine.StatusOk, Value: v, Found: true}
	default:
		// BadMessage (§7): an unknown message type is a protocol
		// violation, not a CAS outcome a caller can act on.
		panic("transport: bad message type")
	}
}

// HandleApplyLog serves the asynchronous, no-reply ApplyLog cast.
func (h *Handler) HandleApplyLog(msg ApplyLogRequest) {
	h.Engine.ApplyLog(msg.Records)
}
