package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/bycanvas/locker/internal/lease"
	"github.com/bycanvas/locker/internal/logging"
)

// HTTP is the default Transport implementation: JSON-over-HTTP
// request/reply for Request, and a fire-and-forget POST for
// ApplyLogRequest. It replaces the teacher's raw encoding/json-over-UDP
// Peer.Send with github.com/gorilla/mux routing on the server side.
type HTTP struct {
	client *http.Client
}

// NewHTTPTransport returns an HTTP transport using a client whose
// per-request timeout is always supplied via context by the caller
// (the Coordinator), so the client itself carries no fixed deadline.
func NewHTTPTransport() *HTTP {
	return &HTTP{client: &http.Client{}}
}

func dial(ctx context.Context, client *http.Client, method, dest, path string, body interface{}) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "locker: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://"+dest+path, bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrap(err, "locker: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

// Call implements Transport.
func (t *HTTP) Call(ctx context.Context, dest lease.NodeID, req Request) (Reply, error) {
	resp, err := dial(ctx, t.client, http.MethodPost, string(dest), "/rpc", req)
	if err != nil {
		return Reply{}, errors.Wrapf(err, "locker: rpc call to %s", dest)
	}
	defer resp.Body.Close()
	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, errors.Wrapf(err, "locker: decode reply from %s", dest)
	}
	return reply, nil
}

// CallMany implements Transport.
func (t *HTTP) CallMany(ctx context.Context, dests []lease.NodeID, req Request) map[lease.NodeID]CallResult {
	results := make(map[lease.NodeID]CallResult, len(dests))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, dest := range dests {
		wg.Add(1)
		go func(dest lease.NodeID) {
			defer wg.Done()
			reply, err := t.Call(ctx, dest, req)
			mu.Lock()
			results[dest] = CallResult{Reply: reply, Err: err}
			mu.Unlock()
		}(dest)
	}
	wg.Wait()
	return results
}

// Cast implements Transport.
func (t *HTTP) Cast(dests []lease.NodeID, msg ApplyLogRequest) {
	for _, dest := range dests {
		go func(dest lease.NodeID) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			resp, err := dial(ctx, t.client, http.MethodPost, string(dest), "/applylog", msg)
			if err != nil {
				logging.For("transport", "").WithError(err).WithField("dest", dest).
					Debug("apply-log cast dropped")
				return
			}
			resp.Body.Close()
		}(dest)
	}
}

// NewServer builds the mux.Router a node runs to serve both the
// synchronous Request/Reply RPCs and the asynchronous ApplyLog cast.
func NewServer(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply := h.Handle(req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}).Methods(http.MethodPost)

	r.HandleFunc("/applylog", func(w http.ResponseWriter, r *http.Request) {
		var msg ApplyLogRequest
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleApplyLog(msg)
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	return r
}
