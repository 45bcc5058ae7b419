package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/arcten/shellgate/internal/bridge"
	"github.com/arcten/shellgate/internal/clusters"
	"github.com/arcten/shellgate/internal/middleware"
	"github.com/arcten/shellgate/internal/session"
	"github.com/arcten/shellgate/internal/terminal"
	"github.com/arcten/shellgate/internal/usage"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Collaborators set from main.go during init.
var (
	Registry *session.Registry
	Resolver *clusters.Resolver
	Recorder usage.Recorder

	// OpenTerminal opens the target-facing shell for a cluster; main wires
	// it to the configured driver. Tests substitute a stub.
	OpenTerminal func(params *clusters.ConnParams) (terminal.Terminal, error)
)

// WebSocket close codes for attach failures. Not-found and forbidden
// share one code so a caller probing session ids learns nothing.
const (
	wsCloseNotFound websocket.StatusCode = 4404
	wsCloseExpired  websocket.StatusCode = 4410
	wsCloseConflict websocket.StatusCode = 4409
	wsCloseUpstream websocket.StatusCode = 4502
	wsCloseInternal websocket.StatusCode = 4500
)

// MintTerminalSession authorizes the caller for a cluster and mints a
// pending terminal session. The returned id is only half of what the
// WebSocket attach needs: the attach connection authenticates on its own
// and must prove the same identity.
func MintTerminalSession(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := authorizeCluster(w, r)
	if !ok {
		return
	}

	sess := Registry.Create(caller, id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"expires_at": sess.CreatedAt.Add(Registry.TTL()).UTC().Format(time.RFC3339),
	})
}

// TerminalWS upgrades to a WebSocket and bridges the caller to the
// session's node. The request re-authenticates via its own cookie; the
// session id alone grants nothing.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	id, ok := clusterID(r)
	if !ok {
		http.Error(w, "Invalid cluster ID", http.StatusBadRequest)
		return
	}
	caller, ok := middleware.CallerIdentity(r)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[terminal] websocket accept failed: %v", err)
		return
	}
	defer clientConn.CloseNow()

	// A session minted for one cluster cannot be attached through
	// another cluster's endpoint.
	if s := Registry.Get(sessionID); s == nil || s.ClusterID != id {
		clientConn.Close(wsCloseNotFound, "session not found")
		return
	}

	sess, err := Registry.Attach(sessionID, caller)
	if err != nil {
		code, reason := attachCloseCode(err)
		clientConn.Close(code, reason)
		return
	}
	defer Registry.Destroy(sess.ID)

	params, err := Resolver.Resolve(sess.ClusterID)
	if err != nil {
		log.Printf("[terminal] session %s: resolve cluster %d: %v", sess.ID, sess.ClusterID, err)
		clientConn.Close(wsCloseUpstream, "node is not available")
		return
	}

	term, err := OpenTerminal(params)
	if err != nil {
		log.Printf("[terminal] session %s: open terminal: %v", sess.ID, err)
		clientConn.Close(wsCloseUpstream, "cannot reach node")
		return
	}

	stream := newWSStream(r.Context(), clientConn, term.Resize)
	if err := stream.sendStatus("connected", sess.ID); err != nil {
		term.Close()
		return
	}

	ev := usage.Event{SessionID: sess.ID, Caller: caller, ClusterID: sess.ClusterID, FrontDoor: "ws"}
	Recorder.SessionStarted(ev)
	begin := time.Now()

	res := bridge.Run(sess, stream, term)

	Recorder.SessionEnded(ev, time.Since(begin), res.BytesToTarget, res.BytesToClient)
	clientConn.Close(websocket.StatusNormalClosure, "")
}

func attachCloseCode(err error) (websocket.StatusCode, string) {
	switch {
	case errors.Is(err, session.ErrExpired):
		return wsCloseExpired, "session expired"
	case errors.Is(err, session.ErrConflict):
		return wsCloseConflict, "session already attached"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrForbidden):
		return wsCloseNotFound, "session not found"
	default:
		return wsCloseInternal, "internal error"
	}
}

// ListTerminalSessions returns the caller's sessions on a cluster.
func ListTerminalSessions(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := authorizeCluster(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": Registry.ListForCluster(id, caller),
	})
}

// CloseTerminalSession is the explicit administrative stop: it funnels
// into the same idempotent destroy path as every other termination.
func CloseTerminalSession(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := authorizeCluster(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	sess := Registry.Get(sessionID)
	if sess == nil || sess.ClusterID != id || sess.Owner != caller {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	Registry.Destroy(sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
