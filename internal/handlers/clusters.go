package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/arcten/shellgate/internal/access"
	"github.com/arcten/shellgate/internal/clusters"
	"github.com/arcten/shellgate/internal/database"
	"github.com/arcten/shellgate/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Authz is the ownership evaluator for the web front door, set from main.
var Authz *access.Ownership

// clusterID parses the {id} route parameter.
func clusterID(r *http.Request) (uint, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

// authorizeCluster resolves the caller and checks cluster ownership.
// Denials and unknown clusters are both reported as not found so an
// unauthorized caller cannot probe which cluster ids exist.
func authorizeCluster(w http.ResponseWriter, r *http.Request) (uint, access.Identity, bool) {
	id, ok := clusterID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid cluster ID")
		return 0, access.Identity{}, false
	}
	caller, ok := middleware.CallerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return 0, access.Identity{}, false
	}
	if err := Authz.Authorize(caller, id); err != nil {
		writeError(w, http.StatusNotFound, "Cluster not found")
		return 0, access.Identity{}, false
	}
	return id, caller, true
}

func ListClusters(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	cs, err := database.ListClustersForOwner(caller.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clusters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clusters": cs})
}

func RegisterCluster(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var body struct {
		Name          string `json:"name"`
		Host          string `json:"host"`
		Port          int    `json:"port"`
		SSHUser       string `json:"ssh_user"`
		PrivateKeyPEM string `json:"private_key_pem"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Port == 0 {
		body.Port = 22
	}

	c, err := clusters.Register(body.Name, body.Host, body.Port, body.SSHUser, []byte(body.PrivateKeyPEM), caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cluster parameters")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func GetCluster(w http.ResponseWriter, r *http.Request) {
	id, _, ok := authorizeCluster(w, r)
	if !ok {
		return
	}
	c, err := database.GetClusterByID(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Cluster not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func DeleteCluster(w http.ResponseWriter, r *http.Request) {
	id, _, ok := authorizeCluster(w, r)
	if !ok {
		return
	}
	if err := database.DeleteCluster(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete cluster")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
