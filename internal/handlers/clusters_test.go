package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/arcten/shellgate/internal/auth"
	"github.com/arcten/shellgate/internal/sshkeys"
)

func TestListClusters(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, env.aliceToken, "/api/v1/clusters")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Clusters []json.RawMessage `json:"clusters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Clusters) != 2 {
		t.Fatalf("alice sees %d clusters, want 2", len(body.Clusters))
	}
	// Encrypted key material never appears in responses.
	if strings.Contains(string(body.Clusters[0]), "private_key") {
		t.Fatal("cluster listing leaks key material")
	}

	resp = env.get(t, env.bobToken, "/api/v1/clusters")
	var bobBody struct {
		Clusters []json.RawMessage `json:"clusters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bobBody); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(bobBody.Clusters) != 0 {
		t.Fatalf("bob sees %d clusters, want 0", len(bobBody.Clusters))
	}
}

func TestGetClusterHidesForeign(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, env.aliceToken, "/api/v1/clusters/"+itoa(env.clusterID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner get status = %d", resp.StatusCode)
	}

	// A foreign cluster and a nonexistent one are indistinguishable.
	foreign := env.get(t, env.bobToken, "/api/v1/clusters/"+itoa(env.clusterID))
	missing := env.get(t, env.bobToken, "/api/v1/clusters/99999")
	if foreign.StatusCode != http.StatusNotFound || missing.StatusCode != http.StatusNotFound {
		t.Fatalf("statuses = %d and %d, want 404 and 404", foreign.StatusCode, missing.StatusCode)
	}
}

func TestRegisterClusterEndpoint(t *testing.T) {
	env := newTestEnv(t)

	_, keyPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"name":            "node-3",
		"host":            "10.1.0.1",
		"ssh_user":        "deploy",
		"private_key_pem": string(keyPEM),
	})

	req, _ := http.NewRequest("POST", env.srv.URL+"/api/v1/clusters", bytes.NewReader(payload))
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: env.bobToken})
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var created struct {
		ID   uint   `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Name != "node-3" || created.ID == 0 {
		t.Fatalf("created = %+v", created)
	}

	// The registering user owns it; alice does not see it.
	own := env.get(t, env.bobToken, "/api/v1/clusters/"+itoa(created.ID))
	if own.StatusCode != http.StatusOK {
		t.Fatalf("bob get own cluster = %d", own.StatusCode)
	}
	foreign := env.get(t, env.aliceToken, "/api/v1/clusters/"+itoa(created.ID))
	if foreign.StatusCode != http.StatusNotFound {
		t.Fatalf("alice get bob's cluster = %d, want 404", foreign.StatusCode)
	}
}

func TestDeleteCluster(t *testing.T) {
	env := newTestEnv(t)

	// Non-owner deletion is refused without revealing the cluster exists.
	resp := env.request(t, "DELETE", env.bobToken, "/api/v1/clusters/"+itoa(env.clusterID))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign delete = %d, want 404", resp.StatusCode)
	}

	resp = env.request(t, "DELETE", env.aliceToken, "/api/v1/clusters/"+itoa(env.clusterID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp = env.get(t, env.aliceToken, "/api/v1/clusters/"+itoa(env.clusterID))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", resp.StatusCode)
	}
}
