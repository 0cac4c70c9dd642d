package tests

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAPIKeys(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient(t)
	user := env.newUser(t, admin, "labeler@acme.com")

	if _, err := user.createAPIKey("ci"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("users cannot create api keys: %v", err)
	}

	key, err := admin.createAPIKey("ci")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key.Key, "sk-") || key.Preview != key.Key[:8]+"***" {
		t.Fatalf("invalid api key %+v", key)
	}

	var keys []struct {
		Id      string `json:"id"`
		Name    string `json:"name"`
		Preview string `json:"preview"`
		Key     string `json:"key"`
	}
	if err := admin.Get("/api-keys").Do(&keys); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0].Preview != key.Preview || keys[0].Key != "" {
		t.Fatalf("list should only show previews: %+v", keys)
	}

	byHeader := env.newClient()
	var info userInfo
	if err := byHeader.Get("/auth/me").Header("X-API-Key", key.Key).Do(&info); err != nil {
		t.Fatal(err)
	}
	if info.Id != admin.user.Id {
		t.Fatalf("api key should act as its creator, got %+v", info)
	}

	byBearer := &client{api: env.api, authToken: key.Key}
	if err := byBearer.Get("/datasets").Do(nil); err != nil {
		t.Fatalf("api keys should be accepted as bearer tokens: %v", err)
	}

	if !strings.Contains(env.audit.String(), `"api_key_id"`) {
		t.Fatal("api key requests should be audited with the key id")
	}

	if err := env.newClient().Get("/datasets").Header("X-API-Key", key.Key+"x").Do(nil); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("wrong key should be rejected: %v", err)
	}

	if err := admin.Delete(fmt.Sprintf("/api-keys/%v", key.Id)).Do(nil); err != nil {
		t.Fatal(err)
	}
	if err := byBearer.Get("/datasets").Do(nil); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("deleted key should be rejected: %v", err)
	}
	if err := admin.Delete(fmt.Sprintf("/api-keys/%v", key.Id)).Do(nil); statusOf(err) != http.StatusNotFound {
		t.Fatalf("deleting a missing key should be 404: %v", err)
	}
}

func TestFeatureFlags(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient(t)
	user := env.newUser(t, admin, "labeler@acme.com")

	type flag struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}

	var flags []flag
	if err := user.Get("/feature-flags").Do(&flags); err != nil {
		t.Fatal(err)
	}
	if len(flags) != 1 || flags[0].Name != "ai_name_creation" || !flags[0].Enabled {
		t.Fatalf("teams should start with ai naming enabled: %+v", flags)
	}

	disable := map[string]bool{"enabled": false}
	if err := user.Patch("/feature-flags/ai_name_creation").Json(disable).Do(nil); statusOf(err) != http.StatusForbidden {
		t.Fatalf("users cannot change flags: %v", err)
	}
	if err := admin.Patch("/feature-flags/unknown_flag").Json(disable).Do(nil); statusOf(err) != http.StatusNotFound {
		t.Fatalf("unknown flags should be 404: %v", err)
	}

	var updated flag
	if err := admin.Patch("/feature-flags/ai_name_creation").Json(disable).Do(&updated); err != nil {
		t.Fatal(err)
	}
	if updated.Enabled {
		t.Fatal("flag should be disabled")
	}

	if err := user.Get("/feature-flags").Do(&flags); err != nil {
		t.Fatal(err)
	}
	if flags[0].Enabled {
		t.Fatal("flag change should be visible to the team")
	}
}

func TestMetricsAndHealth(t *testing.T) {
	env := setupTestEnv(t)

	var health map[string]string
	if err := env.newClient().Get("/health").Do(&health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "ok" {
		t.Fatalf("invalid health response %v", health)
	}

	c := env.newClient()
	r := &httpTestRequest{api: c.api, method: "GET", endpoint: "/metrics"}
	w, err := r.Raw()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatal("metrics should be served")
	}
}
