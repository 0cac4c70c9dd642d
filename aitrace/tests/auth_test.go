package tests

import (
	"net/http"
	"strings"
	"testing"
)

func TestSetupAndLogin(t *testing.T) {
	env := setupTestEnv(t)

	var check map[string]bool
	c := env.newClient()
	if err := c.Get("/setup/check").Do(&check); err != nil {
		t.Fatal(err)
	}
	if !check["needs_setup"] {
		t.Fatal("fresh install should need setup")
	}

	admin := env.adminClient(t)
	if admin.user.Role != "admin" || admin.user.Email != adminEmail || admin.user.MustResetPwd {
		t.Fatalf("invalid admin %+v", admin.user)
	}

	if err := c.Get("/setup/check").Do(&check); err != nil {
		t.Fatal(err)
	}
	if check["needs_setup"] {
		t.Fatal("setup should be complete")
	}

	err := env.newClient().setup("other@acme.com", "other_password", "Other")
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("second setup should fail with 400: %v", err)
	}

	if err := c.login(adminEmail, "wrong_password"); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("login with wrong password should fail: %v", err)
	}
	if err := c.login("nobody@acme.com", adminPassword); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("login with unknown email should fail: %v", err)
	}

	if _, err := c.me(); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("me without session should fail: %v", err)
	}

	if err := c.login(strings.ToUpper(adminEmail), adminPassword); err != nil {
		t.Fatal(err)
	}

	info, err := c.me()
	if err != nil {
		t.Fatal(err)
	}
	if info.Id != admin.user.Id || info.Email != adminEmail {
		t.Fatalf("invalid user info %+v", info)
	}
}

func TestSessionCookie(t *testing.T) {
	env := setupTestEnv(t)
	env.adminClient(t)

	c := env.newClient()
	w, err := c.Post("/auth/login").Json(map[string]interface{}{
		"email": adminEmail, "password": adminPassword, "remember_me": true,
	}).Raw()
	if err != nil {
		t.Fatal(err)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "access_token" || !cookies[0].HttpOnly {
		t.Fatalf("login should set the session cookie: %v", cookies)
	}
	if cookies[0].MaxAge != 7*24*60*60 {
		t.Fatalf("remember me should keep the session for 7 days, got %d", cookies[0].MaxAge)
	}

	var info userInfo
	err = c.Get("/auth/me").Header("Cookie", "access_token="+cookies[0].Value).Do(&info)
	if err != nil {
		t.Fatal(err)
	}
	if info.Email != adminEmail {
		t.Fatalf("invalid user info %+v", info)
	}

	w, err = c.Post("/auth/logout").Raw()
	if err != nil {
		t.Fatal(err)
	}
	cookies = w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("logout should clear the session cookie: %v", cookies)
	}

	err = c.Get("/auth/me").Header("Cookie", "access_token=not-a-token").Do(nil)
	if statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("invalid cookie should be rejected: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient(t)

	err := admin.changePassword("wrong_password", "new_password123")
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("wrong old password should be rejected: %v", err)
	}

	err = admin.changePassword(adminPassword, "short")
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("short password should be rejected: %v", err)
	}

	err = admin.changePassword(adminPassword, strings.Repeat("x", 100))
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("password over 72 bytes should be rejected: %v", err)
	}

	if err := admin.changePassword(adminPassword, "new_password123"); err != nil {
		t.Fatal(err)
	}

	c := env.newClient()
	if err := c.login(adminEmail, adminPassword); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("old password should no longer work: %v", err)
	}
	if err := c.login(adminEmail, "new_password123"); err != nil {
		t.Fatal(err)
	}
}

func TestPasswordResetRequired(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient(t)

	created, err := admin.createUser("labeler@acme.com", "user")
	if err != nil {
		t.Fatal(err)
	}
	if !created.User.MustResetPwd || len(created.TempPassword) < 8 {
		t.Fatalf("new users should get a temporary password: %+v", created)
	}

	user := env.newClient()
	if err := user.login("labeler@acme.com", created.TempPassword); err != nil {
		t.Fatal(err)
	}

	if err := user.Get("/datasets").Do(nil); statusOf(err) != http.StatusForbidden {
		t.Fatalf("users with a temporary password should be blocked: %v", err)
	}

	if _, err := user.me(); err != nil {
		t.Fatalf("auth routes should stay available: %v", err)
	}

	if err := user.resetPassword("labeler_password"); err != nil {
		t.Fatal(err)
	}

	if err := user.Get("/datasets").Do(nil); err != nil {
		t.Fatal(err)
	}

	info, err := user.me()
	if err != nil {
		t.Fatal(err)
	}
	if info.MustResetPwd {
		t.Fatal("reset should clear the flag")
	}
}

func TestSignupIsOnlyForSaas(t *testing.T) {
	local := setupTestEnv(t)
	local.adminClient(t)

	c := local.newClient()
	if err := c.signup("new@other.com", "other_password", "Other"); err == nil {
		t.Fatal("signup should not be available in single tenant mode")
	}

	saas := setupTestEnvWithMode(t, false)
	acme := saas.adminClient(t)

	other := saas.newClient()
	if err := other.signup("owner@other.com", "other_password", "Other"); err != nil {
		t.Fatal(err)
	}
	if other.user.Role != "admin" || other.user.TeamId == acme.user.TeamId {
		t.Fatalf("signup should create a new team with its own admin: %+v", other.user)
	}

	schemas, err := acme.listSchemas()
	if err != nil {
		t.Fatal(err)
	}
	dataset, err := acme.createDataset("acme cats", schemas.Items[0].Id)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := other.getDataset(dataset.Id); statusOf(err) != http.StatusNotFound {
		t.Fatalf("datasets should not be visible to other teams: %v", err)
	}

	if _, err := other.createDataset("stolen", schemas.Items[0].Id); statusOf(err) != http.StatusNotFound {
		t.Fatalf("schemas of other teams should not be usable: %v", err)
	}
}
