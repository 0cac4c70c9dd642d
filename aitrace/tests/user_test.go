package tests

import (
	"fmt"
	"net/http"
	"testing"
)

func TestUserManagement(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient(t)

	created, err := admin.createUser("Labeler@Acme.com", "")
	if err != nil {
		t.Fatal(err)
	}
	if created.User.Email != "labeler@acme.com" || created.User.Role != "user" || created.User.TeamId != admin.user.TeamId {
		t.Fatalf("invalid new user %+v", created.User)
	}

	if _, err := admin.createUser("labeler@acme.com", "user"); statusOf(err) != http.StatusConflict {
		t.Fatalf("duplicate email should be rejected: %v", err)
	}
	if _, err := admin.createUser("not an email", "user"); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("invalid email should be rejected: %v", err)
	}
	if _, err := admin.createUser("x@acme.com", "owner"); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("invalid role should be rejected: %v", err)
	}

	users, err := admin.listUsers()
	if err != nil {
		t.Fatal(err)
	}
	if users.Total != 2 || len(users.Items) != 2 || users.Items[0].Email != adminEmail {
		t.Fatalf("expected admin and new user, got %+v", users)
	}

	user := env.newClient()
	if err := user.login("labeler@acme.com", created.TempPassword); err != nil {
		t.Fatal(err)
	}
	if err := user.resetPassword("labeler_password"); err != nil {
		t.Fatal(err)
	}

	if _, err := user.createUser("y@acme.com", "user"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("users cannot create users: %v", err)
	}
	if _, err := user.listUsers(); statusOf(err) != http.StatusForbidden {
		t.Fatalf("users cannot list users: %v", err)
	}

	var reset createdUser
	if err := admin.Post(fmt.Sprintf("/users/%v/reset-password", created.User.Id)).Do(&reset); err != nil {
		t.Fatal(err)
	}
	if !reset.User.MustResetPwd || reset.TempPassword == "" {
		t.Fatalf("reset should issue a temporary password: %+v", reset)
	}
	if err := env.newClient().login("labeler@acme.com", "labeler_password"); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("reset should replace the old password: %v", err)
	}

	if err := admin.deleteUser(created.User.Id); err != nil {
		t.Fatal(err)
	}
	if err := admin.Get(fmt.Sprintf("/users/%v", created.User.Id)).Do(nil); statusOf(err) != http.StatusNotFound {
		t.Fatalf("deleted user should be gone: %v", err)
	}
	if err := admin.deleteUser(created.User.Id); statusOf(err) != http.StatusNotFound {
		t.Fatalf("deleting a missing user should be 404: %v", err)
	}
}

func TestAdminSafeguards(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient(t)

	if err := admin.deleteUser(admin.user.Id); statusOf(err) != http.StatusForbidden {
		t.Fatalf("sole admin cannot delete themselves: %v", err)
	}
	if err := admin.setRole(admin.user.Id, "user"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("last admin cannot be demoted: %v", err)
	}

	created, err := admin.createUser("second@acme.com", "user")
	if err != nil {
		t.Fatal(err)
	}
	if err := admin.setRole(created.User.Id, "admin"); err != nil {
		t.Fatal(err)
	}

	if err := admin.setRole(admin.user.Id, "user"); err != nil {
		t.Fatalf("demotion should be allowed with another admin: %v", err)
	}

	if err := admin.Get("/users").Do(nil); statusOf(err) != http.StatusForbidden {
		t.Fatalf("demoted admin should lose access: %v", err)
	}
}

func TestTeamSettings(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient(t)
	user := env.newUser(t, admin, "labeler@acme.com")

	var team struct {
		Id   string `json:"id"`
		Name string `json:"name"`
	}
	if err := user.Get("/team").Do(&team); err != nil {
		t.Fatal(err)
	}
	if team.Name != teamName || team.Id != admin.user.TeamId.String() {
		t.Fatalf("invalid team %+v", team)
	}

	if err := user.Put("/team").Json(map[string]string{"name": "Renamed"}).Do(nil); statusOf(err) != http.StatusForbidden {
		t.Fatalf("users cannot rename the team: %v", err)
	}
	if err := admin.Put("/team").Json(map[string]string{"name": "  "}).Do(nil); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("empty team name should be rejected: %v", err)
	}
	if err := admin.Put("/team").Json(map[string]string{"name": "Renamed"}).Do(&team); err != nil {
		t.Fatal(err)
	}
	if team.Name != "Renamed" {
		t.Fatalf("team should be renamed, got %v", team.Name)
	}
}
