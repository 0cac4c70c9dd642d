package tests

import (
	"aitrace_platform/aitrace/auth"
	"aitrace_platform/aitrace/database"
	"aitrace_platform/aitrace/rows"
	"aitrace_platform/aitrace/services"
	"aitrace_platform/aitrace/storage"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const (
	adminEmail    = "admin@acme.com"
	adminPassword = "admin_password123"
	teamName      = "Acme"
)

type testEnv struct {
	db      *gorm.DB
	api     chi.Router
	storage *storage.LocalStorage
	images  *imageServer
	audit   *bytes.Buffer
}

// imageServer serves a few distinct png files, standing in for the external
// hosts images are linked from.
type imageServer struct {
	server *httptest.Server
	images map[string][]byte
}

func pngImage(shade uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(3, 3, color.RGBA{R: shade, G: 120, B: 30, A: 255})
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func newImageServer(t *testing.T) *imageServer {
	s := &imageServer{images: map[string][]byte{}}
	for i := 1; i <= 5; i++ {
		s.images[fmt.Sprintf("/cat%d.png", i)] = pngImage(uint8(i * 20))
	}
	s.images["/not-an-image.png"] = []byte("plain text pretending to be a png")

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := s.images[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	t.Cleanup(s.server.Close)

	return s
}

func (s *imageServer) url(i int) string {
	return fmt.Sprintf("%v/cat%d.png", s.server.URL, i)
}

func setupTestEnvWithMode(t *testing.T, singleTenant bool) *testEnv {
	db := database.NewTestDB(t)

	store := storage.NewLocalStorage(t.TempDir(), storage.WithoutDiskCheck())
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	audit := new(bytes.Buffer)
	fetcher := rows.NewHttpFetcher()

	aitrace := services.NewAiTrace(services.Options{
		DB:           db,
		Storage:      store,
		Rows:         rows.NewEngine(store, fetcher, nil),
		Fetcher:      fetcher,
		Identity:     auth.NewBasicIdentityProvider(db),
		Secret:       []byte("a0f3k2l4c9x8v7b6"),
		AuditLog:     auth.NewAuditLogger(audit),
		SingleTenant: singleTenant,
	})

	return &testEnv{
		db:      db,
		api:     aitrace.Routes(),
		storage: store,
		images:  newImageServer(t),
		audit:   audit,
	}
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithMode(t, true)
}

func (e *testEnv) newClient() *client {
	return &client{api: e.api}
}

// adminClient completes the initial setup and returns the admin's session.
func (e *testEnv) adminClient(t *testing.T) *client {
	c := e.newClient()
	if err := c.setup(adminEmail, adminPassword, teamName); err != nil {
		t.Fatal(err)
	}
	return c
}

// newUser has the admin create a user, then logs them in and replaces the
// temporary password.
func (e *testEnv) newUser(t *testing.T, admin *client, email string) *client {
	created, err := admin.createUser(email, "user")
	if err != nil {
		t.Fatal(err)
	}

	c := e.newClient()
	if err := c.login(email, created.TempPassword); err != nil {
		t.Fatal(err)
	}
	if err := c.resetPassword(email + "_password"); err != nil {
		t.Fatal(err)
	}
	return c
}
