package controllers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"ChatStream/controllers"
	"ChatStream/pkg/chat"
	"ChatStream/pkg/chat/chattest"
	"ChatStream/pkg/services"
	"ChatStream/pkg/store"
	"ChatStream/pkg/store/storetest"
	tokenstore "ChatStream/pkg/token"
	"ChatStream/routes"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	r         *gin.Engine
	deps      *controllers.Deps
	db        *gorm.DB
	gen       *chattest.Generator
	uploadDir string
	alice     uint
	bob       uint
}

// newEnv wires the full router over an in-memory database. configure may
// adjust the dependencies before the routes are registered.
func newEnv(t *testing.T, gen *chattest.Generator, configure ...func(*controllers.Deps)) *testEnv {
	t.Helper()
	db := storetest.NewSQLite(t)
	st := store.NewGormStore(db)
	reg := chat.NewRegistry(st, gen, nil, time.Second)
	dir := t.TempDir()
	deps := &controllers.Deps{
		DB:       db,
		Store:    st,
		Registry: reg,
		Pipeline: chat.NewPipeline(st, reg, gen, nil, chat.Options{GenerationTimeout: 5 * time.Second}),
		Issuer:   tokenstore.NewIssuer("test-secret", time.Hour),
		Revoked:  tokenstore.NewMemory(),
		Avatars:  services.NewAvatarStorage(dir, "/uploads"),
	}
	for _, fn := range configure {
		fn(deps)
	}
	r := gin.New()
	routes.RegisterRoutes(r, deps, dir)
	return &testEnv{
		r:         r,
		deps:      deps,
		db:        db,
		gen:       gen,
		uploadDir: dir,
		alice:     storetest.NewUser(t, db, "alice"),
		bob:       storetest.NewUser(t, db, "bob"),
	}
}

func (e *testEnv) token(t *testing.T, uid uint) string {
	t.Helper()
	tok, _, err := e.deps.Issuer.Issue(uid)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			buf, err := json.Marshal(b)
			require.NoError(t, err)
			rd = bytes.NewReader(buf)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) (msg, code string) {
	t.Helper()
	var body struct {
		Msg  string `json:"msg"`
		Code string `json:"code"`
	}
	decode(t, w, &body)
	return body.Msg, body.Code
}

func okStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, w.Body.String())
}

