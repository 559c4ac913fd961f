package api

import (
	"bytes"
	"comicstrip/internal/config"
	"comicstrip/internal/entity"
	"comicstrip/internal/llm"
	sqlrepo "comicstrip/internal/model/sql"
	"comicstrip/internal/service"
	"comicstrip/internal/storage"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeExpander struct {
	calls atomic.Int32
	err   error
}

func (f *fakeExpander) ExpandPrompt(_ context.Context, prompt string) (*llm.Expansion, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := &llm.Expansion{}
	for i := 1; i <= 6; i++ {
		out.Prompts = append(out.Prompts, fmt.Sprintf("%s, panel %d", prompt, i))
		out.Descriptions = append(out.Descriptions, fmt.Sprintf("desc %d", i))
	}
	return out, nil
}

type fakeSynthesizer struct {
	err error
}

func (f *fakeSynthesizer) SynthesizeImages(_ context.Context, prompts []string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, len(prompts))
	for i := range prompts {
		out[i] = fmt.Sprintf("https://img.example/%d.png", i+1)
	}
	return out, nil
}

type testServer struct {
	handler     *HTTPHandler
	router      *gin.Engine
	expander    *fakeExpander
	synthesizer *fakeSynthesizer
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "api.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&entity.DbUser{}, &entity.DbComic{}, &entity.DbQuotaCounter{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	cfg := config.Config{
		JWTSecret:            "test-secret",
		JWTIssuer:            "comicstrip-test",
		JWTExpirationMinutes: 60,
		QuotaReadPolicy:      "fail_open",
		AllowRegistration:    true,
		ScreenshotMaxBytes:   1 << 20,
		StoragePublicBaseURL: "/files",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ts := &testServer{expander: &fakeExpander{}, synthesizer: &fakeSynthesizer{}}
	handler, err := NewHTTPHandler(cfg, sqlrepo.NewGormRepository(db), store, ts.expander, ts.synthesizer)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	ts.handler = handler
	ts.router = gin.New()
	handler.RegisterRoutes(ts.router)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) register(t *testing.T, email string) entity.AuthResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"email": email, "password": "correct-horse"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, w.Code, w.Body.String())
	}
	var resp entity.AuthResponse
	decodeBody(t, w, &resp)
	return resp
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
}

func assertAPIError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, w.Code, w.Body.String())
	}
	var apiErr APIError
	decodeBody(t, w, &apiErr)
	if apiErr.Code != code {
		t.Errorf("expected code %s, got %s", code, apiErr.Code)
	}
}

func TestComicGenerationFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.register(t, "reader@example.com").Token

	w := ts.do(t, http.MethodGet, "/api/credits", token, nil)
	var credits entity.CreditsResponse
	decodeBody(t, w, &credits)
	if credits.Credits != 18 || credits.MaxCredits != 18 {
		t.Fatalf("unexpected initial credits: %+v", credits)
	}

	w = ts.do(t, http.MethodPost, "/api/comics", token, gin.H{"prompt": "a robot bakes bread", "client_id": "tab-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("generate: status %d body %s", w.Code, w.Body.String())
	}
	var generated entity.GenerateComicResponse
	decodeBody(t, w, &generated)
	if generated.GenerationID == "" || !generated.Recorded {
		t.Errorf("unexpected generation: %+v", generated)
	}
	if len(generated.ImageURLs) != 6 || len(generated.ImgDesc) != 6 || len(generated.Slots) != 6 {
		t.Errorf("expected 6 images, descriptions and slots, got %d/%d/%d", len(generated.ImageURLs), len(generated.ImgDesc), len(generated.Slots))
	}
	if generated.ImgDesc[0] != "desc 1" || generated.Slots[0].GridArea != "1 / 1 / 2 / 3" {
		t.Errorf("unexpected layout: %+v", generated.Slots[0])
	}
	if generated.Credits != 12 {
		t.Errorf("expected 12 credits after first generation, got %d", generated.Credits)
	}

	// 截图挂到同一条记录上
	png := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nbody"))
	w = ts.do(t, http.MethodPost, "/api/comics/"+generated.GenerationID+"/screenshot", token, gin.H{"screenshot": png, "client_id": "tab-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("screenshot: status %d body %s", w.Code, w.Body.String())
	}
	var shot entity.ScreenshotResponse
	decodeBody(t, w, &shot)
	if !strings.HasPrefix(shot.ScreenshotURL, "/files/screenshots/") || !strings.HasSuffix(shot.ScreenshotURL, ".png") {
		t.Errorf("unexpected screenshot url %q", shot.ScreenshotURL)
	}

	w = ts.do(t, http.MethodGet, "/api/comics", token, nil)
	var list entity.ComicListResponse
	decodeBody(t, w, &list)
	if len(list.Comics) != 1 || list.Meta.Total != 1 {
		t.Fatalf("expected exactly one record, got %+v", list)
	}
	if list.Comics[0].ScreenshotURL != shot.ScreenshotURL || list.Comics[0].Prompt != "a robot bakes bread" {
		t.Errorf("unexpected history item: %+v", list.Comics[0])
	}
	if len(list.Comics[0].Panels) != 6 || list.Comics[0].Panels[5].ImageURL != "https://img.example/6.png" {
		t.Errorf("unexpected history panels: %+v", list.Comics[0].Panels)
	}

	for i, want := range []int{6, 0} {
		w = ts.do(t, http.MethodPost, "/api/comics", token, gin.H{"prompt": fmt.Sprintf("story %d", i), "client_id": "tab-1"})
		decodeBody(t, w, &generated)
		if generated.Credits != want {
			t.Errorf("generation %d: expected %d credits, got %d", i+2, want, generated.Credits)
		}
	}

	w = ts.do(t, http.MethodPost, "/api/comics", token, gin.H{"prompt": "one too many", "client_id": "tab-1"})
	assertAPIError(t, w, http.StatusTooManyRequests, ErrCodeOutOfCredits)
	if got := ts.expander.calls.Load(); got != 3 {
		t.Errorf("expected 3 expander calls, got %d", got)
	}

	w = ts.do(t, http.MethodGet, "/api/session?client_id=tab-1", token, nil)
	var session entity.SessionResponse
	decodeBody(t, w, &session)
	if session.Loading || session.Credits != 0 || session.Sequence != 3 || len(session.ImageURLs) != 6 {
		t.Errorf("unexpected session: %+v", session)
	}
}

func TestGenerateComicErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.register(t, "reader@example.com").Token

	t.Run("未登录", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/comics", "", gin.H{"prompt": "hi"})
		assertAPIError(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)
	})

	t.Run("空提示词", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/comics", token, gin.H{"prompt": "   "})
		assertAPIError(t, w, http.StatusBadRequest, ErrCodeMissingField)
	})

	t.Run("生成失败", func(t *testing.T) {
		ts.synthesizer.err = &llm.CollaboratorError{Stage: "image", Status: 500, Message: "boom"}
		defer func() { ts.synthesizer.err = nil }()

		w := ts.do(t, http.MethodPost, "/api/comics", token, gin.H{"prompt": "hi"})
		assertAPIError(t, w, http.StatusBadGateway, ErrCodeGenerationFailed)

		w = ts.do(t, http.MethodGet, "/api/credits", token, nil)
		var credits entity.CreditsResponse
		decodeBody(t, w, &credits)
		if credits.Credits != 18 {
			t.Errorf("failed generation must not consume credits, got %d", credits.Credits)
		}
	})
}

func TestComicsAreScopedToOwner(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.register(t, "owner@example.com").Token
	other := ts.register(t, "other@example.com").Token

	w := ts.do(t, http.MethodPost, "/api/comics", owner, gin.H{"prompt": "mine"})
	var generated entity.GenerateComicResponse
	decodeBody(t, w, &generated)

	path := "/api/comics/" + generated.GenerationID
	assertAPIError(t, ts.do(t, http.MethodGet, path, other, nil), http.StatusNotFound, ErrCodeComicNotFound)
	assertAPIError(t, ts.do(t, http.MethodDelete, path, other, nil), http.StatusNotFound, ErrCodeComicNotFound)

	png := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nbody"))
	assertAPIError(t, ts.do(t, http.MethodPost, path+"/screenshot", other, gin.H{"screenshot": png}), http.StatusNotFound, ErrCodeComicNotFound)

	if w := ts.do(t, http.MethodGet, path, owner, nil); w.Code != http.StatusOK {
		t.Fatalf("owner get: status %d", w.Code)
	}
	if w := ts.do(t, http.MethodDelete, path, owner, nil); w.Code != http.StatusNoContent {
		t.Fatalf("owner delete: status %d", w.Code)
	}

	// 删除不返还额度
	w = ts.do(t, http.MethodGet, "/api/credits", owner, nil)
	var credits entity.CreditsResponse
	decodeBody(t, w, &credits)
	if credits.Credits != 12 {
		t.Errorf("expected 12 credits after delete, got %d", credits.Credits)
	}
}

func TestRegistrationAndLogin(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.AllowRegistration = false })

	first := ts.register(t, "Admin@Example.com")
	if first.User.Role != entity.UserRoleSuperAdmin || first.User.Email != "admin@example.com" {
		t.Errorf("unexpected first user: %+v", first.User)
	}

	w := ts.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"email": "late@example.com", "password": "correct-horse"})
	assertAPIError(t, w, http.StatusForbidden, ErrCodeRegistrationClosed)

	tests := []struct {
		name     string
		email    string
		password string
		status   int
	}{
		{name: "正确密码", email: "admin@example.com", password: "correct-horse", status: http.StatusOK},
		{name: "错误密码", email: "admin@example.com", password: "wrong-horse", status: http.StatusUnauthorized},
		{name: "用户不存在", email: "nobody@example.com", password: "correct-horse", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": tt.email, "password": tt.password})
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d (%s)", tt.status, w.Code, w.Body.String())
			}
			if tt.status == http.StatusUnauthorized {
				var apiErr APIError
				decodeBody(t, w, &apiErr)
				if apiErr.Code != ErrCodeInvalidCredentials {
					t.Errorf("expected %s, got %s", ErrCodeInvalidCredentials, apiErr.Code)
				}
			}
		})
	}

	w = ts.do(t, http.MethodGet, "/api/auth/status", "", nil)
	var status entity.AuthStatusResponse
	decodeBody(t, w, &status)
	if !status.HasUser || status.AllowRegistration {
		t.Errorf("unexpected auth status: %+v", status)
	}
}

func TestSecondRegistrationIsPlainUser(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t, "first@example.com")
	second := ts.register(t, "second@example.com")
	if second.User.Role != entity.UserRoleUser {
		t.Errorf("expected role %s, got %s", entity.UserRoleUser, second.User.Role)
	}

	w := ts.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"email": "second@example.com", "password": "correct-horse"})
	assertAPIError(t, w, http.StatusBadRequest, ErrCodeEmailExists)

	w = ts.do(t, http.MethodGet, "/api/users", second.Token, nil)
	assertAPIError(t, w, http.StatusForbidden, ErrCodeForbidden)
}

func TestGeneratorEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.register(t, "reader@example.com").Token

	w := ts.do(t, http.MethodPost, "/api/prompt-generator", token, gin.H{"prompt": "a dragon"})
	if w.Code != http.StatusOK {
		t.Fatalf("prompt generator: status %d body %s", w.Code, w.Body.String())
	}
	var prompts entity.PromptGeneratorResponse
	decodeBody(t, w, &prompts)
	if len(prompts.Prompts) != 6 {
		t.Fatalf("expected 6 prompts, got %d", len(prompts.Prompts))
	}
	descriptions, err := llm.DecodeDescriptions(prompts.ImgDesc)
	if err != nil {
		t.Fatalf("decode img_desc: %v", err)
	}
	for i, desc := range descriptions {
		if desc != fmt.Sprintf("desc %d", i+1) {
			t.Errorf("description %d = %q", i, desc)
		}
	}

	w = ts.do(t, http.MethodPost, "/api/image-generator", token, gin.H{"prompts": prompts.Prompts})
	var images entity.ImageGeneratorResponse
	decodeBody(t, w, &images)
	if len(images.ImageURLs) != 6 {
		t.Errorf("expected 6 images, got %d", len(images.ImageURLs))
	}

	w = ts.do(t, http.MethodPost, "/api/image-generator", token, gin.H{"prompts": []string{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty prompts, got %d", w.Code)
	}

	ts.expander.err = errors.New("upstream exploded")
	w = ts.do(t, http.MethodPost, "/api/prompt-generator", token, gin.H{"prompt": "a dragon"})
	var failure entity.GeneratorErrorResponse
	decodeBody(t, w, &failure)
	if w.Code != http.StatusInternalServerError || failure.Message != "upstream exploded" {
		t.Errorf("unexpected failure response %d %+v", w.Code, failure)
	}
}

func TestNotifyComicEventReachesOwnClientOnly(t *testing.T) {
	ts := newTestServer(t, nil)

	mine := make(chan sseMessage, 4)
	theirs := make(chan sseMessage, 4)
	ts.handler.registerSSEClient(sseKey("1", "tab"), mine)
	ts.handler.registerSSEClient(sseKey("2", "tab"), theirs)
	defer ts.handler.unregisterSSEClient(sseKey("1", "tab"), mine)
	defer ts.handler.unregisterSSEClient(sseKey("2", "tab"), theirs)

	ts.handler.notifyComicEvent("1", "tab", service.ComicEvent{
		Type:         service.EventGenerationCompleted,
		GenerationID: "gen-1",
		Credits:      12,
	})

	if len(mine) != 2 {
		t.Fatalf("expected completion and credits events, got %d", len(mine))
	}
	if msg := <-mine; msg.event != service.EventGenerationCompleted {
		t.Errorf("unexpected first event %q", msg.event)
	}
	if msg := <-mine; msg.event != service.EventCreditsUpdated {
		t.Errorf("unexpected second event %q", msg.event)
	}
	if len(theirs) != 0 {
		t.Errorf("other user's client must not receive events, got %d", len(theirs))
	}
}
