package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ownide/internal/sandbox/controller"
	"ownide/internal/sandbox/middleware"
	"ownide/internal/sandbox/model"
	appErr "ownide/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeService struct {
	mu        sync.Mutex
	submitErr error
	visitors  []model.Visitor
	requests  []model.ExecutionRequest

	// statuses are returned in order; the last one repeats.
	statuses  []model.SubmissionStatus
	statusErr error
	calls     int
}

func (s *fakeService) Submit(ctx context.Context, visitor model.Visitor, req model.ExecutionRequest) (model.SubmissionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitors = append(s.visitors, visitor)
	s.requests = append(s.requests, req)
	if s.submitErr != nil {
		return model.SubmissionStatus{}, s.submitErr
	}
	return model.SubmissionStatus{TaskID: "t1", UserID: visitor.ID, Status: model.StatusPending}, nil
}

func (s *fakeService) Status(ctx context.Context, taskID string) (model.SubmissionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil && s.calls >= len(s.statuses) {
		return model.SubmissionStatus{}, s.statusErr
	}
	if len(s.statuses) == 0 {
		return model.SubmissionStatus{}, appErr.New(appErr.SubmissionNotFound)
	}
	idx := s.calls
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	s.calls++
	return s.statuses[idx], nil
}

func newRouter(svc *fakeService, watch controller.WatchConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := controller.NewSandboxController(svc, watch)
	api := r.Group("/api/sandbox")
	api.Use(middleware.VisitorMiddleware(nil, middleware.VisitorConfig{}))
	api.POST("", h.Submit)
	api.GET("/status/:task_id", h.GetStatus)
	api.GET("/watch/:task_id", h.Watch)
	return r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return env
}

func TestSubmitAccepted(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc, controller.WatchConfig{})

	body := `{"language":"python","code":"print(1)","input_data":"5"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sandbox", strings.NewReader(body)))

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	var data map[string]interface{}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["task_id"] != "t1" || data["status"] != "pending" {
		t.Fatalf("unexpected data: %v", data)
	}
	if v, ok := data["result"]; !ok || v != nil {
		t.Fatalf("result must be present and null: %v", data)
	}
	if len(svc.requests) != 1 || *svc.requests[0].InputData != "5" || svc.requests[0].Language != model.LanguagePython {
		t.Fatalf("unexpected request: %+v", svc.requests)
	}
	if !strings.HasPrefix(svc.visitors[0].ID, "guest_") {
		t.Fatalf("expected guest visitor, got %+v", svc.visitors[0])
	}
}

func TestSubmitErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed body", `{"language":`, nil, http.StatusBadRequest},
		{"unsupported language", `{"language":"ruby","code":"x"}`, appErr.New(appErr.LanguageNotSupported), http.StatusBadRequest},
		{"quota", `{"language":"python","code":"x"}`, appErr.New(appErr.GuestQuotaExceeded), http.StatusTooManyRequests},
		{"queue full", `{"language":"python","code":"x"}`, appErr.New(appErr.SandboxQueueFull), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(&fakeService{submitErr: tc.err}, controller.WatchConfig{})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sandbox", strings.NewReader(tc.body)))
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	out := "3\n"
	code := 0
	svc := &fakeService{statuses: []model.SubmissionStatus{{
		TaskID: "t1",
		UserID: "guest_x",
		Status: model.StatusCompleted,
		Result: &model.ExecutionResult{Stdout: &out, ExitCode: &code, ExecutionTime: 0.01},
	}}}
	r := newRouter(svc, controller.WatchConfig{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sandbox/status/t1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	var got model.SubmissionStatus
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.Status != model.StatusCompleted || got.Result == nil || *got.Result.Stdout != "3\n" {
		t.Fatalf("unexpected status: %+v", got)
	}
	if !strings.Contains(string(env.Data), `"error_type":null`) {
		t.Fatalf("error_type must render as null: %s", env.Data)
	}
}

func TestGetStatusNotFound(t *testing.T) {
	r := newRouter(&fakeService{}, controller.WatchConfig{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sandbox/status/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if env := decodeEnvelope(t, w); env.Code != int(appErr.SubmissionNotFound) {
		t.Fatalf("unexpected code %d", env.Code)
	}
}

func dialWatch(t *testing.T, srv *httptest.Server, taskID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sandbox/watch/" + taskID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial (status %d): %v", status, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) model.SubmissionStatus {
	t.Helper()
	var status model.SubmissionStatus
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	return status
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close frame, got %v", err)
	}
	if closeErr.Code != code {
		t.Fatalf("expected close code %d, got %d (%s)", code, closeErr.Code, closeErr.Text)
	}
}

func TestWatchPushesChangesUntilTerminal(t *testing.T) {
	code := 0
	svc := &fakeService{statuses: []model.SubmissionStatus{
		{TaskID: "t1", Status: model.StatusPending},
		{TaskID: "t1", Status: model.StatusPending},
		{TaskID: "t1", Status: model.StatusRunning},
		{TaskID: "t1", Status: model.StatusCompleted, Result: &model.ExecutionResult{ExitCode: &code}},
	}}
	srv := httptest.NewServer(newRouter(svc, controller.WatchConfig{Interval: 10 * time.Millisecond, Timeout: 5 * time.Second}))
	defer srv.Close()

	conn := dialWatch(t, srv, "t1")
	want := []model.Status{model.StatusPending, model.StatusRunning, model.StatusCompleted}
	for _, status := range want {
		if got := readStatus(t, conn); got.Status != status {
			t.Fatalf("expected %s, got %s", status, got.Status)
		}
	}
	expectClose(t, conn, websocket.CloseNormalClosure)
}

func TestWatchUnknownTask(t *testing.T) {
	srv := httptest.NewServer(newRouter(&fakeService{}, controller.WatchConfig{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sandbox/watch/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %+v", resp)
	}
}

func TestWatchTaskExpires(t *testing.T) {
	svc := &fakeService{
		statuses:  []model.SubmissionStatus{{TaskID: "t1", Status: model.StatusRunning}},
		statusErr: appErr.New(appErr.SubmissionNotFound),
	}
	srv := httptest.NewServer(newRouter(svc, controller.WatchConfig{Interval: 10 * time.Millisecond, Timeout: 5 * time.Second}))
	defer srv.Close()

	conn := dialWatch(t, srv, "t1")
	if got := readStatus(t, conn); got.Status != model.StatusRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}
	expectClose(t, conn, controller.CloseTaskNotFound)
}

func TestWatchTimeout(t *testing.T) {
	svc := &fakeService{statuses: []model.SubmissionStatus{{TaskID: "t1", Status: model.StatusRunning}}}
	srv := httptest.NewServer(newRouter(svc, controller.WatchConfig{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond}))
	defer srv.Close()

	conn := dialWatch(t, srv, "t1")
	readStatus(t, conn)
	expectClose(t, conn, websocket.CloseTryAgainLater)
}
