package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docqa-go/internal/middleware"
	"docqa-go/internal/model"
	"docqa-go/internal/service"
	"docqa-go/pkg/errs"
	"docqa-go/pkg/llm"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuery struct {
	outcome       *model.QueryOutcome
	err           error
	lastNamespace string
	lastQuery     string
}

func (s *stubQuery) Query(_ context.Context, namespace, query string) (*model.QueryOutcome, error) {
	s.lastNamespace, s.lastQuery = namespace, query
	return s.outcome, s.err
}

func (s *stubQuery) Stream(ctx context.Context, namespace, query string, _ llm.MessageWriter) (*model.QueryOutcome, error) {
	return s.Query(ctx, namespace, query)
}

func newRouter(q service.QueryService, user *model.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUser, user)
		c.Next()
	})
	h := NewQueryHandler(q, nil)
	r.GET("/nlp/query", h.Query)
	r.POST("/nlp/query", h.Query)
	return r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r *gin.Engine, req *http.Request) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

var alice = &model.User{ID: 1, Username: "alice", Role: model.RoleUser, Namespace: "team-a"}

func TestQuery_Found(t *testing.T) {
	q := &stubQuery{outcome: &model.QueryOutcome{
		Status:  model.QueryFound,
		Answer:  "42",
		Sources: []model.Source{{DocumentID: "7", Text: "the answer is 42"}},
	}}
	r := newRouter(q, alice)

	code, env := do(t, r, httptest.NewRequest(http.MethodGet, "/nlp/query?query=what", nil))
	require.Equal(t, http.StatusOK, code)

	var data QueryResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "42", data.Answer)
	require.Len(t, data.Sources, 1)
	assert.Equal(t, "7", data.Sources[0].DocumentID)
	assert.Equal(t, "team-a", q.lastNamespace)
	assert.Equal(t, "what", q.lastQuery)
}

func TestQuery_PostBody(t *testing.T) {
	q := &stubQuery{outcome: &model.QueryOutcome{Status: model.QueryFound, Answer: "ok"}}
	r := newRouter(q, alice)

	req := httptest.NewRequest(http.MethodPost, "/nlp/query", strings.NewReader(`{"query":"hello there"}`))
	req.Header.Set("Content-Type", "application/json")
	code, _ := do(t, r, req)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hello there", q.lastQuery)
}

func TestQuery_StatusMapping(t *testing.T) {
	tests := []struct {
		name        string
		outcome     *model.QueryOutcome
		err         error
		wantCode    int
		wantMessage string
	}{
		{"no results", &model.QueryOutcome{Status: model.QueryNoResults}, nil, http.StatusNotFound, "No results found"},
		{"index missing", &model.QueryOutcome{Status: model.QueryNotFound}, nil, http.StatusNotFound, "Index not found"},
		{"empty query", nil, service.ErrEmptyQuery, http.StatusBadRequest, service.ErrEmptyQuery.Error()},
		{"embedding provider", nil, fmt.Errorf("%w: 503", errs.ErrEmbeddingProvider), http.StatusBadGateway, ""},
		{"synthesis", nil, fmt.Errorf("%w: timeout", errs.ErrSynthesis), http.StatusBadGateway, ""},
		{"corrupt index", nil, fmt.Errorf("load index default: %w: %v", errs.ErrCorruptIndex, errs.ErrEmbeddingProvider), http.StatusInternalServerError, "服务器内部错误"},
		{"internal", nil, fmt.Errorf("disk on fire"), http.StatusInternalServerError, "服务器内部错误"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(&stubQuery{outcome: tt.outcome, err: tt.err}, alice)
			code, env := do(t, r, httptest.NewRequest(http.MethodGet, "/nlp/query?query=x", nil))
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantCode, env.Code)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, env.Message)
			}
		})
	}
}

func TestQuery_NamespaceOverride(t *testing.T) {
	q := &stubQuery{outcome: &model.QueryOutcome{Status: model.QueryFound}}

	do(t, newRouter(q, alice), httptest.NewRequest(http.MethodGet, "/nlp/query?query=x&namespace=other", nil))
	assert.Equal(t, "team-a", q.lastNamespace, "non-admin cannot switch namespace")

	admin := &model.User{ID: 2, Username: "root", Role: model.RoleAdmin, Namespace: "default"}
	do(t, newRouter(q, admin), httptest.NewRequest(http.MethodGet, "/nlp/query?query=x&namespace=other", nil))
	assert.Equal(t, "other", q.lastNamespace)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusUnsupportedMediaType, statusOf(fmt.Errorf("a.exe: %w", errs.ErrUnsupportedFileType)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(fmt.Errorf("%w: bad pdf", errs.ErrExtractionFailure)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusOf(service.ErrFileTooLarge))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(errs.ErrQueueDisabled))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(fmt.Errorf("persist: %w", errs.ErrLockTimeout)))
	assert.Equal(t, http.StatusConflict, statusOf(service.ErrUserExists))
	assert.Equal(t, http.StatusBadRequest, statusOf(errs.ErrInvalidNamespace))
}

type bufConn struct{ frames []string }

func (b *bufConn) WriteMessage(_ int, data []byte) error {
	b.frames = append(b.frames, string(data))
	return nil
}

func TestChunkWriter_WrapsFrames(t *testing.T) {
	conn := &bufConn{}
	require.NoError(t, chunkWriter{conn: conn}.WriteMessage(1, []byte("hel")))

	require.Len(t, conn.frames, 1)
	var frame streamFrame
	require.NoError(t, json.Unmarshal([]byte(conn.frames[0]), &frame))
	assert.Equal(t, "chunk", frame.Type)
	assert.Equal(t, "hel", frame.Content)
}

type stubHistory struct {
	recorded []string
}

func (s *stubHistory) Record(_ context.Context, _ *model.User, namespace string, outcome *model.QueryOutcome) {
	s.recorded = append(s.recorded, namespace+":"+string(outcome.Status))
}

func (s *stubHistory) List(context.Context, *model.User) ([]model.QueryRecord, error) {
	return nil, nil
}

func TestQuery_RecordsHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hist := &stubHistory{}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUser, alice)
		c.Next()
	})
	q := &stubQuery{outcome: &model.QueryOutcome{Status: model.QueryNoResults}}
	r.GET("/nlp/query", NewQueryHandler(q, hist).Query)

	code, _ := do(t, r, httptest.NewRequest(http.MethodGet, "/nlp/query?query=x", nil))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, []string{"team-a:no_results"}, hist.recorded)
}
