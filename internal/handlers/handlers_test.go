package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/feed-system/snapgram/internal/middleware"
	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/internal/services"
	"github.com/feed-system/snapgram/internal/testutil"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
	services.PasswordCost = bcrypt.MinCost
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLimits(t, PageLimits{})
}

func newTestServerWithLimits(t *testing.T, limits PageLimits) *testServer {
	t.Helper()
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)
	log := logger.NewDiscard()
	pub := &testutil.RecordingPublisher{}
	client, _ := testutil.NewTestRedis(t)
	feedCache := services.NewFeedCache(client, time.Minute, log)
	jwtCfg := &middleware.JWTConfig{Secret: "handler-test-secret"}

	router := NewRouter(RouterConfig{
		Users: NewUserHandler(services.NewUserService(store, pub, feedCache, log), jwtCfg, limits, log),
		Feed: NewFeedHandler(
			services.NewFeedService(store, feedCache, pub, log),
			services.NewLikeService(store, feedCache, pub, log),
			services.NewCommentService(store, feedCache, pub, log),
			limits,
			log,
		),
		JWT:       jwtCfg,
		Logger:    log,
		Redis:     client,
		AuthLimit: middleware.RateLimitConfig{Name: "auth", Limit: 100, Window: time.Minute},
	})
	return &testServer{t: t, router: router}
}

func (s *testServer) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

// register 返回 token 和用户 ID
func (s *testServer) register(username string) (string, string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
		"name":     strings.ToUpper(username[:1]) + username[1:],
	}, "")
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(s.t, w)
	user := body["user"].(map[string]interface{})
	return body["token"].(string), user["id"].(string)
}

func (s *testServer) createPost(token, caption string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/posts", map[string]string{
		"imageUrl": "https://picsum.photos/600/600",
		"caption":  caption,
	}, token)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	post := decode(s.t, w)["post"].(map[string]interface{})
	return post["id"].(string)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/auth/register", map[string]string{
		"username": "john_doe",
		"email":    "john@example.com",
		"password": "password123",
		"name":     "John Doe",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "auth-token=")
	assert.Contains(t, w.Header().Get("Set-Cookie"), "HttpOnly")
	body := decode(t, w)
	assert.Equal(t, "User created successfully", body["message"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "john@example.com", user["email"])
	assert.NotContains(t, user, "password")

	w = s.do(http.MethodPost, "/auth/login", map[string]string{"email": "john@example.com", "password": "nope-nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/auth/login", map[string]string{"email": "john@example.com"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Email and password are required", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/auth/login", map[string]string{"email": "john@example.com", "password": "password123"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["token"].(string)

	// cookie 和 Bearer 都可以
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: middleware.DefaultCookieName, Value: token})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode(t, rec)["user"].(map[string]interface{})
	assert.Equal(t, "john_doe", me["username"])
	assert.EqualValues(t, 0, me["postsCount"])

	w = s.do(http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Not authenticated", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/auth/logout", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestRegisterRejectsBadBodies(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/auth/register", `{"username":`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/auth/register", map[string]string{"username": "john_doe"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "All fields are required", decode(t, w)["error"])

	s.register("john_doe")
	w = s.do(http.MethodPost, "/auth/register", map[string]string{
		"username": "john_doe",
		"email":    "other@example.com",
		"password": "password123",
		"name":     "Other",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "User with this email or username already exists", decode(t, w)["error"])
}

func TestRegisterTrimsPaddedEmail(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/auth/register", map[string]string{
		"username": "carol",
		"email":    " Carol@Example.com ",
		"password": "password123",
		"name":     "Carol",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "carol@example.com", decode(t, w)["user"].(map[string]interface{})["email"])

	w = s.do(http.MethodPost, "/auth/login", map[string]string{"email": "carol@example.com", "password": "password123"}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/auth/register", map[string]string{
		"username": "dave",
		"email":    " not-an-email ",
		"password": "password123",
		"name":     "Dave",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Please enter a valid email", decode(t, w)["error"])
}

func TestPostLifecycle(t *testing.T) {
	s := newTestServer(t)
	authorToken, _ := s.register("john_doe")
	fanToken, _ := s.register("jane_smith")
	strangerToken, _ := s.register("mike_wilson")

	w := s.do(http.MethodPost, "/posts", map[string]string{"caption": "no image"}, authorToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Image URL is required", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/posts", map[string]string{"imageUrl": "x"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	postID := s.createPost(authorToken, "sunset")

	w = s.do(http.MethodGet, "/posts/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Post not found", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/posts/"+postID+"/like", nil, fanToken)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["isLiked"])
	assert.EqualValues(t, 1, body["likesCount"])

	w = s.do(http.MethodPost, "/posts/"+postID+"/like", nil, fanToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Post already liked", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/posts/"+postID+"/comments", map[string]string{"text": "   "}, fanToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Comment text is required", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/posts/"+postID+"/comments", map[string]string{"text": "great"}, fanToken)
	require.Equal(t, http.StatusCreated, w.Code)
	body = decode(t, w)
	assert.EqualValues(t, 1, body["commentsCount"])
	commentID := body["comment"].(map[string]interface{})["id"].(string)

	w = s.do(http.MethodGet, "/posts/"+postID, nil, fanToken)
	require.Equal(t, http.StatusOK, w.Code)
	post := decode(t, w)["post"].(map[string]interface{})
	assert.EqualValues(t, 1, post["likesCount"])
	assert.EqualValues(t, 1, post["commentsCount"])
	assert.Equal(t, true, post["isLiked"])
	assert.Len(t, post["comments"], 1)

	w = s.do(http.MethodGet, "/posts/"+postID+"/comments", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["pagination"].(map[string]interface{})["total"])

	w = s.do(http.MethodDelete, "/posts/"+postID+"/comments/"+commentID, nil, strangerToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Not authorized to delete this comment", decode(t, w)["error"])

	w = s.do(http.MethodDelete, "/posts/"+postID+"/comments/"+commentID, nil, authorToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["commentsCount"])

	w = s.do(http.MethodDelete, "/posts/"+postID+"/like", nil, fanToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["likesCount"])

	w = s.do(http.MethodDelete, "/posts/"+postID+"/like", nil, fanToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Post not liked", decode(t, w)["error"])

	w = s.do(http.MethodDelete, "/posts/"+postID, nil, fanToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, "/api/posts/"+postID, nil, authorToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/posts/"+postID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/posts/"+uuid.NewString()+"/comments", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSocialGraphAndFeeds(t *testing.T) {
	s := newTestServer(t)
	aliceToken, _ := s.register("alice")
	bobToken, _ := s.register("bob")
	carolToken, _ := s.register("carol")

	s.createPost(aliceToken, "alice post")
	bobPost := s.createPost(bobToken, "bob post")
	carolPost := s.createPost(carolToken, "carol post")

	w := s.do(http.MethodPost, "/users/alice/follow", nil, aliceToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot follow yourself", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/users/ghost/follow", nil, aliceToken)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/users/bob/follow", nil, aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["isFollowing"])

	w = s.do(http.MethodPost, "/users/bob/follow", nil, aliceToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Already following this user", decode(t, w)["error"])

	w = s.do(http.MethodGet, "/users/bob", nil, aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode(t, w)["user"].(map[string]interface{})
	assert.Equal(t, true, profile["isFollowing"])
	assert.EqualValues(t, 1, profile["followersCount"])
	assert.EqualValues(t, 1, profile["postsCount"])

	w = s.do(http.MethodGet, "/users/bob/followers", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	followers := decode(t, w)["followers"].([]interface{})
	require.Len(t, followers, 1)
	assert.Equal(t, "alice", followers[0].(map[string]interface{})["username"])

	w = s.do(http.MethodGet, "/feed", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/feed?limit=abc&page=-2", nil, aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	feed := decode(t, w)
	assert.Len(t, feed["posts"], 2)
	pagination := feed["pagination"].(map[string]interface{})
	assert.EqualValues(t, 1, pagination["currentPage"])
	assert.EqualValues(t, 2, pagination["total"])

	w = s.do(http.MethodGet, "/explore", nil, aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	explore := decode(t, w)["posts"].([]interface{})
	require.Len(t, explore, 1)
	assert.Equal(t, carolPost, explore[0].(map[string]interface{})["id"])

	w = s.do(http.MethodGet, "/api/explore", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["posts"], 3)

	w = s.do(http.MethodGet, "/users/bob/posts", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	timeline := decode(t, w)
	require.Len(t, timeline["posts"], 1)
	assert.Equal(t, bobPost, timeline["posts"].([]interface{})[0].(map[string]interface{})["id"])
	assert.Equal(t, "bob", timeline["user"].(map[string]interface{})["username"])

	w = s.do(http.MethodDelete, "/users/bob/follow", nil, aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["isFollowing"])

	w = s.do(http.MethodDelete, "/users/bob/follow", nil, aliceToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Not following this user", decode(t, w)["error"])

	w = s.do(http.MethodPut, "/users/me", map[string]string{"bio": "hello"}, aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", decode(t, w)["user"].(map[string]interface{})["bio"])
}

func TestConfiguredPageLimits(t *testing.T) {
	s := newTestServerWithLimits(t, PageLimits{FeedDefault: 1, Max: 2})
	token, _ := s.register("alice")
	for _, caption := range []string{"one", "two", "three"} {
		s.createPost(token, caption)
	}

	w := s.do(http.MethodGet, "/posts?limit=50", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["posts"], 2)
	pagination := body["pagination"].(map[string]interface{})
	assert.EqualValues(t, 2, pagination["totalPages"])
	assert.Equal(t, true, pagination["hasNext"])

	// 各接口自己的默认条数也受上限约束
	w = s.do(http.MethodGet, "/explore", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["posts"], 2)

	w = s.do(http.MethodGet, "/feed", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Len(t, body["posts"], 1)
	assert.EqualValues(t, 3, body["pagination"].(map[string]interface{})["totalPages"])
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register("john_doe")
	s.createPost(token, "Golden hour")

	w := s.do(http.MethodGet, "/search", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Search query is required", decode(t, w)["error"])

	w = s.do(http.MethodGet, "/search?q=john&type=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/search?q=gold", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	posts := body["posts"].(map[string]interface{})
	assert.Len(t, posts["data"], 1)
	assert.Contains(t, body, "users")

	w = s.do(http.MethodGet, "/search?q=john&type=users", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.NotContains(t, body, "posts")
	assert.Len(t, body["users"].(map[string]interface{})["data"], 1)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	s.do(http.MethodGet, "/explore", nil, "")
	w = s.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "snapgram_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind   models.ErrorKind
		status int
	}{
		{models.KindValidation, http.StatusBadRequest},
		{models.KindConflict, http.StatusBadRequest},
		{models.KindSelfFollow, http.StatusBadRequest},
		{models.KindNotFollowing, http.StatusBadRequest},
		{models.KindNotLiked, http.StatusBadRequest},
		{models.KindUnauthenticated, http.StatusUnauthorized},
		{models.KindAuth, http.StatusUnauthorized},
		{models.KindForbidden, http.StatusForbidden},
		{models.KindNotFound, http.StatusNotFound},
		{models.KindRateLimited, http.StatusTooManyRequests},
		{models.KindInternal, http.StatusInternalServerError},
		{models.ErrorKind("SOMETHING_NEW"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusFor(tt.kind), string(tt.kind))
	}
}

func TestInternalErrorIsNotLeaked(t *testing.T) {
	router := gin.New()
	router.GET("/boom", func(c *gin.Context) {
		respondError(c, logger.NewDiscard(), errors.New("pq: connection refused"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
}
