package core

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicRodri/COMP4537-Project/internal/middleware"
	"github.com/NicRodri/COMP4537-Project/internal/models"
)

type MockService struct {
	RegisterFunc       func(ctx context.Context, username, email, password string) (*models.User, string, error)
	LoginFunc          func(ctx context.Context, email, password string) (*models.User, string, error)
	SignedInFunc       func(ctx context.Context, userID string) (string, error)
	LogoutFunc         func(ctx context.Context, tokenString string) error
	ProcessImageFunc   func(ctx context.Context, userID string, image []byte, contentType string) ([]byte, bool, error)
	UserAPIUsageFunc   func(ctx context.Context, userID string) (int64, error)
	UsageStatsFunc     func(ctx context.Context) ([]models.EndpointUsage, error)
	UserCallCountsFunc func(ctx context.Context) ([]models.UserCallCount, error)
	DeleteUserFunc     func(ctx context.Context, id string) error
	UpdateUserRoleFunc func(ctx context.Context, id, role string) error
}

func (m *MockService) Register(ctx context.Context, username, email, password string) (*models.User, string, error) {
	return m.RegisterFunc(ctx, username, email, password)
}

func (m *MockService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	return m.LoginFunc(ctx, email, password)
}

func (m *MockService) SignedIn(ctx context.Context, userID string) (string, error) {
	return m.SignedInFunc(ctx, userID)
}

func (m *MockService) Logout(ctx context.Context, tokenString string) error {
	return m.LogoutFunc(ctx, tokenString)
}

func (m *MockService) ProcessImage(ctx context.Context, userID string, image []byte, contentType string) ([]byte, bool, error) {
	return m.ProcessImageFunc(ctx, userID, image, contentType)
}

func (m *MockService) UserAPIUsage(ctx context.Context, userID string) (int64, error) {
	return m.UserAPIUsageFunc(ctx, userID)
}

func (m *MockService) UsageStats(ctx context.Context) ([]models.EndpointUsage, error) {
	return m.UsageStatsFunc(ctx)
}

func (m *MockService) UserCallCounts(ctx context.Context) ([]models.UserCallCount, error) {
	return m.UserCallCountsFunc(ctx)
}

func (m *MockService) DeleteUser(ctx context.Context, id string) error {
	return m.DeleteUserFunc(ctx, id)
}

func (m *MockService) UpdateUserRole(ctx context.Context, id, role string) error {
	return m.UpdateUserRoleFunc(ctx, id, role)
}

func newTestHandler(svc Service) *Handler {
	return NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func responseMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body["message"]
}

func withClaims(req *http.Request, claims *models.Claims) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.ClaimsKey, claims))
}

func TestRegisterHandler(t *testing.T) {
	t.Run("Success Sets Cookie And Returns 201", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			RegisterFunc: func(ctx context.Context, username, email, password string) (*models.User, string, error) {
				return &models.User{ID: "user-1", Email: email, Role: models.RoleUser}, "signed-token", nil
			},
		})

		body, _ := json.Marshal(models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "pw"})
		req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
		rr := httptest.NewRecorder()

		handler.Register(rr, req)

		require.Equal(t, http.StatusCreated, rr.Code)

		var resp models.AuthResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "signed-token", resp.Token)
		assert.Equal(t, "user-1", resp.User.ID)
		assert.Equal(t, models.RoleUser, resp.User.Role)

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		c := cookies[0]
		assert.Equal(t, "authToken", c.Name)
		assert.Equal(t, "signed-token", c.Value)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, "/", c.Path)
		assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	})

	t.Run("Missing Fields", func(t *testing.T) {
		handler := newTestHandler(&MockService{})

		body, _ := json.Marshal(models.RegisterRequest{Username: "alice"})
		req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
		rr := httptest.NewRecorder()

		handler.Register(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "All fields are required", responseMessage(t, rr))
	})

	t.Run("Duplicate Identity", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			RegisterFunc: func(ctx context.Context, username, email, password string) (*models.User, string, error) {
				return nil, "", ErrUserExists
			},
		})

		body, _ := json.Marshal(models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "pw"})
		req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
		rr := httptest.NewRecorder()

		handler.Register(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("Invalid Body", func(t *testing.T) {
		handler := newTestHandler(&MockService{})

		req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString("not json"))
		rr := httptest.NewRecorder()

		handler.Register(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestLoginHandler(t *testing.T) {
	t.Run("Invalid Credentials", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			LoginFunc: func(ctx context.Context, email, password string) (*models.User, string, error) {
				return nil, "", ErrInvalidCredentials
			},
		})

		body, _ := json.Marshal(models.LoginRequest{Email: "alice@example.com", Password: "wrong"})
		req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
		rr := httptest.NewRecorder()

		handler.Login(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "Invalid credentials", responseMessage(t, rr))
	})

	t.Run("Success", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			LoginFunc: func(ctx context.Context, email, password string) (*models.User, string, error) {
				return &models.User{ID: "user-1", Email: email, Role: models.RoleAdmin}, "signed-token", nil
			},
		})

		body, _ := json.Marshal(models.LoginRequest{Email: "alice@example.com", Password: "pw"})
		req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
		rr := httptest.NewRecorder()

		handler.Login(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp models.AuthResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "Login successful", resp.Message)
		assert.Equal(t, models.RoleAdmin, resp.User.Role)
	})
}

func TestSignedInHandler(t *testing.T) {
	handler := newTestHandler(&MockService{
		SignedInFunc: func(ctx context.Context, userID string) (string, error) {
			return models.RoleUser, nil
		},
	})

	req := withClaims(httptest.NewRequest(http.MethodPost, "/signedin", nil), &models.Claims{UserID: "user-1"})
	rr := httptest.NewRecorder()

	handler.SignedIn(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, models.RoleUser, body["user_type"])
}

func TestLogoutHandler(t *testing.T) {
	var revoked string
	handler := newTestHandler(&MockService{
		LogoutFunc: func(ctx context.Context, tokenString string) error {
			revoked = tokenString
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.TokenKey, "the-token"))
	rr := httptest.NewRecorder()

	handler.Logout(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "the-token", revoked)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "authToken", cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func multipartImage(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="face.png"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestReagingHandler(t *testing.T) {
	claims := &models.Claims{UserID: "user-1"}

	t.Run("Returns Image Bytes", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			ProcessImageFunc: func(ctx context.Context, userID string, image []byte, contentType string) ([]byte, bool, error) {
				assert.Equal(t, "user-1", userID)
				assert.Equal(t, []byte("raw"), image)
				assert.Equal(t, "image/png", contentType)
				return []byte("aged"), false, nil
			},
		})

		body, ct := multipartImage(t, "image/png", []byte("raw"))
		req := withClaims(httptest.NewRequest(http.MethodPost, "/reaging", body), claims)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()

		handler.Reaging(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
		assert.Equal(t, []byte("aged"), rr.Body.Bytes())
		assert.Empty(t, rr.Header().Get("X-Alert"))
	})

	t.Run("Alert Header Past Threshold", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			ProcessImageFunc: func(ctx context.Context, userID string, image []byte, contentType string) ([]byte, bool, error) {
				return []byte("aged"), true, nil
			},
		})

		body, ct := multipartImage(t, "image/png", []byte("raw"))
		req := withClaims(httptest.NewRequest(http.MethodPost, "/reaging", body), claims)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()

		handler.Reaging(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotEmpty(t, rr.Header().Get("X-Alert"))
	})

	t.Run("Rejects Non-Image Upload", func(t *testing.T) {
		handler := newTestHandler(&MockService{})

		body, ct := multipartImage(t, "text/plain", []byte("hello"))
		req := withClaims(httptest.NewRequest(http.MethodPost, "/reaging", body), claims)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()

		handler.Reaging(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Image upload failed", responseMessage(t, rr))
	})

	t.Run("Missing File", func(t *testing.T) {
		handler := newTestHandler(&MockService{})

		req := withClaims(httptest.NewRequest(http.MethodPost, "/reaging", nil), claims)
		rr := httptest.NewRecorder()

		handler.Reaging(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Processing Error", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			ProcessImageFunc: func(ctx context.Context, userID string, image []byte, contentType string) ([]byte, bool, error) {
				return nil, false, ErrProcessing
			},
		})

		body, ct := multipartImage(t, "image/png", []byte("raw"))
		req := withClaims(httptest.NewRequest(http.MethodPost, "/reaging", body), claims)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()

		handler.Reaging(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "Error processing the image", responseMessage(t, rr))
	})
}

func TestUpdateUserRoleHandler(t *testing.T) {
	t.Run("Invalid Role Value", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			UpdateUserRoleFunc: func(ctx context.Context, id, role string) error {
				return ErrInvalidRole
			},
		})

		body, _ := json.Marshal(models.UpdateRoleRequest{Role: "superadmin"})
		req := httptest.NewRequest(http.MethodPatch, "/update_user_role/user-1", bytes.NewReader(body))
		req = mux.SetURLVars(req, map[string]string{"id": "user-1"})
		rr := httptest.NewRecorder()

		handler.UpdateUserRole(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Unknown User", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			UpdateUserRoleFunc: func(ctx context.Context, id, role string) error {
				return ErrUserNotFound
			},
		})

		body, _ := json.Marshal(models.UpdateRoleRequest{Role: models.RoleAdmin})
		req := httptest.NewRequest(http.MethodPatch, "/update_user_role/ghost", bytes.NewReader(body))
		req = mux.SetURLVars(req, map[string]string{"id": "ghost"})
		rr := httptest.NewRecorder()

		handler.UpdateUserRole(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Success", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			UpdateUserRoleFunc: func(ctx context.Context, id, role string) error {
				assert.Equal(t, "user-1", id)
				assert.Equal(t, models.RoleAdmin, role)
				return nil
			},
		})

		body, _ := json.Marshal(models.UpdateRoleRequest{Role: models.RoleAdmin})
		req := httptest.NewRequest(http.MethodPatch, "/update_user_role/user-1", bytes.NewReader(body))
		req = mux.SetURLVars(req, map[string]string{"id": "user-1"})
		rr := httptest.NewRecorder()

		handler.UpdateUserRole(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestDeleteUserHandler(t *testing.T) {
	t.Run("Unknown User", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			DeleteUserFunc: func(ctx context.Context, id string) error {
				return ErrUserNotFound
			},
		})

		req := httptest.NewRequest(http.MethodDelete, "/delete_user/ghost", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "ghost"})
		rr := httptest.NewRecorder()

		handler.DeleteUser(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Success", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			DeleteUserFunc: func(ctx context.Context, id string) error {
				return nil
			},
		})

		req := httptest.NewRequest(http.MethodDelete, "/delete_user/user-1", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "user-1"})
		rr := httptest.NewRecorder()

		handler.DeleteUser(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestUsageDataHandlers(t *testing.T) {
	t.Run("Usage Stats Array", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			UsageStatsFunc: func(ctx context.Context) ([]models.EndpointUsage, error) {
				return []models.EndpointUsage{{Endpoint: "/reaging", Method: "POST", ServedCount: 3}}, nil
			},
		})

		rr := httptest.NewRecorder()
		handler.GetUsageData(rr, httptest.NewRequest(http.MethodGet, "/get_usage_data", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var stats []models.EndpointUsage
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&stats))
		require.Len(t, stats, 1)
		assert.Equal(t, int64(3), stats[0].ServedCount)
	})

	t.Run("Empty Stats Still An Array", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			UsageStatsFunc: func(ctx context.Context) ([]models.EndpointUsage, error) {
				return nil, nil
			},
		})

		rr := httptest.NewRecorder()
		handler.GetUsageData(rr, httptest.NewRequest(http.MethodGet, "/get_usage_data", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, "[]", rr.Body.String())
	})

	t.Run("Own API Usage", func(t *testing.T) {
		handler := newTestHandler(&MockService{
			UserAPIUsageFunc: func(ctx context.Context, userID string) (int64, error) {
				return 7, nil
			},
		})

		req := withClaims(httptest.NewRequest(http.MethodGet, "/user_api_usage", nil), &models.Claims{UserID: "user-1"})
		rr := httptest.NewRecorder()

		handler.UserAPIUsage(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]int64
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, int64(7), body["api_call_count"])
	})
}
