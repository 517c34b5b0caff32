package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/NicRodri/COMP4537-Project/internal/middleware"
	"github.com/NicRodri/COMP4537-Project/internal/models"
)

// maxUploadBytes caps the in-memory multipart parse for reaging.
const maxUploadBytes = 10 << 20

// authCookieMaxAge is the cookie lifetime. It outlives the token's own
// expiry claim on purpose: the cookie is only transport, the claim
// governs validity.
const authCookieMaxAge = 24 * 60 * 60

type Service interface {
	Register(ctx context.Context, username, email, password string) (*models.User, string, error)
	Login(ctx context.Context, email, password string) (*models.User, string, error)
	SignedIn(ctx context.Context, userID string) (string, error)
	Logout(ctx context.Context, tokenString string) error
	ProcessImage(ctx context.Context, userID string, image []byte, contentType string) ([]byte, bool, error)
	UserAPIUsage(ctx context.Context, userID string) (int64, error)
	UsageStats(ctx context.Context) ([]models.EndpointUsage, error)
	UserCallCounts(ctx context.Context) ([]models.UserCallCount, error)
	DeleteUser(ctx context.Context, id string) error
	UpdateUserRole(ctx context.Context, id, role string) error
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func NewHandler(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) setAuthCookie(w http.ResponseWriter, tokenString string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "authToken",
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		MaxAge:   authCookieMaxAge,
	})
}

func (h *Handler) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "authToken",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		MaxAge:   -1,
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		respondMessage(w, http.StatusBadRequest, "All fields are required")
		return
	}

	user, tokenString, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if err == ErrUserExists {
			respondMessage(w, http.StatusConflict, "Email or username already exists")
			return
		}
		h.logger.Error("register failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.setAuthCookie(w, tokenString)
	respondJSON(w, http.StatusCreated, models.AuthResponse{
		Message: "User created successfully",
		Token:   tokenString,
		User:    models.PublicUser{ID: user.ID, Email: user.Email, Role: user.Role},
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}

	user, tokenString, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if err == ErrInvalidCredentials {
			respondMessage(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.logger.Error("login failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.setAuthCookie(w, tokenString)
	respondJSON(w, http.StatusOK, models.AuthResponse{
		Message: "Login successful",
		Token:   tokenString,
		User:    models.PublicUser{ID: user.ID, Email: user.Email, Role: user.Role},
	})
}

func (h *Handler) SignedIn(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		respondMessage(w, http.StatusForbidden, "User not authenticated")
		return
	}

	role, err := h.svc.SignedIn(r.Context(), claims.UserID)
	if err != nil {
		if err == ErrUserNotFound {
			respondMessage(w, http.StatusForbidden, "User not authenticated")
			return
		}
		h.logger.Error("signedin failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message":   "Query executed successfully",
		"user_type": role,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	tokenString, ok := middleware.TokenFrom(r.Context())
	if !ok {
		respondMessage(w, http.StatusForbidden, "User not authenticated")
		return
	}

	if err := h.svc.Logout(r.Context(), tokenString); err != nil {
		h.logger.Error("logout failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.clearAuthCookie(w)
	respondMessage(w, http.StatusOK, "Logout successful")
}

// Reaging accepts a multipart image upload, forwards it to the model,
// and streams back the transformed bytes under the original content
// type. Once the caller's cumulative count passes the threshold every
// response carries X-Alert.
func (h *Handler) Reaging(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		respondMessage(w, http.StatusForbidden, "User not authenticated")
		return
	}

	file, header, err := readImageUpload(r)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, "Image upload failed")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, "Image upload failed")
		return
	}

	contentType := header.Header.Get("Content-Type")
	result, alert, err := h.svc.ProcessImage(r.Context(), claims.UserID, image, contentType)
	if err != nil {
		respondMessage(w, http.StatusInternalServerError, "Error processing the image")
		return
	}

	if alert {
		w.Header().Set("X-Alert", "API call limit exceeded")
	}
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

func (h *Handler) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	respondMessage(w, http.StatusOK, "Admin access granted")
}

func (h *Handler) GetUsageData(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.UsageStats(r.Context())
	if err != nil {
		h.logger.Error("usage stats failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if stats == nil {
		stats = []models.EndpointUsage{}
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetUserAPICalls(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.UserCallCounts(r.Context())
	if err != nil {
		h.logger.Error("user call counts failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if counts == nil {
		counts = []models.UserCallCount{}
	}
	respondJSON(w, http.StatusOK, counts)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		respondMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}

	if err := h.svc.DeleteUser(r.Context(), id); err != nil {
		if err == ErrUserNotFound {
			respondMessage(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("delete user failed", "error", err, "user_id", id)
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondMessage(w, http.StatusOK, "User deleted successfully")
}

func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		respondMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}

	var req models.UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}

	if err := h.svc.UpdateUserRole(r.Context(), id, req.Role); err != nil {
		switch err {
		case ErrInvalidRole:
			respondMessage(w, http.StatusBadRequest, "Invalid input")
		case ErrUserNotFound:
			respondMessage(w, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("update role failed", "error", err, "user_id", id)
			respondMessage(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	respondMessage(w, http.StatusOK, "User role updated successfully")
}

func (h *Handler) UserAPIUsage(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		respondMessage(w, http.StatusForbidden, "User not authenticated")
		return
	}

	count, err := h.svc.UserAPIUsage(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("api usage lookup failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int64{"api_call_count": count})
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	respondMessage(w, http.StatusNotFound, "Not Found")
}

// readImageUpload parses the multipart form and rejects anything whose
// declared content type is not an image.
func readImageUpload(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, err
	}
	f, fh, err := r.FormFile("image")
	if err != nil {
		return nil, nil, err
	}
	if !strings.HasPrefix(fh.Header.Get("Content-Type"), "image/") {
		f.Close()
		return nil, nil, errors.New("not an image upload")
	}
	return f, fh, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}
