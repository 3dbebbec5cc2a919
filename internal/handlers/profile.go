package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/peerhub/apiserver/internal/services"
	"github.com/peerhub/apiserver/internal/storage"
)

const (
	maxAvatarBytes     = 10 << 20
	maxMultipartMemory = 10 << 20
	formFieldImage     = "image"
)

// allowedImageTypes restricts avatar uploads to the formats the original
// upload pipeline accepts.
var allowedImageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// ProfileHandler provides the authenticated profile and rating endpoints.
type ProfileHandler struct {
	userService *services.UserService
	avatars     *storage.AvatarStore
	log         *slog.Logger
}

// NewProfileHandler constructs a handler with the provided dependencies.
// avatars may be nil, in which case image uploads are rejected.
func NewProfileHandler(userService *services.UserService, avatars *storage.AvatarStore, log *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		userService: userService,
		avatars:     avatars,
		log:         log,
	}
}

// UpdateLocation sets the caller's free-text location.
func (h *ProfileHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token subject")
		return
	}

	var req LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.userService.UpdateLocation(r.Context(), userID, req.Location); err != nil {
		writeAppError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, LocationResponse{
		Message:  "location updated successfully",
		Location: req.Location,
	})
}

// UpdateImage accepts a multipart avatar upload, stores the object, and
// records its key on the account.
func (h *ProfileHandler) UpdateImage(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token subject")
		return
	}

	if h.avatars == nil {
		writeError(w, http.StatusInternalServerError, "image storage is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "no image uploaded")
		return
	}

	file, header, err := r.FormFile(formFieldImage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image uploaded")
		return
	}
	defer file.Close()

	ext, contentType, err := avatarContentType(header)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, err := h.avatars.Save(r.Context(), ext, file, header.Size, contentType)
	if err != nil {
		h.log.Error("store avatar", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to store image")
		return
	}

	if err := h.userService.UpdateImage(r.Context(), userID, key); err != nil {
		writeAppError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ImageResponse{
		Message: "image updated successfully",
		Image:   key,
	})
}

// UpdateUsername renames the calling account.
func (h *ProfileHandler) UpdateUsername(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token subject")
		return
	}

	var req UsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	newUsername := strings.TrimSpace(req.NewUsername)
	if err := h.userService.Rename(r.Context(), userID, newUsername); err != nil {
		writeAppError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, UsernameResponse{
		Message:  "username updated successfully",
		Username: newUsername,
	})
}

// Rate records the caller's grade for the target account. The rater's
// current username keys the rating map, so old tokens issued before a
// rename still rate under the new name.
func (h *ProfileHandler) Rate(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token subject")
		return
	}

	rater, err := h.userService.Profile(r.Context(), userID)
	if err != nil {
		writeAppError(w, h.log, err)
		return
	}

	targetUsername := chi.URLParam(r, "username")

	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Grade == nil {
		writeError(w, http.StatusBadRequest, "grade must be a number between 0 and 5")
		return
	}

	if err := h.userService.Rate(r.Context(), rater.Username, targetUsername, *req.Grade); err != nil {
		writeAppError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("you rated %s with %g", targetUsername, *req.Grade),
	})
}

func avatarContentType(header *multipart.FileHeader) (ext, contentType string, err error) {
	ext = strings.ToLower(filepath.Ext(header.Filename))
	contentType, ok := allowedImageTypes[ext]
	if !ok {
		return "", "", fmt.Errorf("only jpeg and png images are allowed")
	}
	return ext, contentType, nil
}

type LocationRequest struct {
	Location string `json:"location"`
}

type LocationResponse struct {
	Message  string `json:"message"`
	Location string `json:"location"`
}

type ImageResponse struct {
	Message string `json:"message"`
	Image   string `json:"image"`
}

type UsernameRequest struct {
	NewUsername string `json:"newUsername"`
}

type UsernameResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// RateRequest uses a pointer so a missing grade is distinguishable from 0.
type RateRequest struct {
	Grade *float64 `json:"grade"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
