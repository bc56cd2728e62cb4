package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/internal/storage"
	"github.com/natours/apiserver/types"
)

// maxMultipartBody leaves room for form fields next to the photo.
const maxMultipartBody = storage.MaxObjectBytes + 1<<20

const notForPasswords = "this route is not for password updates, please use /updateMyPassword"

// AccountHandler serves the self-service and admin account endpoints.
type AccountHandler struct {
	accounts *services.AccountService
	logger   *slog.Logger
}

func NewAccountHandler(accounts *services.AccountService, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{accounts: accounts, logger: logger}
}

// Me returns the authenticated account.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
		return
	}

	view, err := h.accounts.Get(r.Context(), identity.AccountID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Status: "success", Data: UserData{User: view}})
}

// UpdateMe accepts JSON or a multipart form carrying an optional photo.
func (h *AccountHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
		return
	}

	var (
		update services.ProfileUpdate
		err    error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		update, err = parseProfileForm(w, r)
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}
	} else {
		update, err = parseProfileJSON(w, r)
	}
	if err != nil {
		if errors.Is(err, errRequestTooLarge) {
			writeDecodeError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if update.Photo != nil {
		if closer, ok := update.Photo.Body.(io.Closer); ok {
			defer closer.Close()
		}
	}

	view, err := h.accounts.UpdateProfile(r.Context(), identity.AccountID, update)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Status: "success", Data: UserData{User: view}})
}

// DeleteMe deactivates the authenticated account.
func (h *AccountHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
		return
	}

	if err := h.accounts.Deactivate(r.Context(), identity.AccountID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUsers returns a page of active accounts.
func (h *AccountHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	users, total, err := h.accounts.List(r.Context(), offset, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, UserListResponse{
		Status:  "success",
		Results: len(users),
		Page:    page,
		Limit:   limit,
		Total:   total,
		Data:    UserListData{Users: users},
	})
}

func parseProfileJSON(w http.ResponseWriter, r *http.Request) (services.ProfileUpdate, error) {
	var req UpdateMeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return services.ProfileUpdate{}, err
	}
	if req.Password != nil || req.PasswordConfirm != nil {
		return services.ProfileUpdate{}, errors.New(notForPasswords)
	}
	return services.ProfileUpdate{Name: req.Name, Email: req.Email}, nil
}

func parseProfileForm(w http.ResponseWriter, r *http.Request) (services.ProfileUpdate, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(maxMultipartBody); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return services.ProfileUpdate{}, errRequestTooLarge
		}
		return services.ProfileUpdate{}, errors.New("invalid multipart form")
	}
	form := r.MultipartForm

	if hasValue(form, "password") || hasValue(form, "passwordConfirm") {
		return services.ProfileUpdate{}, errors.New(notForPasswords)
	}

	var update services.ProfileUpdate
	if values, ok := form.Value["name"]; ok && len(values) > 0 {
		update.Name = &values[0]
	}
	if values, ok := form.Value["email"]; ok && len(values) > 0 {
		update.Email = &values[0]
	}

	files := form.File["photo"]
	if len(files) == 0 {
		return update, nil
	}
	header := files[0]
	file, err := header.Open()
	if err != nil {
		return services.ProfileUpdate{}, errors.New("invalid photo upload")
	}
	update.Photo = &services.PhotoUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	return update, nil
}

func hasValue(form *multipart.Form, key string) bool {
	_, ok := form.Value[key]
	return ok
}

type UpdateMeRequest struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Password        *string `json:"password"`
	PasswordConfirm *string `json:"passwordConfirm"`
}

type UserResponse struct {
	Status string   `json:"status"`
	Data   UserData `json:"data"`
}

type UserListData struct {
	Users []types.AccountView `json:"users"`
}

type UserListResponse struct {
	Status  string       `json:"status"`
	Results int          `json:"results"`
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
	Total   int          `json:"total"`
	Data    UserListData `json:"data"`
}
