package rest

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server/storage"
	"github.com/go-chi/chi/v5"
)

const uploadField = "file"

type uploadResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}

type linkResponse struct {
	Link string `json:"link"`
}

func (h *handlers) uploadPublic(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, storage.Public)
}

func (h *handlers) uploadPrivate(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, storage.Private)
}

// upload stores the multipart field "file".
func (h *handlers) upload(w http.ResponseWriter, r *http.Request, v storage.Visibility) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		WriteError(w, r, fmt.Errorf("%w: %v", common.ErrValidation, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		WriteError(w, r, fmt.Errorf("%w: missing %q field", common.ErrValidation, uploadField))
		return
	}
	defer file.Close()

	name, err := h.files.Upload(r.Context(), v, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Status: "uploaded", Name: name})
}

func (h *handlers) listPublic(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, storage.Public)
}

func (h *handlers) listPrivate(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, storage.Private)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request, v storage.Visibility) {
	objs, err := h.files.List(r.Context(), v)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objs)
}

func (h *handlers) link(w http.ResponseWriter, r *http.Request) {
	link, _, err := h.files.Link(r.Context(), chi.URLParam(r, "file"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{Link: link})
}

// download streams the object named by a signed link, inline.
func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	body, obj, err := h.files.Download(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": obj.Name}))
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logging.From(r.Context(), nil).Warn(r.Context(), "download interrupted", "name", obj.Name, "error", err)
	}
}
