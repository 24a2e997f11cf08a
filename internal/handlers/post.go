package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/inkpost/apiserver/internal/services"
	"github.com/inkpost/apiserver/types"
)

const (
	maxMultipartMemory = 8 << 20
	maxCoverBodyBytes  = 32 << 20
	formFieldCover     = "cover"
	sniffLen           = 512
)

// PostHandler provides HTTP handlers for blog posts.
type PostHandler struct {
	postService *services.PostService
}

// NewPostHandler constructs a handler with the provided service.
func NewPostHandler(postService *services.PostService) *PostHandler {
	return &PostHandler{postService: postService}
}

// PostRouter registers post routes on the given router. Cover routes are only
// mounted when withCovers is set.
func PostRouter(
	r chi.Router,
	postService *services.PostService,
	authMiddleware func(http.Handler) http.Handler,
	withCovers bool,
) {
	handler := NewPostHandler(postService)

	r.Get("/", handler.ListPosts)
	r.With(authMiddleware).Post("/", handler.CreatePost)
	r.Route("/{postID}", func(r chi.Router) {
		r.Get("/", handler.GetPost)
		r.With(authMiddleware).Patch("/", handler.UpdatePost)
		r.With(authMiddleware).Delete("/", handler.DeletePost)
		r.With(authMiddleware).Post("/publish", handler.PublishPost)
		r.With(authMiddleware).Post("/unpublish", handler.UnpublishPost)
		if withCovers {
			r.With(authMiddleware).Put("/cover", handler.UploadCover)
			r.Get("/cover", handler.GetCover)
		}
	})
}

func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	p, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := parsePostFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.postService.List(r.Context(), p, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	actor, _ := userFromContext(r.Context())

	var req types.CreatePostInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	post, err := h.postService.Create(r.Context(), req, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	post, err := h.postService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, _ := userFromContext(r.Context())

	var req types.UpdatePostInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		if trimmed == "" {
			writeError(w, http.StatusBadRequest, "title must not be empty")
			return
		}
		req.Title = &trimmed
	}

	post, err := h.postService.Update(r.Context(), id, req, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, _ := userFromContext(r.Context())

	if _, err := h.postService.Remove(r.Context(), id, actor); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PostHandler) PublishPost(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, true)
}

func (h *PostHandler) UnpublishPost(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, false)
}

func (h *PostHandler) setPublished(w http.ResponseWriter, r *http.Request, published bool) {
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, _ := userFromContext(r.Context())

	var post types.Post
	if published {
		post, err = h.postService.Publish(r.Context(), id, actor)
	} else {
		post, err = h.postService.Unpublish(r.Context(), id, actor)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// UploadCover accepts a multipart form with a single "cover" image. The
// content type is sniffed from the bytes rather than trusted from the client.
func (h *PostHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, _ := userFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxCoverBodyBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile(formFieldCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cover file is required")
		return
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "failed to read cover file")
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeError(w, http.StatusBadRequest, "failed to read cover file")
		return
	}
	contentType := http.DetectContentType(head[:n])

	post, err := h.postService.SetCover(r.Context(), id, actor, file, header.Size, contentType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc, contentType, err := h.postService.Cover(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// parsePostFilter reads ?published, ?author_id and ?search. Absent or empty
// parameters leave the field unset.
func parsePostFilter(r *http.Request) (types.PostFilter, error) {
	var filter types.PostFilter
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("published")); raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			return types.PostFilter{}, errors.New("invalid published filter")
		}
		filter.Published = &published
	}

	if raw := strings.TrimSpace(q.Get("author_id")); raw != "" {
		authorID, err := uuid.Parse(raw)
		if err != nil {
			return types.PostFilter{}, errors.New("invalid author_id filter")
		}
		id := authorID.String()
		filter.AuthorID = &id
	}

	if raw := q.Get("search"); raw != "" {
		filter.SearchTerm = &raw
	}
	return filter, nil
}
