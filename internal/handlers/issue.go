package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/civicdesk/apiserver/internal/services"
	"github.com/civicdesk/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxMultipartMemory   = 32 << 20
	formFieldTitle       = "title"
	formFieldDesc        = "description"
	formFieldCategory    = "category_id"
	formFieldPriority    = "priority"
	formFieldStatus      = "status"
	formFieldComment     = "comment"
	formFieldAttachments = "attachments"
)

// IssueHandler provides HTTP handlers for the issue lifecycle.
type IssueHandler struct {
	issueService *services.IssueService
	categories   services.CategoryRepository
}

// NewIssueHandler constructs a handler with the provided dependencies.
func NewIssueHandler(issueService *services.IssueService, categories services.CategoryRepository) *IssueHandler {
	return &IssueHandler{
		issueService: issueService,
		categories:   categories,
	}
}

// IssueRouter registers issue routes on the given router. All routes require
// authentication.
func IssueRouter(
	r chi.Router,
	issueService *services.IssueService,
	categories services.CategoryRepository,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewIssueHandler(issueService, categories)

	r.Use(authMiddleware)
	r.Get("/", handler.ListIssues)
	r.Post("/", handler.CreateIssue)
	r.Get("/categories", handler.ListCategories)
	r.Get("/stats", handler.Stats)
	r.Route("/{issueID}", func(r chi.Router) {
		r.Get("/", handler.GetIssue)
		r.Get("/updates", handler.ListUpdates)
		r.Put("/status", handler.UpdateStatus)
		r.Post("/comments", handler.AddComment)
		r.Post("/escalate", handler.Escalate)
		r.Put("/assign", handler.Assign)
		r.Get("/attachment/{attachmentID}", handler.DownloadAttachment)
	})
}

// IssueListResponse is the paginated list response payload. Total counts the
// whole filtered scope, not the returned page.
type IssueListResponse struct {
	Items []types.Issue `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

func (h *IssueHandler) ListIssues(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, limit, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := services.ListIssuesInput{
		SortBy: strings.TrimSpace(r.URL.Query().Get("sortBy")),
		Page:   page,
		Limit:  limit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := types.ParseIssueStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		input.Status = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("priority")); raw != "" {
		priority, ok := types.ParseIssuePriority(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid priority filter")
			return
		}
		input.Priority = &priority
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("category_id")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 1 {
			writeError(w, http.StatusBadRequest, "invalid category filter")
			return
		}
		input.Category = &id
	}

	items, total, err := h.issueService.List(r.Context(), actor, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []types.Issue{}
	}

	writeJSON(w, http.StatusOK, IssueListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *IssueHandler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	categoryID, err := strconv.Atoi(strings.TrimSpace(r.FormValue(formFieldCategory)))
	if err != nil || categoryID < 1 {
		writeError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	input := services.CreateIssueInput{
		Title:       r.FormValue(formFieldTitle),
		Description: r.FormValue(formFieldDesc),
		CategoryID:  categoryID,
	}
	if raw := strings.TrimSpace(r.FormValue(formFieldPriority)); raw != "" {
		priority, ok := types.ParseIssuePriority(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid priority")
			return
		}
		input.Priority = priority
	}

	uploads, closeUploads, err := formUploads(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeUploads()
	input.Uploads = uploads

	created, err := h.issueService.Create(r.Context(), actor, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *IssueHandler) GetIssue(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIssueID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	detail, err := h.issueService.Get(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *IssueHandler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIssueID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	detail, err := h.issueService.Get(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	updates := detail.Updates
	if updates == nil {
		updates = []types.IssueUpdate{}
	}
	writeJSON(w, http.StatusOK, updates)
}

func (h *IssueHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIssueID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var rawStatus, comment string
	var uploads []services.Upload
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Status  string `json:"status"`
			Comment string `json:"comment"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
		rawStatus, comment = req.Status, req.Comment
	} else {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		rawStatus, comment = r.FormValue(formFieldStatus), r.FormValue(formFieldComment)

		var closeUploads func()
		uploads, closeUploads, err = formUploads(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer closeUploads()
	}

	status, ok := types.ParseIssueStatus(rawStatus)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	updated, err := h.issueService.UpdateStatus(r.Context(), actor, id, services.UpdateStatusInput{
		Status:  status,
		Comment: comment,
		Uploads: uploads,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *IssueHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIssueID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	uploads, closeUploads, err := formUploads(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeUploads()

	update, err := h.issueService.Comment(r.Context(), actor, id, r.FormValue(formFieldComment), uploads)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, update)
}

type EscalateRequest struct {
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

func (h *IssueHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIssueID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req EscalateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.issueService.Escalate(r.Context(), actor, id, services.EscalateInput{
		Reason: req.Reason,
		Note:   req.Note,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type AssignRequest struct {
	AssigneeID int    `json:"assignee_id"`
	Comment    string `json:"comment"`
}

func (h *IssueHandler) Assign(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIssueID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req AssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.AssigneeID < 1 {
		writeError(w, http.StatusBadRequest, "invalid assignee id")
		return
	}

	updated, err := h.issueService.Assign(r.Context(), actor, id, req.AssigneeID, req.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *IssueHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	issueID, err := parseIssueID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	attachmentID, err := strconv.ParseInt(chi.URLParam(r, "attachmentID"), 10, 64)
	if err != nil || attachmentID < 1 {
		writeError(w, http.StatusBadRequest, "invalid attachment id")
		return
	}

	attachment, reader, err := h.issueService.DownloadAttachment(r.Context(), actor, issueID, attachmentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", attachment.Mimetype)
	w.Header().Set("Content-Disposition", `attachment; filename="`+attachment.Filename+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(attachment.SizeBytes, 10))
	_, _ = io.Copy(w, reader)
}

func (h *IssueHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.categories.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []types.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *IssueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	counts, err := h.issueService.Stats(r.Context(), actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Render counts in canonical status order with zeros for missing rows.
	stats := make(map[types.IssueStatus]int, len(types.StatusOrder))
	total := 0
	for _, status := range types.StatusOrder {
		stats[status] = counts[status]
		total += counts[status]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": stats,
	})
}

func parseIssueID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "issueID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid issue id")
	}
	return id, nil
}

// formUploads opens the attachment files of a parsed multipart form. The
// returned closer releases all opened files.
func formUploads(r *http.Request) ([]services.Upload, func(), error) {
	noop := func() {}
	if r.MultipartForm == nil {
		return nil, noop, nil
	}
	files := r.MultipartForm.File[formFieldAttachments]
	if len(files) == 0 {
		return nil, noop, nil
	}

	var opened []io.Closer
	closeAll := func() {
		for _, c := range opened {
			_ = c.Close()
		}
	}

	uploads := make([]services.Upload, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			closeAll()
			return nil, noop, errors.New("failed to read upload")
		}
		opened = append(opened, file)

		mimetype := header.Header.Get("Content-Type")
		uploads = append(uploads, services.Upload{
			Filename: header.Filename,
			Mimetype: mimetype,
			Size:     header.Size,
			Content:  file,
		})
	}
	return uploads, closeAll, nil
}
