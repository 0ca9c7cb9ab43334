package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/party-roster/internal/application"
	"github.com/example/party-roster/internal/roster"
	"github.com/example/party-roster/internal/scheduler"
	"github.com/gin-gonic/gin"
)

type lifecycleService interface {
	RosterSnapshot(ctx context.Context, communityID string) (roster.View, error)
	ResetPanels(ctx context.Context, communityID string) error
}

type taskRunner interface {
	RunNow(ctx context.Context, communityID string, kind scheduler.TaskKind) error
	Status(communityID string) (scheduler.CommunityStatus, error)
}

// CommunityHandler serves the operator actions of a community.
type CommunityHandler struct {
	lifecycle lifecycleService
	tasks     taskRunner
	responder responder
	logger    *slog.Logger
}

func NewCommunityHandler(lifecycle lifecycleService, tasks taskRunner, logger *slog.Logger) *CommunityHandler {
	base := defaultLogger(logger)
	return &CommunityHandler{lifecycle: lifecycle, tasks: tasks, responder: newResponder(base), logger: base}
}

func (h *CommunityHandler) log(c *gin.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(c.Request.Context(), h.logger, "CommunityHandler", operation, attrs...)
}

func (h *CommunityHandler) communityID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		h.responder.handleServiceError(c, &application.ValidationError{FieldErrors: map[string]string{"community_id": "is required"}})
		return "", false
	}
	return id, true
}

// Reconcile runs a reconciliation pass and waits for it to finish.
func (h *CommunityHandler) Reconcile(c *gin.Context) {
	h.runTask(c, "Reconcile", scheduler.TaskReconcile)
}

// Refresh re-renders the roster message.
func (h *CommunityHandler) Refresh(c *gin.Context) {
	h.runTask(c, "Refresh", scheduler.TaskRefresh)
}

func (h *CommunityHandler) runTask(c *gin.Context, operation string, kind scheduler.TaskKind) {
	id, ok := h.communityID(c)
	if !ok {
		return
	}
	logger := h.log(c, operation, "community_id", id)

	if err := h.tasks.RunNow(c.Request.Context(), id, kind); err != nil {
		logger.ErrorContext(c.Request.Context(), "operator task failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(c, err)
		return
	}
	logger.InfoContext(c.Request.Context(), "operator task finished")
	h.responder.writeJSON(c, http.StatusOK, taskResponse{CommunityID: id, Task: string(kind), Status: "completed"})
}

// ResetPanels rewrites every panel message in place.
func (h *CommunityHandler) ResetPanels(c *gin.Context) {
	id, ok := h.communityID(c)
	if !ok {
		return
	}
	logger := h.log(c, "ResetPanels", "community_id", id)

	if _, err := h.tasks.Status(id); err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	if err := h.lifecycle.ResetPanels(c.Request.Context(), id); err != nil {
		logger.ErrorContext(c.Request.Context(), "panel reset failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusOK, taskResponse{CommunityID: id, Task: "reset_panels", Status: "completed"})
}

// Roster returns the current roster projection.
func (h *CommunityHandler) Roster(c *gin.Context) {
	id, ok := h.communityID(c)
	if !ok {
		return
	}

	view, err := h.lifecycle.RosterSnapshot(c.Request.Context(), id)
	if err != nil {
		h.log(c, "Roster", "community_id", id).ErrorContext(c.Request.Context(), "roster snapshot failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusOK, toRosterDTO(id, view))
}

// Status returns the scheduler state of the community.
func (h *CommunityHandler) Status(c *gin.Context) {
	id, ok := h.communityID(c)
	if !ok {
		return
	}

	status, err := h.tasks.Status(id)
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusOK, toStatusDTO(status))
}

type taskResponse struct {
	CommunityID string `json:"community_id"`
	Task        string `json:"task"`
	Status      string `json:"status"`
}

type rosterLineDTO struct {
	MemberID         string   `json:"member_id"`
	DisplayName      string   `json:"display_name"`
	Class            string   `json:"class,omitempty"`
	Tags             []string `json:"tags"`
	RemainingSeconds int64    `json:"remaining_seconds"`
}

type countDTO struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type rosterDTO struct {
	CommunityID string          `json:"community_id"`
	Active      int             `json:"active"`
	Lines       []rosterLineDTO `json:"lines"`
	Classes     []countDTO      `json:"classes"`
	Tags        []countDTO      `json:"tags"`
	Omitted     int             `json:"omitted"`
	Text        string          `json:"text"`
}

func toRosterDTO(communityID string, view roster.View) rosterDTO {
	dto := rosterDTO{
		CommunityID: communityID,
		Active:      len(view.Lines),
		Lines:       make([]rosterLineDTO, 0, len(view.Lines)),
		Classes:     make([]countDTO, 0, len(view.Classes)),
		Tags:        make([]countDTO, 0, len(view.Tags)),
		Omitted:     view.Omitted,
		Text:        view.Text,
	}
	for _, line := range view.Lines {
		tags := line.Tags
		if tags == nil {
			tags = []string{}
		}
		dto.Lines = append(dto.Lines, rosterLineDTO{
			MemberID:         line.MemberID,
			DisplayName:      line.DisplayName,
			Class:            line.Class,
			Tags:             tags,
			RemainingSeconds: int64(line.Remaining / time.Second),
		})
	}
	for _, class := range view.Classes {
		dto.Classes = append(dto.Classes, countDTO{Name: class.Class, Count: class.Count})
	}
	for _, tag := range view.Tags {
		dto.Tags = append(dto.Tags, countDTO{Name: tag.Tag.Key, Count: tag.Count})
	}
	return dto
}

type taskStatusDTO struct {
	Task         string  `json:"task"`
	Runs         int     `json:"runs"`
	Running      bool    `json:"running"`
	Pending      bool    `json:"pending"`
	LastRun      *string `json:"last_run,omitempty"`
	LastDuration float64 `json:"last_duration_seconds"`
	LastError    string  `json:"last_error,omitempty"`
}

type statusDTO struct {
	CommunityID string          `json:"community_id"`
	State       string          `json:"state"`
	Tasks       []taskStatusDTO `json:"tasks"`
}

func toStatusDTO(status scheduler.CommunityStatus) statusDTO {
	dto := statusDTO{
		CommunityID: status.ID,
		State:       string(status.State),
		Tasks:       make([]taskStatusDTO, 0, len(status.Tasks)),
	}
	for _, task := range status.Tasks {
		item := taskStatusDTO{
			Task:         string(task.Kind),
			Runs:         task.Runs,
			Running:      task.Running,
			Pending:      task.Pending,
			LastDuration: task.LastDuration.Seconds(),
			LastError:    task.LastError,
		}
		if !task.LastRun.IsZero() {
			lastRun := task.LastRun.UTC().Format(time.RFC3339)
			item.LastRun = &lastRun
		}
		dto.Tasks = append(dto.Tasks, item)
	}
	return dto
}
