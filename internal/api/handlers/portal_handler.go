package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"clientportal/internal/api/middleware"
	"clientportal/internal/engine/portal"
	"clientportal/internal/pkg/errors"
	"clientportal/internal/pkg/parser"
	"clientportal/internal/platform/tasktracker"
)

// TaskTracker is the part of the task tracker client the portal uses.
type TaskTracker interface {
	ListTasks(ctx context.Context, listID string) ([]tasktracker.Task, error)
	CreateTask(ctx context.Context, listID string, task tasktracker.CreateTaskRequest) (*tasktracker.Task, error)
}

type DealLister interface {
	Resolve(ctx context.Context, orgID string) []portal.DealView
}

// PortalHandler serves the session-gated portal endpoints.
type PortalHandler struct {
	tasks TaskTracker
	deals DealLister
}

func NewPortalHandler(tasks TaskTracker, deals DealLister) *PortalHandler {
	return &PortalHandler{tasks: tasks, deals: deals}
}

type MeResponse struct {
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	OrgName    string `json:"orgName"`
	OrgID      string `json:"orgId"`
	IdentityID string `json:"identityId"`
}

type TasksResponse struct {
	Tasks []portal.TaskView `json:"tasks"`
}

type CreatedTask struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type CreateTaskResponse struct {
	Success bool        `json:"success"`
	Task    CreatedTask `json:"task"`
}

type DealsResponse struct {
	Deals []portal.DealView `json:"deals"`
}

// Me returns the session fields that are safe to hand to the browser.
func (h *PortalHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())

	errors.WriteJSON(w, http.StatusOK, MeResponse{
		Email:      session.Email,
		FirstName:  session.FirstName,
		LastName:   session.LastName,
		OrgName:    session.OrgName,
		OrgID:      session.OrgID,
		IdentityID: session.IdentityID,
	})
}

func (h *PortalHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session.TaskListID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeNotConfigured, "Task list not configured", nil)
		return
	}

	tasks, err := h.tasks.ListTasks(r.Context(), session.TaskListID)
	if err != nil {
		log.Error().Err(err).Str("org_id", session.OrgID).Msg("failed to list tasks")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeUpstream, "Failed to fetch tasks", nil)
		return
	}

	errors.WriteJSON(w, http.StatusOK, TasksResponse{Tasks: portal.NewTaskViews(tasks)})
}

func (h *PortalHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())

	var in portal.TaskInput
	if !decodeBody(w, r, maxTaskRequestBytes, &in) {
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Name is required", nil)
		return
	}
	if strings.TrimSpace(in.Description) == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Description is required", nil)
		return
	}
	if session.TaskListID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeNotConfigured, "Task list not configured", nil)
		return
	}

	var client string
	if ua := r.UserAgent(); ua != "" {
		client = parser.ParseUserAgent(ua).String()
	}
	req := portal.NewCreateTaskRequest(in, session, client, time.Now())

	task, err := h.tasks.CreateTask(r.Context(), session.TaskListID, req)
	if err != nil {
		log.Error().Err(err).Str("org_id", session.OrgID).Msg("failed to create task")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeUpstream, "Failed to create task", nil)
		return
	}

	log.Info().Str("org_id", session.OrgID).Str("task_id", task.ID).Msg("portal task created")
	errors.WriteJSON(w, http.StatusOK, CreateTaskResponse{
		Success: true,
		Task:    CreatedTask{ID: task.ID, Name: task.Name, URL: task.URL},
	})
}

// ListDeals never fails; an organization whose deals cannot be read has none.
func (h *PortalHandler) ListDeals(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	errors.WriteJSON(w, http.StatusOK, DealsResponse{Deals: h.deals.Resolve(r.Context(), session.OrgID)})
}
