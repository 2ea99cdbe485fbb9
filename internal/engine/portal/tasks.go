package portal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"clientportal/internal/platform/models"
	"clientportal/internal/platform/tasktracker"
)

const (
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityNormal = 3
	PriorityLow    = 4

	PortalRequestTag = "Portal Request"
	defaultColor     = "#87909e"
)

var statusColors = map[string]string{
	"to do":       "#87909e",
	"open":        "#87909e",
	"in progress": "#4194f6",
	"review":      "#a875ff",
	"in review":   "#a875ff",
	"blocked":     "#e44356",
	"complete":    "#6bc950",
	"closed":      "#6bc950",
}

var priorityLabels = map[string]string{
	"urgent": "Urgent",
	"high":   "High",
	"normal": "Normal",
	"low":    "Low",
}

var categoryTags = map[string]string{
	"technical": "Technical Support",
	"billing":   "Billing",
	"feature":   "Feature Request",
	"general":   "General Inquiry",
}

// TaskView is the browser-facing shape of a tracker task.
type TaskView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	StatusColor string  `json:"statusColor"`
	Priority    string  `json:"priority"`
	CreatedAt   *string `json:"createdAt"`
	UpdatedAt   *string `json:"updatedAt"`
	DueDate     *string `json:"dueDate"`
	URL         string  `json:"url"`
}

func NewTaskView(t tasktracker.Task) TaskView {
	status := strings.ToLower(strings.TrimSpace(t.Status.Status))
	color, ok := statusColors[status]
	if !ok {
		color = t.Status.Color
	}
	if color == "" {
		color = defaultColor
	}

	priority := "None"
	if t.Priority != nil {
		if label, ok := priorityLabels[strings.ToLower(t.Priority.Priority)]; ok {
			priority = label
		}
	}

	return TaskView{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Status:      t.Status.Status,
		StatusColor: color,
		Priority:    priority,
		CreatedAt:   epochMillis(t.DateCreated),
		UpdatedAt:   epochMillis(t.DateUpdated),
		DueDate:     epochMillis(t.DueDate),
		URL:         t.URL,
	}
}

func NewTaskViews(tasks []tasktracker.Task) []TaskView {
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, NewTaskView(t))
	}
	return views
}

// PriorityValue maps a priority name to the tracker's numeric scale.
// Unknown and empty names are normal.
func PriorityValue(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "urgent":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func CategoryTag(category string) string {
	if tag, ok := categoryTags[strings.ToLower(strings.TrimSpace(category))]; ok {
		return tag
	}
	return categoryTags["general"]
}

// TaskInput is a task request submitted from the portal.
type TaskInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
}

// NewCreateTaskRequest tags the request and appends who submitted it.
func NewCreateTaskRequest(in TaskInput, session *models.PortalSession, client string, at time.Time) tasktracker.CreateTaskRequest {
	category := CategoryTag(in.Category)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(in.Description))
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "Submitted via client portal by %s <%s>\n", displayName(session), session.Email)
	fmt.Fprintf(&b, "Company: %s (%s)\n", session.OrgName, session.OrgID)
	fmt.Fprintf(&b, "Category: %s\n", category)
	if client != "" {
		fmt.Fprintf(&b, "Client: %s\n", client)
	}
	fmt.Fprintf(&b, "Submitted at: %s", at.UTC().Format(time.RFC3339))

	return tasktracker.CreateTaskRequest{
		Name:        strings.TrimSpace(in.Name),
		Description: b.String(),
		Priority:    PriorityValue(in.Priority),
		Tags:        []string{category, PortalRequestTag},
	}
}

func displayName(s *models.PortalSession) string {
	if name := s.FullName(); name != "" {
		return name
	}
	return s.Email
}

func epochMillis(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	s := time.UnixMilli(ms).UTC().Format(time.RFC3339)
	return &s
}
