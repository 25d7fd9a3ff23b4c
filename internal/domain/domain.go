package domain

import (
	"strings"
	"time"
)

// TimeLayout is the persisted timestamp format. Fixed-width so that string order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Playbook struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    Category   `json:"category"`
	Tags        []string   `json:"tags"`
	Visibility  Visibility `json:"visibility"`
	Status      Status     `json:"status"`
	Version     Version    `json:"version"`
	Source      Source     `json:"source"`
	AuthorID    string     `json:"author_id"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

type Workflow struct {
	ID          string `json:"id"`
	PlaybookID  string `json:"playbook_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	Status      Status `json:"status"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// Activity is a step inside a workflow. PlaybookID is resolved through the workflow and is not stored.
type Activity struct {
	ID            string  `json:"id"`
	WorkflowID    string  `json:"workflow_id"`
	PlaybookID    string  `json:"playbook_id"`
	Name          string  `json:"name"`
	Guidance      string  `json:"guidance"`
	Order         int     `json:"order"`
	Phase         string  `json:"phase,omitempty"`
	PredecessorID *string `json:"predecessor_id,omitempty"`
	SuccessorID   *string `json:"successor_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type Artifact struct {
	ID           string       `json:"id"`
	PlaybookID   string       `json:"playbook_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Type         ArtifactType `json:"type"`
	ProducedByID string       `json:"produced_by_id"`
	IsRequired   bool         `json:"is_required"`
	TemplateFile string       `json:"template_file,omitempty"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
	UpdatedAt    string       `json:"updated_at" format:"date-time"`
}

// ArtifactInput marks Artifact as consumed by Activity.
type ArtifactInput struct {
	ID         string `json:"id"`
	ArtifactID string `json:"artifact_id"`
	ActivityID string `json:"activity_id"`
	IsRequired bool   `json:"is_required"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type PlaybookVersion struct {
	ID            string         `json:"id"`
	PlaybookID    string         `json:"playbook_id"`
	VersionNumber int            `json:"version_number"`
	SnapshotData  ExportDocument `json:"snapshot_data"`
	ChangeSummary string         `json:"change_summary"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
	CreatedBy     string         `json:"created_by"`
}

// Event is an audit-feed entry describing something a user did.
type Event struct {
	ID          int64          `json:"id"`
	UserID      string         `json:"user_id"`
	ActionType  ActionType     `json:"action_type"`
	PlaybookID  string         `json:"playbook_id,omitempty"`
	Description string         `json:"description"`
	Timestamp   string         `json:"timestamp" format:"date-time"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type OnboardingState struct {
	UserID      string  `json:"user_id"`
	IsCompleted bool    `json:"is_completed"`
	CurrentStep int     `json:"current_step"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// OnboardingSteps lists the onboarding tour in order; CurrentStep indexes into it.
var OnboardingSteps = []string{"welcome", "create_playbook", "add_workflow", "connect_artifacts", "tour"}

// IsOwnedBy reports whether userID authored the playbook.
func (p Playbook) IsOwnedBy(userID string) bool {
	return userID != "" && p.AuthorID == userID
}

// CanEdit reports whether userID may change the playbook or anything below it.
func (p Playbook) CanEdit(userID string) bool {
	return p.IsOwnedBy(userID) && p.Source == SourceOwned && p.Status.IsEditable()
}

func (p Playbook) IsDraft() bool    { return p.Status == StatusDraft }
func (p Playbook) IsActive() bool   { return p.Status == StatusActive }
func (p Playbook) IsReleased() bool { return p.Status == StatusReleased }

// IsImmutable is true for playbooks that reject every edit.
func (p Playbook) IsImmutable() bool {
	return p.Status == StatusReleased || p.Status == StatusArchived
}

func (p Playbook) DisplayName() string {
	return p.Name
}

// TagList joins tags for display.
func (p Playbook) TagList() string {
	return strings.Join(p.Tags, ", ")
}

func (p Playbook) StatusBadgeColor() string {
	return p.Status.BadgeColor()
}

func (p Playbook) CategoryDisplay() string {
	return p.Category.Display()
}

func (w Workflow) IsOwnedBy(pb Playbook, userID string) bool {
	return w.PlaybookID == pb.ID && pb.IsOwnedBy(userID)
}

func (w Workflow) CanEdit(pb Playbook, userID string) bool {
	return w.PlaybookID == pb.ID && pb.CanEdit(userID)
}

func (w Workflow) DisplayName() string {
	return w.Name
}

func (w Workflow) StatusBadgeColor() string {
	return w.Status.BadgeColor()
}

func (a Activity) IsOwnedBy(pb Playbook, userID string) bool {
	return a.PlaybookID == pb.ID && pb.IsOwnedBy(userID)
}

func (a Activity) CanEdit(pb Playbook, userID string) bool {
	return a.PlaybookID == pb.ID && pb.CanEdit(userID)
}

func (a Activity) DisplayName() string {
	return a.Name
}

// PhaseDisplayName returns the grouping label, or "General" for ungrouped activities.
func (a Activity) PhaseDisplayName() string {
	if p := strings.TrimSpace(a.Phase); p != "" {
		return p
	}
	return "General"
}

func (x Artifact) IsOwnedBy(pb Playbook, userID string) bool {
	return x.PlaybookID == pb.ID && pb.IsOwnedBy(userID)
}

func (x Artifact) CanEdit(pb Playbook, userID string) bool {
	return x.PlaybookID == pb.ID && pb.CanEdit(userID)
}

func (x Artifact) DisplayName() string {
	return x.Name + " (" + string(x.Type) + ")"
}

func (x Artifact) HasTemplate() bool {
	return x.TemplateFile != ""
}

// Graph is an in-memory view over one playbook subtree.
type Graph struct {
	Playbook   Playbook
	Workflows  []Workflow
	Activities []Activity
	Artifacts  []Artifact
	Inputs     []ArtifactInput
}
