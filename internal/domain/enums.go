package domain

type Category string

const (
	CategoryProduct     Category = "product"
	CategoryDevelopment Category = "development"
	CategoryResearch    Category = "research"
	CategoryDesign      Category = "design"
	CategoryManagement  Category = "management"
	CategoryOther       Category = "other"
)

var Categories = []Category{CategoryProduct, CategoryDevelopment, CategoryResearch, CategoryDesign, CategoryManagement, CategoryOther}

var categoryDisplay = map[Category]string{
	CategoryProduct:     "Product Management",
	CategoryDevelopment: "Software Development",
	CategoryResearch:    "Research",
	CategoryDesign:      "Design",
	CategoryManagement:  "Management",
	CategoryOther:       "Other",
}

func (c Category) Valid() bool {
	_, ok := categoryDisplay[c]
	return ok
}

func (c Category) Display() string {
	if d, ok := categoryDisplay[c]; ok {
		return d
	}
	return string(c)
}

type Visibility string

const (
	VisibilityPrivate   Visibility = "private"
	VisibilityFamily    Visibility = "family"
	VisibilityLocalOnly Visibility = "local_only"
)

var Visibilities = []Visibility{VisibilityPrivate, VisibilityFamily, VisibilityLocalOnly}

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityFamily, VisibilityLocalOnly:
		return true
	}
	return false
}

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusReleased Status = "released"
	StatusDisabled Status = "disabled"
	StatusArchived Status = "archived"
)

var Statuses = []Status{StatusDraft, StatusActive, StatusReleased, StatusDisabled, StatusArchived}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusReleased, StatusDisabled, StatusArchived:
		return true
	}
	return false
}

// IsEditable reports whether structural edits are allowed. Active is a live draft.
func (s Status) IsEditable() bool {
	return s == StatusDraft || s == StatusActive
}

func (s Status) BadgeColor() string {
	switch s {
	case StatusActive:
		return "success"
	case StatusDraft:
		return "warning"
	case StatusReleased:
		return "primary"
	case StatusDisabled, StatusArchived:
		return "secondary"
	default:
		return "light"
	}
}

type Source string

const (
	SourceOwned      Source = "owned"
	SourceDownloaded Source = "downloaded"
)

func (s Source) Valid() bool {
	return s == SourceOwned || s == SourceDownloaded
}

type ArtifactType string

const (
	ArtifactDocument ArtifactType = "Document"
	ArtifactTemplate ArtifactType = "Template"
	ArtifactCode     ArtifactType = "Code"
	ArtifactDiagram  ArtifactType = "Diagram"
	ArtifactData     ArtifactType = "Data"
	ArtifactOther    ArtifactType = "Other"
)

var ArtifactTypes = []ArtifactType{ArtifactDocument, ArtifactTemplate, ArtifactCode, ArtifactDiagram, ArtifactData, ArtifactOther}

func (t ArtifactType) Valid() bool {
	for _, known := range ArtifactTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActionType enumerates audit-feed entries. The set is fixed.
type ActionType string

const (
	ActionPlaybookCreated   ActionType = "playbook_created"
	ActionPlaybookUpdated   ActionType = "playbook_updated"
	ActionPlaybookDeleted   ActionType = "playbook_deleted"
	ActionPlaybookViewed    ActionType = "playbook_viewed"
	ActionPlaybookReleased  ActionType = "playbook_released"
	ActionPlaybookPublished ActionType = "playbook_published"
	ActionPlaybookArchived  ActionType = "playbook_archived"
	ActionPlaybookToggled   ActionType = "playbook_status_changed"
	ActionPlaybookImported  ActionType = "playbook_imported"
	ActionVersionCreated    ActionType = "version_created"
	ActionWorkflowCreated   ActionType = "workflow_created"
	ActionWorkflowUpdated   ActionType = "workflow_updated"
	ActionWorkflowDeleted   ActionType = "workflow_deleted"
	ActionWorkflowViewed    ActionType = "workflow_viewed"
	ActionActivityCreated   ActionType = "activity_created"
	ActionActivityUpdated   ActionType = "activity_updated"
	ActionActivityDeleted   ActionType = "activity_deleted"
	ActionActivityViewed    ActionType = "activity_viewed"
	ActionArtifactCreated   ActionType = "artifact_created"
	ActionArtifactUpdated   ActionType = "artifact_updated"
	ActionArtifactDeleted   ActionType = "artifact_deleted"
	ActionInputAdded        ActionType = "artifact_input_added"
	ActionInputRemoved      ActionType = "artifact_input_removed"
	ActionDashboardViewed   ActionType = "dashboard_viewed"
	ActionOnboardingUpdated ActionType = "onboarding_updated"
)

var ActionTypes = []ActionType{
	ActionPlaybookCreated, ActionPlaybookUpdated, ActionPlaybookDeleted, ActionPlaybookViewed,
	ActionPlaybookReleased, ActionPlaybookPublished, ActionPlaybookArchived, ActionPlaybookToggled,
	ActionPlaybookImported, ActionVersionCreated,
	ActionWorkflowCreated, ActionWorkflowUpdated, ActionWorkflowDeleted, ActionWorkflowViewed,
	ActionActivityCreated, ActionActivityUpdated, ActionActivityDeleted, ActionActivityViewed,
	ActionArtifactCreated, ActionArtifactUpdated, ActionArtifactDeleted,
	ActionInputAdded, ActionInputRemoved,
	ActionDashboardViewed, ActionOnboardingUpdated,
}

func (a ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if a == known {
			return true
		}
	}
	return false
}
