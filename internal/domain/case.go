package domain

import "strings"

// Integration names an external recognition service a case can be tracked against.
type Integration string

const (
	IntegrationDocuments Integration = "documents"
	IntegrationDamage    Integration = "damage"
)

func ParseIntegration(value string) (Integration, bool) {
	switch Integration(strings.ToLower(strings.TrimSpace(value))) {
	case IntegrationDocuments:
		return IntegrationDocuments, true
	case IntegrationDamage:
		return IntegrationDamage, true
	default:
		return "", false
	}
}

type ItemCategory string

const (
	ItemCategoryPhoto     ItemCategory = "photo"
	ItemCategoryDocument  ItemCategory = "document"
	ItemCategoryPanorama  ItemCategory = "panorama"
	ItemCategoryComposite ItemCategory = "composite"
)

// Submittable reports whether items of this category may be sent to a recognizer.
// Derived imagery (panoramas, composites) never is.
func (c ItemCategory) Submittable() bool {
	switch c {
	case ItemCategoryPanorama, ItemCategoryComposite:
		return false
	default:
		return true
	}
}

// Case is the aggregate root a recognition round runs against.
type Case struct {
	ID           string
	Integrations []Integration
	Sessions     map[Integration]string
	Items        []Item
}

func (c *Case) Connected(integration Integration) bool {
	if c == nil {
		return false
	}
	return containsIntegration(c.Integrations, integration)
}

func (c *Case) Session(integration Integration) string {
	if c == nil || c.Sessions == nil {
		return ""
	}
	return c.Sessions[integration]
}

// Item is a single unit of content (usually an image) owned by a case.
type Item struct {
	ID           string
	CaseID       string
	Category     ItemCategory
	ContentRef   string
	Ext          string
	Width        int
	Height       int
	Integrations []Integration
	ExternalIDs  map[Integration]string
}

func (i *Item) Connected(integration Integration) bool {
	return containsIntegration(i.Integrations, integration)
}

func (i *Item) ExternalID(integration Integration) string {
	if i.ExternalIDs == nil {
		return ""
	}
	return i.ExternalIDs[integration]
}

func containsIntegration(values []Integration, integration Integration) bool {
	for _, value := range values {
		if value == integration {
			return true
		}
	}
	return false
}

func CloneCase(c *Case) *Case {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Integrations = append([]Integration(nil), c.Integrations...)
	clone.Sessions = make(map[Integration]string, len(c.Sessions))
	for key, value := range c.Sessions {
		clone.Sessions[key] = value
	}
	clone.Items = make([]Item, 0, len(c.Items))
	for _, item := range c.Items {
		clone.Items = append(clone.Items, CloneItem(item))
	}
	return &clone
}

func CloneItem(item Item) Item {
	clone := item
	clone.Integrations = append([]Integration(nil), item.Integrations...)
	clone.ExternalIDs = make(map[Integration]string, len(item.ExternalIDs))
	for key, value := range item.ExternalIDs {
		clone.ExternalIDs[key] = value
	}
	return clone
}
