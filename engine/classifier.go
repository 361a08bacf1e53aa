package engine

import (
	"fmt"

	"gorm.io/gorm"

	"mailpilot/models"
)

// Classifier assigns categories to inbound messages using the owner's
// classification rules. Rules share the condition-set semantics of the reply
// engine; the first active match in priority order assigns.
type Classifier struct {
	db *gorm.DB
}

func NewClassifier(db *gorm.DB) *Classifier {
	return &Classifier{db: db}
}

// Classify returns the category id for a message, or nil when no rule
// matches. The message is not persisted here.
func (c *Classifier) Classify(userID uint, msg *models.InboundMessage) (*uint, error) {
	var rules []models.ClassificationRule
	if err := c.db.
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("priority asc, id asc").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to load classification rules: %w", err)
	}

	for i := range rules {
		if Matches(rules[i].Conditions, msg) {
			id := rules[i].CategoryID
			return &id, nil
		}
	}
	return nil, nil
}
