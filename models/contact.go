package models

import "gorm.io/gorm"

// Contact is a single recipient owned by a user. The bounce/unsubscribe
// flags mirror webhook signals so future launches can skip dead addresses.
type Contact struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name    string `json:"name"`
	Email   string `gorm:"not null;index" json:"email"`
	Company string `json:"company"`

	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`
}

// TemplateFields returns the contact's merge fields for template rendering.
// Missing values render as empty strings downstream.
func (c *Contact) TemplateFields() map[string]string {
	first := c.Name
	for i := 0; i < len(c.Name); i++ {
		if c.Name[i] == ' ' {
			first = c.Name[:i]
			break
		}
	}
	return map[string]string{
		"Name":       c.Name,
		"First Name": first,
		"Email":      c.Email,
		"Company":    c.Company,
	}
}
