package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User represents an account. Authentication flows are thin glue; the plan
// fields here are mutated by the Stripe webhook path.
type User struct {
	gorm.Model

	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Name         string `json:"name"`
	Timezone     string `gorm:"default:'UTC'" json:"timezone"`
	IsActive     bool   `gorm:"default:true" json:"is_active"`

	// Plan information
	PlanID   *uint  `json:"plan_id,omitempty"`
	PlanName string `gorm:"default:'standard'" json:"plan_name"` // standard, pro

	// Stripe integration
	StripeCustomerID     *string `gorm:"index" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string `json:"stripe_subscription_id,omitempty"`

	// Relations
	Campaigns []Campaign `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
	Contacts  []Contact  `gorm:"foreignKey:UserID" json:"contacts,omitempty"`
}

// SetPassword hashes and stores the password.
func (u *User) SetPassword(plain string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
func (u *User) CheckPassword(plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plain)) == nil
}
