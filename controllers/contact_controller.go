package controller

import (
	"encoding/csv"
	"io"
	"log"
	"strings"

	"recompose/models"
	"recompose/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ContactController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewContactController(db *gorm.DB, logger *log.Logger) *ContactController {
	return &ContactController{DB: db, Logger: logger}
}

type ContactInput struct {
	Name    string `json:"name" validate:"omitempty,max=200"`
	Email   string `json:"email" validate:"required,email"`
	Company string `json:"company" validate:"omitempty,max=200"`
}

// CreateContact creates a single contact owned by the current user.
func (cc *ContactController) CreateContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input ContactInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid email address", err)
	}

	email := strings.ToLower(input.Email)
	var existing models.Contact
	if err := cc.DB.Where("email = ? AND user_id = ?", email, user.ID).First(&existing).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Contact with this email already exists", nil)
	}

	contact := models.Contact{
		UserID:  user.ID,
		Name:    input.Name,
		Email:   email,
		Company: input.Company,
	}
	if err := cc.DB.Create(&contact).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create contact", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(contact))
}

// ImportContacts ingests a CSV upload with a name,email,company header.
// Rows with invalid or duplicate emails are skipped and reported, not fatal.
func (cc *ContactController) ImportContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "CSV file is required", err)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to open uploaded file", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to read CSV header", err)
	}

	columns := map[string]int{}
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	emailCol, ok := columns["email"]
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "CSV must have an email column", nil)
	}

	cell := func(record []string, column string) string {
		if i, ok := columns[column]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	imported := 0
	skipped := []string{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Malformed CSV row", err)
		}
		if emailCol >= len(record) {
			continue
		}

		email := strings.ToLower(strings.TrimSpace(record[emailCol]))
		if email == "" {
			continue
		}
		if err := checkmail.ValidateFormat(email); err != nil {
			skipped = append(skipped, email)
			continue
		}

		var existing models.Contact
		if err := cc.DB.Where("email = ? AND user_id = ?", email, user.ID).First(&existing).Error; err == nil {
			skipped = append(skipped, email)
			continue
		}

		contact := models.Contact{
			UserID:  user.ID,
			Name:    cell(record, "name"),
			Email:   email,
			Company: cell(record, "company"),
		}
		if err := cc.DB.Create(&contact).Error; err != nil {
			cc.Logger.Printf("failed to import contact %s for user %d: %v", email, user.ID, err)
			skipped = append(skipped, email)
			continue
		}
		imported++
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"imported": imported,
		"skipped":  skipped,
	})
}

// ListContacts returns the user's contacts, paginated.
func (cc *ContactController) ListContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := cc.DB.Model(&models.Contact{}).Where("user_id = ?", user.ID)
	if search := c.Query("search"); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count contacts", err)
	}

	var contacts []models.Contact
	if err := query.Order("id ASC").Offset((page - 1) * limit).Limit(limit).Find(&contacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load contacts", err)
	}

	return c.JSON(utils.PaginatedResponse{Data: contacts, Total: total, Page: page, Limit: limit})
}

// DeleteContact removes a contact that is not part of any campaign.
func (cc *ContactController) DeleteContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND user_id = ?", utils.ParseUint(c.Params("id")), user.ID).First(&contact).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
	}

	var inCampaigns int64
	if err := cc.DB.Model(&models.RecipientProgress{}).Where("contact_id = ?", contact.ID).Count(&inCampaigns).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check campaign membership", err)
	}
	if inCampaigns > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Contact is part of a campaign and cannot be deleted", nil)
	}

	if err := cc.DB.Delete(&contact).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete contact", err)
	}
	return c.JSON(fiber.Map{"success": true})
}
