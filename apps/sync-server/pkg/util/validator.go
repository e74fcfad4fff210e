package util

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

var (
	validate *validator.Validate

	// Client ids travel in query strings and redis keys
	clientIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)
)

func init() {
	validate = validator.New()

	// Register custom validation tags
	validate.RegisterValidation("clientid", validateClientID)
	validate.RegisterValidation("role", validateRole)
	validate.RegisterValidation("moderatorrole", validateModeratorRole)
	validate.RegisterValidation("feedbackstatus", validateFeedbackStatus)
}

// Validate validates a struct using the validator
func Validate(s interface{}) error {
	return validate.Struct(s)
}

// ValidateVar validates a variable using the validator
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}

// ValidClientID reports whether id is acceptable as a participant id
func ValidClientID(id string) bool {
	return clientIDRegex.MatchString(id)
}

// FormatValidationError flattens validator errors into one readable line
func FormatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func validateClientID(fl validator.FieldLevel) bool {
	return ValidClientID(fl.Field().String())
}

func validateRole(fl validator.FieldLevel) bool {
	return model.Role(fl.Field().String()).Valid()
}

// validateModeratorRole only admits roles allowed to author feedback
func validateModeratorRole(fl validator.FieldLevel) bool {
	return model.Role(fl.Field().String()).IsModeratorClass()
}

func validateFeedbackStatus(fl validator.FieldLevel) bool {
	return model.FeedbackStatus(fl.Field().String()).Valid()
}
