package validators

import (
	"emsdispatch/internal/models"
)

// ValidateCreateEMSRequest checks field-level constraints plus the closed
// enums the struct tags cannot express.
func ValidateCreateEMSRequest(input *models.CreateEMSRequest) ValidationErrors {
	errs := ValidateStruct(input)

	if !input.EmergencyType.IsValid() {
		errs = append(errs, ValidationError{
			Field:   "emergency_type",
			Tag:     "enum",
			Value:   string(input.EmergencyType),
			Message: "unknown emergency type",
		})
	}

	if !input.Priority.IsValid() {
		errs = append(errs, ValidationError{
			Field:   "priority",
			Tag:     "enum",
			Value:   string(input.Priority),
			Message: "unknown priority",
		})
	}

	return errs
}

func ValidateTransitionRequest(input *models.TransitionEMSRequest) ValidationErrors {
	errs := ValidateStruct(input)

	if !input.Status.IsValid() {
		errs = append(errs, ValidationError{
			Field:   "status",
			Tag:     "enum",
			Value:   string(input.Status),
			Message: "unknown status",
		})
	}

	return errs
}

func ValidateClaimRequest(input *models.ClaimEMSRequest) ValidationErrors {
	return ValidateStruct(input)
}

func ValidateUpdatePositionRequest(input *models.UpdatePositionRequest) ValidationErrors {
	return ValidateStruct(input)
}
