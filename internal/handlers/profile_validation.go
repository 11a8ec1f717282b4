package handlers

import (
	"strings"
	"unicode/utf8"
)

const (
	maxFullNameLength = 120
	maxBioLength      = 2000
	maxCityLength     = 120
	maxHourlyRate     = 10000
)

func validateUpdateProfileRequest(req updateProfileRequest) string {
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return "full_name must not be empty"
		}
		if utf8.RuneCountInString(name) > maxFullNameLength {
			return "full_name is too long"
		}
	}
	if req.Bio != nil && utf8.RuneCountInString(*req.Bio) > maxBioLength {
		return "bio is too long"
	}
	if req.City != nil && utf8.RuneCountInString(strings.TrimSpace(*req.City)) > maxCityLength {
		return "city is too long"
	}
	if req.HourlyRate != nil && (*req.HourlyRate < 0 || *req.HourlyRate > maxHourlyRate) {
		return "hourly_rate must be between 0 and 10000"
	}
	return ""
}
