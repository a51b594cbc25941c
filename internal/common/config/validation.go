package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

// LogValidationErrors reports every invalid config field on its own line, so
// a misconfigured deployment surfaces all problems in one startup attempt.
func LogValidationErrors(err error) {
	if err == nil {
		return
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		log.Errorf("ConfigError: %v", err)
		return
	}
	for _, fieldError := range validationErrors {
		fieldName := stripPrefix(fieldError.Namespace())
		switch tag := fieldError.Tag(); tag {
		case "required":
			log.Errorf("ConfigError: Field %s is required but was not found", fieldName)
		case "oneof":
			log.Errorf("ConfigError: Field %s must be one of [%s], got %v", fieldName, fieldError.Param(), fieldError.Value())
		case "gtfield":
			log.Errorf("ConfigError: Field %s must be greater than field %s", fieldName, fieldError.Param())
		case "url":
			log.Errorf("ConfigError: Field %s must be a valid url, got %v", fieldName, fieldError.Value())
		default:
			log.Errorf("ConfigError: Field %s has invalid value %v: %s", fieldName, fieldError.Value(), tag)
		}
	}
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}
