// Package domain holds the connection and scope types shared by evaluators,
// the LLM pipeline, and the safety client.
package domain

import (
	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance used for struct validation.
var validate = validator.New(validator.WithRequiredStructEnabled())
