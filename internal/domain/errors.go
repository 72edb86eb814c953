package domain

import "errors"

// ErrInvalidConnection indicates that a model connection is missing required fields.
var ErrInvalidConnection = errors.New("invalid model connection")

// ErrInvalidProjectScope indicates that an Azure AI project scope is incomplete.
var ErrInvalidProjectScope = errors.New("invalid project scope")
