package main

import (
	"encoding/json"

	"github.com/liamcoop/annotations/annotations"
	"github.com/liamcoop/annotations/engine"
)

// API Request and Response Models

// CreateAnnotationRequest represents the request body for attaching an annotation to an owner
type CreateAnnotationRequest struct {
	ID         string          `json:"id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Definition json.RawMessage `json:"definition" binding:"required"`
	Active     *bool           `json:"active,omitempty" example:"true"`
}

// UpdateAnnotationRequest represents the request body for replacing an annotation
type UpdateAnnotationRequest struct {
	Definition json.RawMessage `json:"definition" binding:"required"`
	Active     *bool           `json:"active,omitempty" example:"true"`
}

// AnnotationsListResponse represents the response for listing an owner's annotations
type AnnotationsListResponse struct {
	Owner       engine.Owner     `json:"owner"`
	Annotations []*engine.Record `json:"annotations"`
}

// OwnersListResponse represents the response for listing loaded owners
type OwnersListResponse struct {
	Owners []engine.Owner `json:"owners"`
}

// ValidateResponse represents a successfully parsed annotation
type ValidateResponse struct {
	Valid      bool                   `json:"valid" example:"true"`
	Type       string                 `json:"type" example:"inhibition"`
	Annotation annotations.Annotation `json:"annotation"`
}

// EvaluateRequest represents the request body for deciding on an event
type EvaluateRequest struct {
	Owners []engine.Owner    `json:"owners" binding:"required"`
	Event  annotations.Event `json:"event" binding:"required"`
}

// EvaluateResponse represents the merged decision for an event
type EvaluateResponse struct {
	*engine.Decision
	EvaluationTime string `json:"evaluationTime" example:"0.3ms"`
}

// FunctionResponse describes one condition function
type FunctionResponse struct {
	Name  string `json:"name" example:"eq"`
	Arity int    `json:"arity" example:"2"`
}

// FunctionsListResponse represents the response for listing condition functions
type FunctionsListResponse struct {
	Functions []FunctionResponse `json:"functions"`
}

// ErrorResponse represents an error response. Kind, Field and Function are
// set when an annotation failed to parse.
type ErrorResponse struct {
	Error    string `json:"error" example:"annotation validation failed"`
	Details  string `json:"details,omitempty"`
	Kind     string `json:"kind,omitempty" example:"UNKNOWN_FUNCTION"`
	Field    string `json:"field,omitempty"`
	Function string `json:"function,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string `json:"status" example:"healthy"`
	OwnersLoaded int    `json:"ownersLoaded" example:"12"`
	Error        string `json:"error,omitempty"`
}
