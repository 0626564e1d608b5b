package main

import (
	"time"

	"github.com/liamcoop/formrules/formmanager"
	"github.com/liamcoop/formrules/rules"
)

// API request and response models

// FormSummary is one entry of the form list
type FormSummary struct {
	ID        string    `json:"id" example:"signup"`
	Title     string    `json:"title,omitempty" example:"Sign up"`
	Version   int       `json:"version" example:"3"`
	Fields    int       `json:"fields" example:"12"`
	Rules     int       `json:"rules" example:"7"`
	UpdatedAt time.Time `json:"updatedAt" example:"2024-01-15T10:30:00Z"`
} // @name FormSummary

// FormsListResponse represents the response for listing forms
type FormsListResponse struct {
	Forms []FormSummary `json:"forms"`
} // @name FormsListResponse

// EvaluateRequest carries the answers to evaluate a form against
type EvaluateRequest struct {
	Answers rules.AnswerSet `json:"answers"`
	Mode    rules.Mode      `json:"mode,omitempty" example:"runtime"`
} // @name EvaluateRequest

// EvaluateResponse holds the computed field states
type EvaluateResponse struct {
	States         map[string]rules.FieldState `json:"states"`
	Messages       []rules.Message             `json:"messages"`
	Warnings       []rules.Warning             `json:"warnings"`
	EvaluationTime string                      `json:"evaluationTime" example:"120µs"`
} // @name EvaluateResponse

// ValidateResponse lists every authoring problem found in a schema
type ValidateResponse struct {
	Valid  bool                           `json:"valid"`
	Errors []*formmanager.ValidationError `json:"errors"`
} // @name ValidateResponse

// SetAnswerRequest sets one answer. A null value clears it.
type SetAnswerRequest struct {
	Value any `json:"value"`
} // @name SetAnswerRequest

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error    string                         `json:"error" example:"form not found"`
	Details  string                         `json:"details,omitempty"`
	Missing  []string                       `json:"missing,omitempty"`
	Problems []*formmanager.ValidationError `json:"problems,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string `json:"status" example:"healthy"`
	FormsLoaded  int    `json:"formsLoaded" example:"4"`
	FormStore    string `json:"formStore" example:"postgres"`
	SessionStore string `json:"sessionStore" example:"redis"`
	Error        string `json:"error,omitempty"`
} // @name HealthResponse

func summarize(schema *rules.Schema) FormSummary {
	return FormSummary{
		ID:        schema.ID,
		Title:     schema.Title,
		Version:   schema.Version,
		Fields:    len(schema.Fields),
		Rules:     len(schema.Rules),
		UpdatedAt: schema.UpdatedAt,
	}
}
