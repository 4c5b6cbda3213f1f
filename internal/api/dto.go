package api

import (
	"encoding/json"

	"github.com/starford/mioring/internal/catalog"
	"github.com/starford/mioring/internal/ring"
)

// RegisterTextRequest is the body of POST /entities/text. An empty ext picks
// url for a lone link and txt otherwise.
type RegisterTextRequest struct {
	Text string `json:"text" example:"remember the milk" validate:"required"`
	Ext  string `json:"ext,omitempty" example:"txt"`
}

// RegisterResponse lists the ids of newly registered entities.
type RegisterResponse struct {
	IDs []ring.MioID `json:"ids" validate:"required"`
}

// InitiateRequest is the body of POST /operations.
type InitiateRequest struct {
	Kind string          `json:"kind" example:"crop" validate:"required"`
	Attr json.RawMessage `json:"attr,omitempty" swaggertype:"object"`
	Base []string        `json:"base" example:"18c2f9d3a1b4e000-1" validate:"required"`
}

// ForceRequest is the body of POST /force.
type ForceRequest struct {
	IDs []string `json:"ids" validate:"required"`
}

// ForceResponse lists where each forced specter's content lives.
type ForceResponse struct {
	Actualized []ring.Actualized `json:"actualized" validate:"required"`
}

// TargetRequest names the root of an archive or delete cascade. Exactly one
// field must be set.
type TargetRequest struct {
	Specter   string `json:"specter,omitempty" example:"18c2f9d3a1b4e000-3"`
	Operation string `json:"operation,omitempty" example:"18c2f9d3a1b4e000-2"`
}

// ListResponse wraps a page of catalog rows.
type ListResponse struct {
	Specters []catalog.SpecterRow `json:"specters" validate:"required"`
	Total    int                  `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []catalog.SearchResult `json:"results" validate:"required"`
}

// OperationsResponse lists operation kinds offered for an entity kind.
type OperationsResponse struct {
	Kind       ring.EntityKind      `json:"kind" example:"image"`
	Operations []ring.OperationKind `json:"operations" validate:"required"`
}
