// Package model defines data structures used throughout the application.
package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validation errors.
var (
	ErrEmptyPatch = errors.New("update body must contain name or price")
	ErrValidation = errors.New("validation failed")
)

// Validation constants.
const (
	MaxNameLength = 255
)

// validate is shared across requests; validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts validator output into a single error wrapping
// ErrValidation, naming every failing field by its JSON name.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "min":
			msgs = append(msgs, fe.Field()+" cannot be empty")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s cannot exceed %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}

	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, ", "))
}

// Item represents a named, priced record held by the store.
type Item struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// ItemPatch carries the fields of a partial update. Nil fields are left
// untouched.
type ItemPatch struct {
	Name  *string  `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Price *float64 `json:"price,omitempty"`
}

// Validate checks that the patch is non-empty and that a supplied name is
// usable as a key.
func (p ItemPatch) Validate() error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	if err := validate.Struct(p); err != nil {
		return validationError(err)
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p ItemPatch) IsEmpty() bool {
	return p.Name == nil && p.Price == nil
}

// Apply returns a copy of item with the patch fields overwritten.
func (p ItemPatch) Apply(item Item) Item {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Price != nil {
		item.Price = *p.Price
	}
	return item
}

// CreateItemRequest is the body of POST /items. Pointer fields let a zero
// price count as present.
type CreateItemRequest struct {
	Name  *string  `json:"name" validate:"required,min=1,max=255"`
	Price *float64 `json:"price" validate:"required"`
}

// Validate checks that both name and price are present.
func (r CreateItemRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// Item converts a validated request into an Item.
func (r CreateItemRequest) Item() Item {
	var item Item
	if r.Name != nil {
		item.Name = *r.Name
	}
	if r.Price != nil {
		item.Price = *r.Price
	}
	return item
}

// ItemsResponse is the body of GET /items.
type ItemsResponse struct {
	Items []Item `json:"items"`
}

// AddedResponse is the body of a successful POST /items.
type AddedResponse struct {
	Added Item `json:"added"`
}

// UpdatedResponse is the body of a successful PATCH /items/{name}.
type UpdatedResponse struct {
	Updated Item `json:"updated"`
}

// MessageResponse carries a plain status message.
type MessageResponse struct {
	Message string `json:"message"`
}

// DeletedMessage is returned after a successful delete.
const DeletedMessage = "Deleted"

// ErrorResponse represents an error response structure.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Item event types pushed over the WebSocket feed.
const (
	EventTypeItemCreated = "item_created"
	EventTypeItemUpdated = "item_updated"
	EventTypeItemDeleted = "item_deleted"
)

// ItemEvent describes a completed mutation of the store. Name is the key
// of the affected item after the mutation; Item is omitted for deletions.
type ItemEvent struct {
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	Item         *Item     `json:"item,omitempty"`
	PreviousName string    `json:"previous_name,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewItemCreatedEvent creates an event for a newly appended item.
func NewItemCreatedEvent(item Item) ItemEvent {
	return newItemEvent(EventTypeItemCreated, item.Name, &item)
}

// NewItemUpdatedEvent creates an event for a patched item. previousName is
// recorded only when the patch renamed the item.
func NewItemUpdatedEvent(previousName string, item Item) ItemEvent {
	event := newItemEvent(EventTypeItemUpdated, item.Name, &item)
	if previousName != item.Name {
		event.PreviousName = previousName
	}
	return event
}

// NewItemDeletedEvent creates an event for a removed item.
func NewItemDeletedEvent(name string) ItemEvent {
	return newItemEvent(EventTypeItemDeleted, name, nil)
}

func newItemEvent(eventType, name string, item *Item) ItemEvent {
	return ItemEvent{
		Type:      eventType,
		Name:      name,
		Item:      item,
		Timestamp: time.Now().UTC(),
	}
}
