// Package ingest carries index mutations over Kafka: a publisher turns
// document uploads and noise-word lists into events, and a rate-limited
// handler applies consumed events to the engine.
package ingest

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type EventType string

const (
	EventDocument   EventType = "document"
	EventNoiseWords EventType = "noise_words"
)

const noiseKey = "noise-words"

// Event is the message payload on the ingest topic. Name and Content are
// required for document events; a noise-word event carries the
// whitespace-separated list in Content and may be empty.
type Event struct {
	ID          string    `json:"id" validate:"required,uuid"`
	Type        EventType `json:"type" validate:"required,oneof=document noise_words"`
	Name        string    `json:"name,omitempty" validate:"required_if=Type document,max=512"`
	Content     string    `json:"content" validate:"required_if=Type document,max=16777216"`
	PublishedAt time.Time `json:"published_at"`
}

func NewDocumentEvent(name, content string) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        EventDocument,
		Name:        name,
		Content:     content,
		PublishedAt: time.Now().UTC(),
	}
}

func NewNoiseWordsEvent(text string) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        EventNoiseWords,
		Content:     text,
		PublishedAt: time.Now().UTC(),
	}
}

// Key is the partition key. Events for one document share a partition so
// they apply in publish order.
func (e Event) Key() string {
	if e.Type == EventNoiseWords {
		return noiseKey
	}
	return e.Name
}

// ValidationError lists the failing fields of an event.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, f := range names {
		parts = append(parts, fmt.Sprintf("%s:%s", f, e.Fields[f]))
	}
	return strings.Join(parts, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks e against its struct tags. Failures are InvalidInput
// wrapping a *ValidationError.
func Validate(e *Event) error {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	err := validate.Struct(e)
	if err == nil {
		if e.Type == EventDocument && strings.TrimSpace(e.Name) == "" {
			return invalid(map[string]string{"name": "blank"})
		}
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.Newf(apperrors.ErrInvalidInput, "validating event: %v", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return invalid(fields)
}

func invalid(fields map[string]string) error {
	verr := &ValidationError{Fields: fields}
	return &apperrors.AppError{
		Err:     fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, verr),
		Message: "invalid ingest event",
		Code:    apperrors.CodeBadParam,
	}
}
