package table

import (
	"fmt"
	"net/http"
)

type Error struct {
	msg    string
	status int
}

func NewError(status int, msg string) *Error {
	return &Error{msg: msg, status: status}
}

func (e Error) Error() string { return e.msg }
func (e Error) Status() int   { return e.status }

// NoChangeError reports an update whose values all matched the current
// row. Callers that must trigger downstream recomputes ask for it, all
// others treat a no-op update as success.
type NoChangeError struct {
	Table string
}

func (e *NoChangeError) Error() string {
	return fmt.Sprintf("No changes found in update request for table '%s'.", e.Table)
}
func (e *NoChangeError) Status() int { return http.StatusBadRequest }

// TemplateOverflowError reports an id template with fewer digit
// placeholders than the primary key has digits.
type TemplateOverflowError struct{}

func (e *TemplateOverflowError) Error() string {
	return "Couldn't generate automatic ID due to too few available digits."
}
func (e *TemplateOverflowError) Status() int { return http.StatusInternalServerError }

// IntegrityError is a dangling foreign key found while linking.
// It is fatal, the server must not start serving with a broken graph.
type IntegrityError struct {
	Key   string
	Table string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("Could not find primary key '%s' in table '%s'", e.Key, e.Table)
}
