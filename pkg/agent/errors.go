package agent

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrTaskNotFound is returned when a task name is not registered
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidPayload is returned when a task payload fails validation
	ErrInvalidPayload = errors.New("invalid task payload")
)

// TaskError is a task failure with an explicit kind, rendered as "Kind: message"
type TaskError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewTaskError creates a TaskError
func NewTaskError(kind, message string) *TaskError {
	return &TaskError{Kind: kind, Message: message}
}

// kinded lets error types name their own kind
type kinded interface {
	Kind() string
}

// ErrorKind returns a short name classifying err. TaskError kinds and
// Kind() methods win; otherwise the concrete type name of the outermost
// named error type is used, and "Error" for anonymous errors.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var te *TaskError
	if errors.As(err, &te) && te.Kind != "" {
		return te.Kind
	}
	var k kinded
	if errors.As(err, &k) {
		if kind := k.Kind(); kind != "" {
			return kind
		}
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		if name := typeName(e); name != "" {
			return name
		}
	}
	return "Error"
}

// anonymous error implementations from the standard library
var genericTypes = map[string]bool{
	"errorString": true,
	"wrapError":   true,
	"wrapErrors":  true,
	"joinError":   true,
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" || genericTypes[name] {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// FormatError renders err as "Kind: message"
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	var te *TaskError
	if errors.As(err, &te) && te.Error() == err.Error() {
		return te.Error()
	}
	return fmt.Sprintf("%s: %s", ErrorKind(err), err.Error())
}
