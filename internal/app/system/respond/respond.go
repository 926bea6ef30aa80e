// Package respond writes the JSON bodies shared by the auth and
// registration routers.
//
// Error bodies follow one of two shapes:
//
//	{ "detail": "..." }                                  request-level errors
//	{ "field": ["msg"], "non_field_errors": ["msg"] }    validation errors
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sort"
)

// NonFieldErrors is the key for validation errors not tied to one field.
const NonFieldErrors = "non_field_errors"

const (
	msgParseError = "JSON parse error."
	msgNotString  = "Not a valid string."
)

// FieldErrors collects validation messages per field.
type FieldErrors map[string][]string

// Add appends msg to field.
func (fe FieldErrors) Add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

// Empty reports whether no errors were collected.
func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Detail writes {"detail": msg}.
func Detail(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"detail": msg})
}

// Invalid writes a 400 with field errors.
func Invalid(w http.ResponseWriter, errs FieldErrors) {
	JSON(w, http.StatusBadRequest, errs)
}

// NonField writes a 400 with a single non-field error.
func NonField(w http.ResponseWriter, msg string) {
	Invalid(w, FieldErrors{NonFieldErrors: {msg}})
}

// InvalidFields is returned by Decode when JSON values are not strings.
type InvalidFields FieldErrors

func (e InvalidFields) Error() string {
	names := make([]string, 0, len(e))
	for k := range e {
		names = append(names, k)
	}
	sort.Strings(names)
	return fmt.Sprintf("non-string values for %v", names)
}

// Decode reads a JSON request body into dst. Form-encoded bodies are also
// accepted so plain HTML forms can post to the same endpoints. A JSON null
// is treated as an absent field; any other non-string value makes Decode
// return InvalidFields.
func Decode(r *http.Request, dst map[string]string) error {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return err
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				dst[k] = v[0]
			}
		}
		return nil
	}
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return err
	}
	bad := InvalidFields{}
	for k, v := range raw {
		switch s := v.(type) {
		case string:
			dst[k] = s
		case nil:
		default:
			bad[k] = []string{msgNotString}
		}
	}
	if len(bad) > 0 {
		return bad
	}
	return nil
}

// DecodeError writes the 400 for an error returned by Decode: field
// messages for non-string values, a detail body for unreadable input.
func DecodeError(w http.ResponseWriter, err error) {
	var bad InvalidFields
	if errors.As(err, &bad) {
		Invalid(w, FieldErrors(bad))
		return
	}
	Detail(w, http.StatusBadRequest, msgParseError)
}
