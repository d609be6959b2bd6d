package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// MaxBodyBytes bounds every JSON request body.
const MaxBodyBytes = 1 << 20

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes a size-limited request body into dst. Numbers decode as
// json.Number so schema validation sees the exact wire value.
func ReadJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return BadRequest("Request body too large or unreadable")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return BadRequest("Request body is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		slog.DebugContext(r.Context(), "request body rejected", "path", r.URL.Path, "error", err)
		return decodeError(err)
	}
	return nil
}

// decodeError names the offending field or position without echoing the
// decoder's message.
func decodeError(err error) *Error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return BadRequest("Invalid value for field %s: expected %s", typeErr.Field, jsonType(typeErr.Type.Kind().String()))
	case errors.As(err, &typeErr):
		return BadRequest("Request body must be a JSON object")
	case errors.As(err, &syntaxErr):
		return BadRequest("Malformed JSON at offset %d", syntaxErr.Offset)
	default:
		return BadRequest("Malformed JSON body")
	}
}

func jsonType(kind string) string {
	switch kind {
	case "bool":
		return "boolean"
	case "string":
		return "string"
	case "map", "struct":
		return "object"
	case "slice", "array":
		return "array"
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64", "float32", "float64":
		return "number"
	default:
		return "a valid value"
	}
}

// Now returns the wall-clock time used in response timestamps: UTC, whole
// seconds.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
