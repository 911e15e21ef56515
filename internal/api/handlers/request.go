package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Togather-Foundation/passvault/internal/apperror"
)

// decodeJSON reads exactly one JSON object into dst, refusing unknown
// fields. An empty body is an error unless allowEmpty is set, in which case
// dst is left at its zero value.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return apperror.Validation("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperror.Wrap(err, apperror.KindValidation, apperror.CodePayloadTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			if allowEmpty {
				return nil
			}
			return apperror.Validation("request body is required")
		default:
			return apperror.Wrap(err, apperror.KindValidation, apperror.CodeValidation, "invalid JSON body: "+err.Error())
		}
	}
	if dec.More() {
		return apperror.Validation("request body must contain a single JSON object")
	}
	return nil
}

// pathID parses the {id} wildcard as a positive integer.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Validation("id must be a positive integer")
	}
	return id, nil
}
