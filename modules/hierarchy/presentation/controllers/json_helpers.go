package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/services"
	"github.com/iota-uz/iota-hierarchy/pkg/composables"
	"github.com/iota-uz/iota-hierarchy/pkg/httpapi"
)

const maxBodyBytes = 1 << 20

func decodeJSON(body io.ReadCloser, out any) error {
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func decodeBody(w http.ResponseWriter, r *http.Request, requestID string, out any) bool {
	if err := decodeJSON(r.Body, out); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidBody, "invalid json body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps a ServiceError to its status and code. Bulk failures
// also report the index of the offending item. Anything else is logged and
// answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	apiErr := httpapi.FromError(err).WithRequestID(requestID)
	var itemErr *services.BulkItemError
	if errors.As(err, &itemErr) {
		apiErr.With("index", strconv.Itoa(itemErr.Index))
	}
	if apiErr.Internal() {
		composables.UseLogger(r.Context()).WithError(err).WithField("code", apiErr.Code).Error("hierarchy api request failed")
	}
	writeAPI(w, apiErr)
}

func writeAPIError(w http.ResponseWriter, status int, requestID, code, message string) {
	writeAPI(w, httpapi.NewError(status, code, message).WithRequestID(requestID))
}

func writeAPI(w http.ResponseWriter, apiErr *httpapi.Error) {
	if err := apiErr.Write(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, payload T) {
	if err := httpapi.WriteJSON(w, status, payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
