// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/novatechflow/kafsim/pkg/broker"
	"github.com/novatechflow/kafsim/pkg/ledger"
)

const maxBodyBytes = 1 << 20

// ErrMalformedPayload is returned for request bodies that are not the
// expected JSON document.
var ErrMalformedPayload = errors.New("malformed payload")

type errorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, reason)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return malformed(err.Error())
	}
	return nil
}

// classify maps a domain error onto its status code and taxonomy name.
func classify(err error) (int, string, map[string]any) {
	details := map[string]any{"message": err.Error()}

	var short *ledger.InsufficientStockError
	if errors.As(err, &short) {
		details["productId"] = short.ProductID
		details["available"] = short.Available
		details["requested"] = short.Requested
		return http.StatusConflict, "InsufficientStock", details
	}
	var state *ledger.InvalidStateError
	if errors.As(err, &state) {
		details["reservationId"] = state.ReservationID
		details["current"] = state.Current
		details["attempted"] = state.Attempted
		return http.StatusConflict, "InvalidReservationState", details
	}

	switch {
	case errors.Is(err, ErrMalformedPayload):
		return http.StatusBadRequest, "MalformedPayload", details
	case errors.Is(err, broker.ErrTopicNotFound):
		return http.StatusNotFound, "TopicNotFound", details
	case errors.Is(err, broker.ErrTopicExists):
		return http.StatusConflict, "TopicAlreadyExists", details
	case errors.Is(err, broker.ErrInvalidPartitionCount):
		return http.StatusBadRequest, "InvalidPartitionCount", details
	case errors.Is(err, broker.ErrInvalidPartition):
		return http.StatusBadRequest, "InvalidPartition", details
	case errors.Is(err, broker.ErrInvalidTopicName):
		return http.StatusBadRequest, "InvalidTopicName", details
	case errors.Is(err, broker.ErrInvalidOffset):
		return http.StatusBadRequest, "InvalidOffset", details
	case errors.Is(err, ledger.ErrProductNotFound):
		return http.StatusNotFound, "ProductNotFound", details
	case errors.Is(err, ledger.ErrReservationNotFound):
		return http.StatusNotFound, "ReservationNotFound", details
	case errors.Is(err, ledger.ErrInvalidQuantity):
		return http.StatusBadRequest, "InvalidQuantity", details
	}
	return http.StatusInternalServerError, "InternalError", details
}

func (h *consoleHandlers) writeError(w http.ResponseWriter, err error) {
	status, name, details := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	} else {
		h.logger.Debug("request rejected", "error", name, "detail", err)
	}
	writeJSON(w, status, errorResponse{Error: name, Details: details})
}
