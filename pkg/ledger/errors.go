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

package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrProductExists       = errors.New("product already exists")
	ErrInvalidProductID    = errors.New("invalid product id")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrInsufficientStock matches every *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidReservationState matches every *InvalidStateError.
	ErrInvalidReservationState = errors.New("invalid reservation state")
)

// InsufficientStockError reports how much could have been reserved so the
// caller can retry with a smaller quantity.
type InsufficientStockError struct {
	ProductID string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InvalidStateError is returned when confirm or release targets a
// reservation that is no longer ACTIVE.
type InvalidStateError struct {
	ReservationID string
	Current       Status
	Attempted     Operation
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s reservation %s in state %s", e.Attempted, e.ReservationID, e.Current)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidReservationState
}

// Result labels used for metrics and reports.
const (
	ResultSuccess                 = "success"
	ResultProductNotFound         = "product_not_found"
	ResultInvalidQuantity         = "invalid_quantity"
	ResultInsufficientStock       = "insufficient_stock"
	ResultReservationNotFound     = "reservation_not_found"
	ResultInvalidReservationState = "invalid_reservation_state"
	ResultError                   = "error"
)

// Result classifies the outcome of a ledger call into a stable label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrProductNotFound):
		return ResultProductNotFound
	case errors.Is(err, ErrInvalidQuantity):
		return ResultInvalidQuantity
	case errors.Is(err, ErrInsufficientStock):
		return ResultInsufficientStock
	case errors.Is(err, ErrReservationNotFound):
		return ResultReservationNotFound
	case errors.Is(err, ErrInvalidReservationState):
		return ResultInvalidReservationState
	default:
		return ResultError
	}
}
