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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/novatechflow/kafsim/pkg/broker"
)

// DefaultTopic is the topic stock events are published to.
const DefaultTopic = "stock-events"

// EventType is the closed set of events the ledger emits.
type EventType string

const (
	EventReserved  EventType = "stock.reserved"
	EventConfirmed EventType = "stock.confirmed"
	EventReleased  EventType = "stock.released"
)

func (t EventType) valid() bool {
	switch t {
	case EventReserved, EventConfirmed, EventReleased:
		return true
	}
	return false
}

// StockEvent describes one successful ledger transition.
type StockEvent struct {
	EventType     EventType `json:"eventType"`
	ReservationID string    `json:"reservationId"`
	ProductID     string    `json:"productId"`
	Quantity      int64     `json:"quantity"`
	UserID        string    `json:"userId"`
	ResultStatus  Status    `json:"resultStatus"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Encode serializes the event as JSON.
func (e StockEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses an envelope value produced by Encode and rejects
// unknown event types.
func DecodeEvent(data []byte) (StockEvent, error) {
	var evt StockEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return StockEvent{}, fmt.Errorf("decode stock event: %w", err)
	}
	if !evt.EventType.valid() {
		return StockEvent{}, fmt.Errorf("decode stock event: unknown event type %q", evt.EventType)
	}
	return evt, nil
}

// Publisher delivers stock events downstream.
type Publisher interface {
	Publish(ctx context.Context, evt StockEvent) error
}

// Producer is the subset of *broker.Broker used for publishing.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) (broker.ProduceResult, error)
}

// BrokerPublisher produces events onto a broker topic keyed by product id,
// so every event for a product lands on the same partition in order.
type BrokerPublisher struct {
	producer Producer
	topic    string
}

// NewBrokerPublisher publishes to topic, or DefaultTopic when empty.
func NewBrokerPublisher(producer Producer, topic string) *BrokerPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &BrokerPublisher{producer: producer, topic: topic}
}

func (p *BrokerPublisher) Publish(ctx context.Context, evt StockEvent) error {
	payload, err := evt.Encode()
	if err != nil {
		return err
	}
	if _, err := p.producer.Produce(ctx, p.topic, []byte(evt.ProductID), payload); err != nil {
		return fmt.Errorf("publish %s: %w", evt.EventType, err)
	}
	return nil
}
