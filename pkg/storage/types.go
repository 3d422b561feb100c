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

package storage

import "time"

// Envelope is a single message stored in a partition log.
type Envelope struct {
	Topic      string    `json:"topic"`
	Partition  int32     `json:"partition"`
	Offset     int64     `json:"offset"`
	Key        []byte    `json:"key,omitempty"`
	Value      []byte    `json:"value"`
	ProducedAt time.Time `json:"producedAt"`
}

// HasKey reports whether the envelope was produced with a partitioning key.
func (e Envelope) HasKey() bool {
	return len(e.Key) > 0
}

// PartitionLogConfig configures per-partition log behavior.
type PartitionLogConfig struct {
	// InitialCapacity preallocates the entry slice.
	InitialCapacity int
	// Clock overrides time.Now for produce timestamps.
	Clock func() time.Time
}
