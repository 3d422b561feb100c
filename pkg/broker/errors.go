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

package broker

import "errors"

var (
	// ErrTopicNotFound is returned for operations naming a topic that was never created.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrTopicExists is returned when CreateTopic is called for a name already in use.
	ErrTopicExists = errors.New("topic already exists")
	// ErrInvalidPartitionCount is returned when a topic is created with fewer than one partition.
	ErrInvalidPartitionCount = errors.New("invalid partition count")
	// ErrInvalidPartition is returned when a partition index is outside the topic's range.
	ErrInvalidPartition = errors.New("invalid partition")
	// ErrInvalidTopicName is returned when CreateTopic gets a blank name.
	ErrInvalidTopicName = errors.New("invalid topic name")
	// ErrInvalidOffset is returned when a read starts at a negative offset.
	ErrInvalidOffset = errors.New("invalid offset")
)
