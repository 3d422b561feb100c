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

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// partitionForKey maps a key onto one of count partitions. The mapping only
// depends on the key bytes, so a key always lands on the same partition.
func partitionForKey(key []byte, count int) int32 {
	if count < 1 {
		panic(fmt.Sprintf("broker: partition count %d reached key partitioner", count))
	}
	return int32(xxhash.Sum64(key) % uint64(count))
}

// roundRobin picks the partition for the seq-th keyless produce.
func roundRobin(seq uint64, count int) int32 {
	if count < 1 {
		panic(fmt.Sprintf("broker: partition count %d reached round robin partitioner", count))
	}
	return int32(seq % uint64(count))
}
