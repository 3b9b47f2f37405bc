// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lfstack

// A tagged word carries a node's table index in its upper half and the
// node's push count in its lower half. Index 0 is never assigned, so the
// zero word is the empty stack.
func pack(index, tag uint32) uint64 {
	return uint64(index)<<32 | uint64(tag)
}

func unpackIndex(v uint64) uint32 {
	return uint32(v >> 32)
}
