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

//go:build debug || assert

package debug

import "fmt"

// text renders a lazily built message. Closures let hot paths skip the
// formatting when the message is never printed.
func text(v interface{}) string {
	switch a := v.(type) {
	case string:
		return a
	case func() string:
		return a()
	case error:
		return a.Error()
	case fmt.Stringer:
		return a.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
