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

package main

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	cfg, err := parseArgs([]string{"--workers=3", "--max-size=100", "--provider=heap", "--json"})
	require.NoError(t, err)
	assert.Equal(t, config{
		Workers:    3,
		Iterations: 100000,
		MaxSize:    100,
		Provider:   "heap",
		Seed:       1,
		JSON:       true,
	}, cfg)

	_, err = parseArgs([]string{"--workers=0"})
	assert.Error(t, err)

	_, err = parseArgs([]string{"--workers=many"})
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	for _, maxSize := range []int{256, 200000} {
		rep, err := run(config{Workers: 4, Iterations: 2000, MaxSize: maxSize, Provider: "heap", Seed: 7})
		require.NoError(t, err)

		assert.Equal(t, 4, rep.Workers)
		assert.GreaterOrEqual(t, rep.Ops, 4*2000)
		assert.Positive(t, rep.BytesRequest)
		assert.NotEmpty(t, rep.RunID)
		// every block was freed and every queued remote free applied
		assert.Equal(t, rep.Stats.Allocs, rep.Stats.Frees+rep.Stats.RemoteReceived)
		assert.LessOrEqual(t, rep.Latency.P50, rep.Latency.P99)

		var buf bytes.Buffer
		rep.print(&buf)
		assert.Contains(t, buf.String(), rep.RunID)
	}
}

func TestReportJSON(t *testing.T) {
	rep, err := run(config{Workers: 1, Iterations: 10, MaxSize: 64, Provider: "heap", Seed: 1})
	require.NoError(t, err)

	out, err := json.Marshal(rep)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, rep.RunID, decoded["run_id"])
	assert.Contains(t, decoded, "stats")
	assert.Contains(t, decoded, "latency")
}
