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

// Command malloc-stress hammers a malloc.Context from several goroutines,
// checking every block it moves or frees, and reports throughput and
// latency.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/docopt/docopt-go"
	"github.com/goccy/go-json"
	"golang.org/x/xerrors"
)

const usage = `Malloc Stress.
Usage:
  malloc-stress -h | --help
  malloc-stress [--workers=N] [--iterations=N] [--max-size=BYTES]
                [--provider=NAME] [--seed=SEED] [--json]
Options:
  -h --help            Show this screen.
  --workers=N          Number of concurrent workers [default: 4].
  --iterations=N       Operations per worker [default: 100000].
  --max-size=BYTES     Largest request in bytes [default: 65536].
  --provider=NAME      Chunk provider, heap or mmap.
  --seed=SEED          Seed for the request generator [default: 1].
  --json               Format the report as JSON instead of text.`

type config struct {
	Workers    int
	Iterations int
	MaxSize    int
	Provider   string
	Seed       int
	JSON       bool
}

func parseArgs(argv []string) (config, error) {
	opts, err := docopt.ParseArgs(usage, argv, "")
	if err != nil {
		return config{}, err
	}

	var cfg config
	if cfg.Workers, err = opts.Int("--workers"); err != nil {
		return cfg, xerrors.Errorf("--workers: %w", err)
	}
	if cfg.Iterations, err = opts.Int("--iterations"); err != nil {
		return cfg, xerrors.Errorf("--iterations: %w", err)
	}
	if cfg.MaxSize, err = opts.Int("--max-size"); err != nil {
		return cfg, xerrors.Errorf("--max-size: %w", err)
	}
	if cfg.Seed, err = opts.Int("--seed"); err != nil {
		return cfg, xerrors.Errorf("--seed: %w", err)
	}
	cfg.Provider, _ = opts["--provider"].(string)
	cfg.JSON, _ = opts.Bool("--json")

	if cfg.Workers < 1 || cfg.Iterations < 0 || cfg.MaxSize < 1 {
		return cfg, xerrors.New("workers and max-size must be positive")
	}
	return cfg, nil
}

func main() {
	log.SetPrefix("malloc-stress: ")
	log.SetFlags(0)

	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	rep, err := run(cfg)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.JSON {
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(out))
		return
	}
	rep.print(os.Stdout)
}
