// Copyright 2025 uzqw
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

// Command recall measures find_nearest's recall against full_table_scan
// ground truth over a synthetic random vector set, either for one
// (search_k, spill) pair or swept across a matrix of both.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/uzqw/vex/internal/backend"
	"github.com/uzqw/vex/internal/bitmap"
	"github.com/uzqw/vex/internal/quantization"
	"github.com/uzqw/vex/internal/resultset"
	"github.com/uzqw/vex/internal/store"
	"github.com/uzqw/vex/internal/vecmath"
)

var (
	mode       = flag.String("mode", "matrix", "run or matrix")
	vectors    = flag.Int("vectors", 100000, "Number of vectors to index")
	queries    = flag.Int("queries", 1000, "Number of query vectors")
	dimensions = flag.Int("dimensions", 256, "Vector dimensionality")
	bases      = flag.Int("bases", 30, "Number of orthonormal bases")
	searchK    = flag.Int("search-k", 1000, "search_k for single-run mode")
	spill      = flag.Int("spill", 16, "spill for single-run mode")
)

func main() {
	flag.Parse()

	s, err := makeStore()
	if err != nil {
		fmt.Printf("failed to build store: %v\n", err)
		return
	}

	tests := createVectorSet(*dimensions, *queries)
	fmt.Println("made vectors")

	fts := make([]*resultset.ResultSet, len(tests))
	for i, t := range tests {
		rs, err := s.FullTableScan(t, 20)
		if err != nil {
			fmt.Printf("full table scan failed: %v\n", err)
			return
		}
		fts[i] = rs
	}

	if *mode == "matrix" {
		for _, sp := range []int{1, 4, 8, 16} {
			if *dimensions < sp {
				continue
			}
			for _, sk := range []int{100, 500, 1000, 2000, 5000, 10000, 20000} {
				results, took := runTest(s, tests, sk, sp)
				printResultLine(fts, results, sk, sp, took)
			}
		}
		return
	}

	results, took := runTest(s, tests, *searchK, *spill)
	printResultLine(fts, results, *searchK, *spill, took)
}

func makeStore() (*store.VectorStore, error) {
	data := createVectorSet(*dimensions, *vectors)

	be := backend.NewMemoryBackend[[]float32](quantization.Identity{})
	s, err := store.New(be, *dimensions, *bases, bitmap.Roaring)
	if err != nil {
		return nil, err
	}

	if err := s.AddVectorIter(store.EnumerateIDs(data)); err != nil {
		return nil, err
	}
	fmt.Println("added vectors")

	if err := s.BuildIndex(); err != nil {
		return nil, err
	}
	fmt.Println("built index")

	return s, nil
}

func createVectorSet(dimensions, n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = vecmath.CreateRandomVector(dimensions)
	}
	return out
}

func runTest(s *store.VectorStore, tests [][]float32, searchK, spill int) ([]*resultset.ResultSet, time.Duration) {
	out := make([]*resultset.ResultSet, len(tests))
	start := time.Now()
	for i, v := range tests {
		rs, err := s.FindNearest(v, 20, searchK, spill)
		if err != nil {
			out[i] = resultset.New(20)
			continue
		}
		out[i] = rs
	}
	return out, time.Since(start)
}

func printResultLine(fts, real []*resultset.ResultSet, searchK, spill int, took time.Duration) {
	var acc [4]float64
	checked := 0
	for i := range fts {
		acc[0] += fts[i].ComputeRecall(real[i], 1)
		acc[1] += fts[i].ComputeRecall(real[i], 5)
		acc[2] += fts[i].ComputeRecall(real[i], 10)
		acc[3] += fts[i].ComputeRecall(real[i], 20)
		checked += real[i].Checked()
	}
	for i := range acc {
		acc[i] *= 100.0 / float64(len(fts))
	}
	perQuery := float64(took.Milliseconds()) / float64(len(real))
	avgCheck := checked / len(real)

	fmt.Printf("searchk %-6d / spill %-4d  (%8.4fms, %10d checked)    %5.2f@1   %5.2f@5   %5.2f@10   %5.2f@20\n",
		searchK, spill, perQuery, avgCheck, acc[0], acc[1], acc[2], acc[3])
}
