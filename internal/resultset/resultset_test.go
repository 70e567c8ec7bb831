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

package resultset

import "testing"

func TestAddResultOrderingAndCapacity(t *testing.T) {
	rs := New(3)
	rs.AddResult(1, 0.5)
	rs.AddResult(2, 0.9)
	rs.AddResult(3, 0.1)
	rs.AddResult(4, 0.7)

	if rs.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", rs.Len())
	}
	wantIDs := []uint64{2, 4, 1}
	wantSims := []float32{0.9, 0.7, 0.5}
	for i, id := range rs.IDs() {
		if id != wantIDs[i] {
			t.Errorf("ids[%d] = %d, want %d", i, id, wantIDs[i])
		}
	}
	for i, s := range rs.Sims() {
		if s != wantSims[i] {
			t.Errorf("sims[%d] = %v, want %v", i, s, wantSims[i])
		}
	}

	// 0.1 was accepted while the set still had room, then pushed out of the
	// full set when 0.7 was inserted ahead of it.
	for _, id := range rs.IDs() {
		if id == 3 {
			t.Errorf("id 3 with sim 0.1 should have been discarded")
		}
	}
}

func TestAddResultDuplicateSuppression(t *testing.T) {
	rs := New(5)
	rs.AddResult(1, 0.9)
	rs.AddResult(1, 0.95) // duplicate id: unchanged even though sim is higher
	if rs.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", rs.Len())
	}
	if rs.Sims()[0] != 0.9 {
		t.Errorf("sims[0] = %v, want 0.9 (duplicate must not update)", rs.Sims()[0])
	}
}

func TestCheckedCounter(t *testing.T) {
	rs := New(2)
	rs.AddResult(1, 0.1)
	rs.AddResult(1, 0.1) // duplicate, still counted
	rs.AddResult(2, 0.2)
	if rs.Checked() != 3 {
		t.Errorf("Checked() = %d, want 3", rs.Checked())
	}
}

func TestComputeRecall(t *testing.T) {
	baseline := New(5)
	for i, sim := range []float32{0.9, 0.8, 0.7, 0.6, 0.5} {
		baseline.AddResult(uint64(i), sim)
	}

	approx := New(5)
	for i, sim := range []float32{0.9, 0.8, 0.65, 0.6, 0.1} {
		id := uint64(i)
		if i == 2 {
			id = 99 // swap in a miss at position 2
		}
		approx.AddResult(id, sim)
	}

	recall := approx.ComputeRecall(baseline, 5)
	if recall != 0.8 {
		t.Errorf("ComputeRecall() = %v, want 0.8 (4 of 5 hits)", recall)
	}

	if r := approx.ComputeRecall(baseline, 2); r != 1.0 {
		t.Errorf("ComputeRecall(at=2) = %v, want 1.0", r)
	}
}

func TestResultSetNeverExceedsCapacity(t *testing.T) {
	rs := New(2)
	for i := uint64(0); i < 100; i++ {
		rs.AddResult(i, float32(i))
	}
	if rs.Len() != 2 {
		t.Errorf("Len() = %d, want 2", rs.Len())
	}
	for i := 1; i < rs.Len(); i++ {
		if rs.Sims()[i] > rs.Sims()[i-1] {
			t.Errorf("sims not non-increasing at %d: %v > %v", i, rs.Sims()[i], rs.Sims()[i-1])
		}
	}
}
