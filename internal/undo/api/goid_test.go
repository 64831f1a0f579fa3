// Copyright 2025 The racedetector Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"runtime"
	"sync"
	"testing"
)

// TestGetGoroutineID_Basic tests that the ID is positive and stable.
func TestGetGoroutineID_Basic(t *testing.T) {
	gid := getGoroutineID()
	if gid <= 0 {
		t.Fatalf("getGoroutineID() = %d, want > 0", gid)
	}
	if again := getGoroutineID(); again != gid {
		t.Errorf("ID changed within one goroutine: %d then %d", gid, again)
	}
}

// TestGetGoroutineID_Unique tests that concurrent goroutines get distinct IDs.
func TestGetGoroutineID_Unique(t *testing.T) {
	const n = 32
	ids := make([]int64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = getGoroutineID()
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, id := range ids {
		if id <= 0 {
			t.Errorf("invalid goroutine ID %d", id)
		}
		if seen[id] {
			t.Errorf("duplicate goroutine ID %d", id)
		}
		seen[id] = true
	}
}

// TestParseGID tests parsing of stack headers.
func TestParseGID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"simple", "goroutine 1 [running]:\n", 1},
		{"large", "goroutine 123456789 [running]:", 123456789},
		{"no state", "goroutine 42", 42},
		{"empty", "", 0},
		{"short", "gorout", 0},
		{"wrong prefix", "thread 5 [running]:", 0},
		{"no digits", "goroutine [running]:", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseGID([]byte(tt.input)); got != tt.want {
				t.Errorf("parseGID(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

// TestParseAllGIDs tests parsing of a full stack dump.
func TestParseAllGIDs(t *testing.T) {
	dump := "goroutine 1 [running]:\nmain.main()\n\t/src/main.go:10 +0x20\n\n" +
		"goroutine 5 [chan receive]:\nmain.worker()\n\t/src/main.go:20 +0x40\n\n" +
		"goroutine 17 [select]:"

	got := parseAllGIDs([]byte(dump))
	want := []int64{1, 5, 17}
	if len(got) != len(want) {
		t.Fatalf("parseAllGIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parseAllGIDs()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

// TestLiveGoroutineIDs tests that the current goroutine is reported live.
func TestLiveGoroutineIDs(t *testing.T) {
	self := getGoroutineID()
	for _, gid := range liveGoroutineIDs() {
		if gid == self {
			return
		}
	}
	t.Errorf("current goroutine %d not in live set", self)
}

// atDepth calls f depth frames below the caller.
func atDepth(depth int, f func()) {
	if depth == 0 {
		f()
		return
	}
	atDepth(depth-1, f)
}

// TestLiveGoroutineIDs_LargeDump tests that goroutines past the first
// megabyte of a stack dump are still reported live.
func TestLiveGoroutineIDs_LargeDump(t *testing.T) {
	const n, depth = 2000, 30
	ids := make([]int64, n)
	release := make(chan struct{})
	var ready, done sync.WaitGroup
	for i := 0; i < n; i++ {
		ready.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			atDepth(depth, func() {
				ids[i] = getGoroutineID()
				ready.Done()
				<-release
			})
		}(i)
	}
	ready.Wait()
	defer func() {
		close(release)
		done.Wait()
	}()

	buf := make([]byte, 1<<20)
	if m := runtime.Stack(buf, true); m < len(buf) {
		t.Fatalf("stack dump is only %d bytes, want more than %d", m, len(buf))
	}

	live := make(map[int64]bool)
	for _, gid := range liveGoroutineIDs() {
		live[gid] = true
	}
	missing := 0
	for _, id := range ids {
		if !live[id] {
			missing++
		}
	}
	if missing > 0 {
		t.Errorf("%d of %d blocked goroutines missing from live set", missing, n)
	}
}
