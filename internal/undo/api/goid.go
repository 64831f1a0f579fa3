// Copyright 2025 The racedetector Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import "runtime"

// getGoroutineID returns the current goroutine ID by parsing the first line
// of runtime.Stack ("goroutine 123 [running]:").
//
// Performance: ~1µs per call. The runtime API calls it once per operation;
// hot loops should hold a Controller instead.
func getGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the goroutine ID from stack trace bytes, or returns 0 if
// buf does not start with "goroutine <digits>".
func parseGID(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var gid int64
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		gid = gid*10 + int64(c-'0')
	}
	return gid
}

// liveGoroutineIDs returns the IDs of every live goroutine. The buffer is
// grown until the dump fits, so no goroutine is left out.
func liveGoroutineIDs() []int64 {
	buf := make([]byte, 1<<16)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return parseAllGIDs(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

// parseAllGIDs extracts every "goroutine N [...]" header from a
// runtime.Stack(all=true) dump.
func parseAllGIDs(buf []byte) []int64 {
	var gids []int64
	for len(buf) > 0 {
		end := 0
		for end < len(buf) && buf[end] != '\n' {
			end++
		}
		if gid := parseGID(buf[:end]); gid != 0 {
			gids = append(gids, gid)
		}
		if end == len(buf) {
			break
		}
		buf = buf[end+1:]
	}
	return gids
}
