//go:build linux

// Package metrics implements the Metrics Collector (C6): per-pid resource
// sampling, per-session token/cost accounting, workspace-size walks, and a
// system-wide aggregate.
//
// Grounded on the teacher's internal/runtime/linux/cgroup.go reliance on
// the /proc/ hierarchy for resource accounting, generalized here from
// cgroup-aggregate counters down to plain per-pid /proc/[pid]/stat and
// /proc/[pid]/io reads, since this spec's isolation unit (an OS user, see
// internal/sandbox) has no cgroup of its own.
package metrics

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// clockTicksPerSec is sysconf(_SC_CLK_TCK) on effectively every Linux
// target Go runs on; reading it via cgo is not worth the dependency.
const clockTicksPerSec = 100

// procSample is a raw point-in-time reading for one pid.
type procSample struct {
	utimeTicks uint64
	stimeTicks uint64
	rssPages   int64
	readBytes  uint64
	writeBytes uint64
}

var pageSize = int64(os.Getpagesize())

// readProcSample gathers CPU ticks and RSS from /proc/[pid]/stat and
// disk byte counters from /proc/[pid]/io. Missing optional fields (io may
// be permission-denied for another user's pid even as root in some
// configurations) degrade to zero rather than erroring the whole sample.
func readProcSample(pid int) (*procSample, error) {
	statPath := fmt.Sprintf("/proc/%d/stat", pid)
	data, err := os.ReadFile(statPath)
	if err != nil {
		return nil, fmt.Errorf("metrics: read %s: %w", statPath, err)
	}

	// Fields after the process name (which may itself contain spaces and
	// is parenthesised) are space-separated; locate the closing paren.
	closeParen := strings.LastIndexByte(string(data), ')')
	if closeParen < 0 || closeParen+2 >= len(data) {
		return nil, fmt.Errorf("metrics: malformed stat for pid %d", pid)
	}
	fields := strings.Fields(string(data[closeParen+2:]))
	// fields[0] is state (3rd overall field); utime is field 14, stime 15,
	// rss is field 24 — all 1-indexed from field 1 = pid; offset by -3
	// here since we already consumed pid+comm+state's "(...)" prefix, so
	// index 0 in `fields` corresponds to field 3 (state) itself.
	const (
		idxUtime = 14 - 3
		idxStime = 15 - 3
		idxRSS   = 24 - 3
	)
	if len(fields) <= idxRSS {
		return nil, fmt.Errorf("metrics: short stat for pid %d", pid)
	}

	utime, _ := strconv.ParseUint(fields[idxUtime], 10, 64)
	stime, _ := strconv.ParseUint(fields[idxStime], 10, 64)
	rssPages, _ := strconv.ParseInt(fields[idxRSS], 10, 64)

	sample := &procSample{utimeTicks: utime, stimeTicks: stime, rssPages: rssPages}

	if f, err := os.Open(fmt.Sprintf("/proc/%d/io", pid)); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "read_bytes:"):
				sample.readBytes, _ = strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "read_bytes:")), 10, 64)
			case strings.HasPrefix(line, "write_bytes:"):
				sample.writeBytes, _ = strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "write_bytes:")), 10, 64)
			}
		}
	}

	return sample, nil
}

func pidAlive(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}
