package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
)

// getMemoryLimit returns the container memory limit in bytes from the
// cgroup filesystem.
//
// Supports:
//   - cgroup v2 (modern systems, Cloud Run, newer Kubernetes)
//   - cgroup v1 (legacy systems, older Docker versions)
//
// Return values:
//   - success: memory limit in bytes
//   - no limit: 0 (cgroup v2 "max", or non-containerized environment);
//     an unlimited cgroup v1 reports a very large number, which is
//     returned as is
//   - error: 0 with error (parse error)
func getMemoryLimit() (int64, error) {
	// cgroup v2: /sys/fs/cgroup/memory.max, "N" or "max" (unlimited)
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
	}

	// cgroup v1: /sys/fs/cgroup/memory/memory.limit_in_bytes, always numeric
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		return strconv.ParseInt(limitStr, 10, 64)
	}

	return 0, nil
}

// effectiveMemoryLimitBytes resolves the memory ceiling the Memory
// Governor should measure percent-of-system against: the cgroup limit
// when the process is containerized and bounded, else the host's total
// physical memory as reported by gopsutil.
//
// A cgroup limit at or above the host total (an unlimited cgroup v1
// reports a very large number) is treated as unbounded.
func effectiveMemoryLimitBytes() (int64, error) {
	vm, vmErr := mem.VirtualMemory()
	if limit, err := getMemoryLimit(); err == nil && limit > 0 &&
		(vmErr != nil || uint64(limit) < vm.Total) {
		return limit, nil
	}

	if vmErr != nil {
		return 0, vmErr
	}
	return int64(vm.Total), nil
}
