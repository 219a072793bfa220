package health

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrMemoryUnsupported is returned on platforms without a /proc filesystem.
// Callers treat it as "no sample available" rather than a failure.
var ErrMemoryUnsupported = errors.New("process memory sampling not supported on this platform")

// ProcessMemoryPercent returns the resident set size of pid as a percentage
// of total system memory, read from /proc. The value matches what a process
// monitor would report for the browser.
func ProcessMemoryPercent(pid int) (float64, error) {
	rss, err := processRSSBytes(pid)
	if err != nil {
		return 0, err
	}
	total, err := totalMemoryBytes()
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, errors.New("total system memory reported as zero")
	}
	return float64(rss) / float64(total) * 100, nil
}

// processRSSBytes reads the resident page count from /proc/<pid>/statm.
func processRSSBytes(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrMemoryUnsupported
		}
		return 0, fmt.Errorf("reading statm for pid %d: %w", pid, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed statm for pid %d: %q", pid, string(data))
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing statm resident pages: %w", err)
	}
	return pages * uint64(os.Getpagesize()), nil
}

// totalMemoryBytes reads MemTotal from /proc/meminfo.
func totalMemoryBytes() (uint64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrMemoryUnsupported
		}
		return 0, fmt.Errorf("reading meminfo: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing MemTotal: %w", err)
		}
		return kb * 1024, nil
	}
	return 0, errors.New("MemTotal not found in meminfo")
}
