package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	// MinDiskSpaceBytes is the free space wanted for logs and daemon state.
	MinDiskSpaceBytes = 100 * 1024 * 1024

	// MinFileDescriptors is the base descriptor limit. Each tree maps
	// several index files and holds daemon connections on top of it.
	MinFileDescriptors = 1024
	fdsPerTree         = 16
)

// CheckDiskSpace checks the free space of the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	available := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(available), formatBytes(MinDiskSpaceBytes))
	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckFileDescriptors checks the soft descriptor limit for serving the
// given number of trees.
func (c *Checker) CheckFileDescriptors(trees int) CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	want := uint64(MinFileDescriptors + trees*fdsPerTree)
	result.Message = fmt.Sprintf("%d (minimum: %d)", rl.Cur, want)
	if rl.Cur < want {
		result.Status = StatusFail
		result.Details = fmt.Sprintf("run 'ulimit -n %d' to increase the limit", max(want, 10240))
		return result
	}
	result.Status = StatusPass
	return result
}

func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
