//go:build unix

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskUsage returns the total and available bytes of the filesystem holding path
func DiskUsage(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := int64(st.Bsize)
	return Usage{
		Total: int64(st.Blocks) * bsize,
		Free:  int64(st.Bavail) * bsize,
	}, nil
}
