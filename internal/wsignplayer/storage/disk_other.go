//go:build !unix

package storage

import "fmt"

// DiskUsage is not supported on this platform; configure a cache quota instead
func DiskUsage(path string) (Usage, error) {
	return Usage{}, fmt.Errorf("disk usage not supported for %s", path)
}
