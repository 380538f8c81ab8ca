package storage

// Usage describes the space available to the cache
type Usage struct {
	// Total is the size of the filesystem in bytes
	Total int64
	// Free is the number of bytes available to unprivileged users
	Free int64
}

// DiskProbe reports free space for the filesystem holding a path
type DiskProbe interface {
	Usage(path string) (Usage, error)
}

// StatfsProbe queries the operating system
type StatfsProbe struct{}

// Usage implements DiskProbe
func (StatfsProbe) Usage(path string) (Usage, error) {
	return DiskUsage(path)
}

// FixedProbe reports a constant usage. It is used for quota-only deployments
// and in tests.
type FixedProbe struct {
	Value Usage
	Err   error
}

// Usage implements DiskProbe
func (p FixedProbe) Usage(string) (Usage, error) {
	return p.Value, p.Err
}
