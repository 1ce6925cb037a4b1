package export

import "context"

// Archiver writes backup archives. The backup scheduler depends on this
// rather than on *ExportService so it can run against a fake.
type Archiver interface {
	WriteArchive(ctx context.Context, path string) (*ExportResult, error)
}

var _ Archiver = (*ExportService)(nil)
