package blob

import "context"

// Store keeps the raw bytes of uploads so the extraction worker can fetch them later.
// The service itself only writes and cleans up. Reading a location back is the
// worker's side of the contract, which DiskStore.Get and MinioStore.Get serve.
type Store interface {
	// Put saves data under key and returns the location recorded on the document.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, location string) error
}
