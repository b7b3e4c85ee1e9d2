package storage

import "context"

// None is a Store that keeps nothing. Uploads return the artifact name as the reference.
type None struct{}

// UploadArtifact implements Store.
func (None) UploadArtifact(_ context.Context, name string, _ []byte) (string, error) {
	return name, nil
}

// InsertRecord implements Store.
func (None) InsertRecord(context.Context, Record) error { return nil }

// Close implements Store.
func (None) Close() error { return nil }
