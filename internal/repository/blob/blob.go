// Package blob stores original document bytes in an S3-compatible bucket.
// Two backends share the same method set: MinIO (minio-go) and AWS S3 (aws-sdk-go-v2).
package blob

import "errors"

// ErrNotFound signals a missing object key.
var ErrNotFound = errors.New("blob: object not found")

// Supported backends.
const (
	BackendMinIO = "minio"
	BackendS3    = "s3"
)
