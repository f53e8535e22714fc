package models

import (
	"path"
	"path/filepath"
)

// ArtifactExt is the extension of every columnar artifact.
const ArtifactExt = ".parquet"

// DefaultRemoteRoot is the remote directory artifacts are delivered under.
const DefaultRemoteRoot = "ai"

// ArtifactPath returns the deterministic local path for a query result:
// {outputDir}/{database}/{query}.parquet. Re-running a job with the same
// parameters resolves to the same path, so artifacts overwrite rather than
// accumulate.
func ArtifactPath(outputDir, database, query string) string {
	return filepath.Join(outputDir, database, query+ArtifactExt)
}

// RemotePath returns the deterministic remote path for a delivered artifact:
// {remoteRoot}/{database}/{forecastType}/{query}.parquet. Remote paths use
// forward slashes regardless of the local OS.
func RemotePath(remoteRoot, database, forecastType, query string) string {
	if remoteRoot == "" {
		remoteRoot = DefaultRemoteRoot
	}
	return path.Join(remoteRoot, database, forecastType, query+ArtifactExt)
}
