package models_test

import (
	"path/filepath"
	"testing"

	"github.com/conveyr/pipeline-api/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestArtifactPath(t *testing.T) {
	got := models.ArtifactPath("data", "DB1", "clientes")
	assert.Equal(t, filepath.Join("data", "DB1", "clientes.parquet"), got)

	// Deterministic: the same inputs always resolve to the same path.
	assert.Equal(t, got, models.ArtifactPath("data", "DB1", "clientes"))
}

func TestRemotePath(t *testing.T) {
	assert.Equal(t, "ai/DB1/data/clientes.parquet", models.RemotePath("ai", "DB1", "data", "clientes"))
	assert.Equal(t, "out/DB2/monthly/vendas.parquet", models.RemotePath("out", "DB2", "monthly", "vendas"))
}

func TestRemotePathDefaultRoot(t *testing.T) {
	assert.Equal(t, "ai/DB1/data/clientes.parquet", models.RemotePath("", "DB1", "data", "clientes"))
}
