package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/service"
)

const sampleManifest = `
services:
  - name: database
    type: postgres
    priority: critical
    capabilities: [storage, sql]
    config:
      dsn: "postgres://localhost/app"
      pool_size: 10
  - name: cache
    type: redis
    priority: high
    depends_on:
      - service: database
        required: false
  - name: api
    type: http
    timeout: 10s
    depends_on:
      - service: database
      - service: cache
        required: false
`

func TestManifestDescriptors(t *testing.T) {
	path := writeFile(t, "services.yaml", sampleManifest)
	m, err := LoadManifest(path)
	require.NoError(t, err)

	descs, err := m.Descriptors()
	require.NoError(t, err)
	require.Len(t, descs, 3)

	db := descs[0]
	assert.Equal(t, "database", db.Name)
	assert.Equal(t, service.PriorityCritical, db.Priority)
	assert.Equal(t, service.DefaultTimeout, db.Timeout)
	assert.JSONEq(t, `{"dsn":"postgres://localhost/app","pool_size":10}`, string(db.Config))

	cache := descs[1]
	require.Len(t, cache.Dependencies, 1)
	assert.False(t, cache.Dependencies[0].Required)

	api := descs[2]
	assert.Equal(t, 10*time.Second, api.Timeout)
	require.Len(t, api.Dependencies, 2)
	assert.True(t, api.Dependencies[0].Required, "required defaults to true")
	assert.False(t, api.Dependencies[1].Required)
}

func TestManifestRejectsDuplicateNames(t *testing.T) {
	path := writeFile(t, "dup.yaml", `
services:
  - name: a
    type: t
  - name: a
    type: t
`)
	m, err := LoadManifest(path)
	require.NoError(t, err)

	_, err = m.Descriptors()
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestManifestRejectsUnknownPriority(t *testing.T) {
	path := writeFile(t, "prio.yaml", `
services:
  - name: a
    type: t
    priority: urgent
`)
	m, err := LoadManifest(path)
	require.NoError(t, err)

	_, err = m.Descriptors()
	require.Error(t, err)
}

func TestManifestRejectsInvalidDescriptor(t *testing.T) {
	path := writeFile(t, "invalid.yaml", `
services:
  - name: a
`)
	m, err := LoadManifest(path)
	require.NoError(t, err)

	_, err = m.Descriptors()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingType))
}

func TestLoadManifestEmptyPath(t *testing.T) {
	m, err := LoadManifest("")
	require.NoError(t, err)
	assert.Empty(t, m.Services)

	descs, err := m.Descriptors()
	require.NoError(t, err)
	assert.Empty(t, descs)
}
