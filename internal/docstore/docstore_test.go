package docstore_test

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/docstore"
)

func TestPutAndOpen(t *testing.T) {
	s := docstore.Store{Root: t.TempDir()}
	key, err := s.Put("case-1", "doc-1", "../Site plan (rev A).pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "case-1/doc-1-Site_plan__rev_A_.pdf", key)

	rc, err := s.Open(key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "%PDF", string(body))

	s.Discard(key)
	_, err = s.Open(key)
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestPutWithoutRootKeepsMetadataOnly(t *testing.T) {
	s := docstore.Store{}
	key, err := s.Put("c", "d", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "c/d-document", key)
	_, err = s.Open(key)
	require.ErrorIs(t, err, docstore.ErrNotFound)
}
