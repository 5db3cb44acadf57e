package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomvolume/internal/models"
)

func TestOpenDICOM_Unreadable(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.dcm")
	require.NoError(t, os.WriteFile(bogus, []byte("definitely not a DICOM file"), 0644))
	missing := filepath.Join(dir, "missing.dcm")

	frames := OpenDICOM([]string{bogus, missing})
	require.Len(t, frames, 2)

	for _, f := range frames {
		_, err := f.Header()
		var de *models.DecodeError
		require.ErrorAs(t, err, &de, f.Identifier())
		assert.Equal(t, f.Identifier(), de.Source)

		// The parse error is remembered
		_, err2 := f.Decode()
		assert.Equal(t, err, err2)
	}
	assert.Equal(t, bogus, frames[0].Identifier())
}
