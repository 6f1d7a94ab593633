package document_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/kiranshivaraju/findoc/internal/document"
	"github.com/kiranshivaraju/findoc/internal/document/pdftest"
	"github.com/kiranshivaraju/findoc/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveUpload(t *testing.T, s *storage.LocalStore, data []byte) string {
	t.Helper()
	ref, err := s.Save(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	return ref
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "\n"},
		{"line", "line\n"},
		{"a\n\nb", "a\nb\n"},
		{"a\n\n\n\n\nb\n\n", "a\nb\n\n"},
		{"a\nb", "a\nb\n"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, document.Normalize(tt.in), "input %q", tt.in)
	}
}

func TestRead_TwoPages(t *testing.T) {
	s, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ref := saveUpload(t, s, pdftest.Build("Revenue grew 12 percent", "Net margin was 8 percent"))

	text, err := document.NewReader(s).Read(context.Background(), ref)
	require.NoError(t, err)

	first := strings.Index(text, "Revenue grew 12 percent")
	second := strings.Index(text, "Net margin was 8 percent")
	require.GreaterOrEqual(t, first, 0, "page one text missing from %q", text)
	require.Greater(t, second, first, "pages out of order in %q", text)
	assert.NotContains(t, text, "\n\n\n")
	assert.True(t, strings.HasSuffix(text, "\n"))
}

func TestRead_NotAPDF(t *testing.T) {
	s, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ref := saveUpload(t, s, []byte("this is definitely not a pdf"))

	_, err = document.NewReader(s).Read(context.Background(), ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, document.ErrUnreadableDocument)
}

func TestRead_MissingUpload(t *testing.T) {
	s, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = document.NewReader(s).Read(context.Background(), s.Dir()+"/"+storage.NewFileName())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
