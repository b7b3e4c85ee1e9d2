package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewRecord(t *testing.T) {
	r := NewRecord("https://x/a.jpg", []string{"fase_1"}, 30)
	assert.Equal(t, Record{Image: "https://x/a.jpg", Phases: "[fase_1]", Angle: "30 graus"}, r)

	r = NewRecord("a.jpg", []string{"fase_2", "fase_1", "fase_2"}, 60)
	assert.Equal(t, "[fase_2 fase_1 fase_2]", r.Phases)
	assert.Equal(t, "60 graus", r.Angle)
}

func TestArtifactName(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "2026-03-04_05-06-07.jpg", ArtifactName(at))
}

func TestOpen(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	t.Run("none", func(t *testing.T) {
		s, err := Open(Config{}, logger)
		require.NoError(t, err)
		ref, err := s.UploadArtifact(context.Background(), "a.jpg", []byte{1})
		require.NoError(t, err)
		assert.Equal(t, "a.jpg", ref)
		assert.NoError(t, s.InsertRecord(context.Background(), Record{}))
		assert.NoError(t, s.Close())
	})

	t.Run("supabase requires credentials", func(t *testing.T) {
		_, err := Open(Config{Backend: BackendSupabase}, logger)
		assert.Error(t, err)
	})

	t.Run("supabase", func(t *testing.T) {
		s, err := Open(Config{
			Backend:  BackendSupabase,
			Bucket:   "fotos",
			Supabase: SupabaseConfig{URL: "https://example.supabase.co/", Key: "k"},
		}, logger)
		require.NoError(t, err)
		sb, ok := s.(*Supabase)
		require.True(t, ok)
		assert.Equal(t, "https://example.supabase.co/storage/v1/object/public/fotos/a.jpg", sb.PublicURL("a.jpg"))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open(Config{Backend: "s3"}, logger)
		assert.Error(t, err)
	})
}

func TestBackendValid(t *testing.T) {
	for _, b := range Backends {
		assert.True(t, b.Valid(), b)
	}
	assert.False(t, Backend("ftp").Valid())
}
