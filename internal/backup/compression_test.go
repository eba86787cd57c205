package backup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionManager_SupportedAlgorithms(t *testing.T) {
	cm := NewCompressionManager()

	supported := cm.SupportedAlgorithms()
	assert.Len(t, supported, 3)
	assert.Contains(t, supported, CompressionTypeGzip)
	assert.Contains(t, supported, CompressionTypeLZ4)
	assert.Contains(t, supported, CompressionTypeZstd)
}

func TestCompressionManager_Compress_None(t *testing.T) {
	cm := NewCompressionManager()
	data := []byte("care record payload")

	compressed, stats, err := cm.Compress(data, CompressionTypeNone, 0)

	require.NoError(t, err)
	assert.Equal(t, data, compressed)
	assert.Equal(t, int64(len(data)), stats.OriginalSize)
	assert.Equal(t, int64(len(data)), stats.CompressedSize)
	assert.Equal(t, 1.0, stats.Ratio)
	assert.Equal(t, CompressionTypeNone, stats.Algorithm)
}

func TestCompressionManager_Compress_UnsupportedAlgorithm(t *testing.T) {
	cm := NewCompressionManager()

	_, _, err := cm.Compress([]byte("data"), CompressionType("snappy"), 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}

func TestCompressionManager_Decompress_UnsupportedAlgorithm(t *testing.T) {
	cm := NewCompressionManager()

	_, err := cm.Decompress([]byte("data"), CompressionType("snappy"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}

func TestCompressionManager_RoundTrip(t *testing.T) {
	cm := NewCompressionManager()
	// Repetitive enough that every algorithm should actually shrink it.
	data := []byte(strings.Repeat("resident,staff,medication,assessment;", 512))

	tests := []struct {
		name      string
		algorithm CompressionType
		level     int
	}{
		{"gzip", CompressionTypeGzip, 6},
		{"lz4", CompressionTypeLZ4, 1},
		{"zstd", CompressionTypeZstd, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, stats, err := cm.Compress(data, tt.algorithm, tt.level)
			require.NoError(t, err)
			require.NotEqual(t, data, compressed)

			assert.Equal(t, tt.algorithm, stats.Algorithm)
			assert.Equal(t, tt.level, stats.Level)
			assert.Equal(t, int64(len(data)), stats.OriginalSize)
			assert.Equal(t, int64(len(compressed)), stats.CompressedSize)
			assert.Less(t, stats.Ratio, 1.0)

			decompressed, err := cm.Decompress(compressed, tt.algorithm)
			require.NoError(t, err)
			assert.Equal(t, data, decompressed)
		})
	}
}

func TestCompressionManager_Compress_LevelOutOfRangeFallsBack(t *testing.T) {
	cm := NewCompressionManager()
	data := []byte(strings.Repeat("x", 4096))

	for algorithm, compressor := range cm.compressors {
		_, def, _ := compressor.LevelRange()

		_, stats, err := cm.Compress(data, algorithm, 999)
		require.NoError(t, err, "algorithm %s", algorithm)
		assert.Equal(t, def, stats.Level, "algorithm %s", algorithm)
	}
}

func TestCompressionManager_Decompress_CorruptPayload(t *testing.T) {
	cm := NewCompressionManager()

	tests := []CompressionType{CompressionTypeGzip, CompressionTypeZstd}
	for _, algorithm := range tests {
		_, err := cm.Decompress([]byte("definitely not compressed"), algorithm)
		assert.Error(t, err, "algorithm %s", algorithm)
	}
}

func TestCompressionRatio(t *testing.T) {
	assert.Equal(t, 1.0, compressionRatio(0, 0))
	assert.Equal(t, 0.5, compressionRatio(100, 50))
	assert.Equal(t, 2.0, compressionRatio(50, 100))
}
