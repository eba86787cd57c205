package backup

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionStats describes one compression pass. Ratio is compressed
// bytes per original byte, so smaller is better.
type CompressionStats struct {
	OriginalSize   int64           `json:"original_size"`
	CompressedSize int64           `json:"compressed_size"`
	Ratio          float64         `json:"ratio"`
	Algorithm      CompressionType `json:"algorithm"`
	Level          int             `json:"level"`
	Duration       time.Duration   `json:"duration"`
}

// Compressor compresses artifact payloads with one algorithm.
type Compressor interface {
	Compress(data []byte, level int) ([]byte, *CompressionStats, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() CompressionType
	// LevelRange returns the minimum, default, and maximum supported
	// levels. Levels outside the range are clamped to the default.
	LevelRange() (min, def, max int)
}

// CompressionManager routes payloads to the registered compressors.
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager registers the supported algorithms.
func NewCompressionManager() *CompressionManager {
	return &CompressionManager{
		compressors: map[CompressionType]Compressor{
			CompressionTypeGzip: &GzipCompressor{},
			CompressionTypeLZ4:  &LZ4Compressor{},
			CompressionTypeZstd: &ZstdCompressor{},
		},
	}
}

// Compress compresses data with the given algorithm and level. The none
// algorithm passes data through untouched.
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType, level int) ([]byte, *CompressionStats, error) {
	if algorithm == CompressionTypeNone {
		return data, &CompressionStats{
			OriginalSize:   int64(len(data)),
			CompressedSize: int64(len(data)),
			Ratio:          1.0,
			Algorithm:      CompressionTypeNone,
		}, nil
	}

	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}

	min, def, max := compressor.LevelRange()
	if level < min || level > max {
		level = def
	}

	return compressor.Compress(data, level)
}

// Decompress reverses Compress for the given algorithm.
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == CompressionTypeNone {
		return data, nil
	}

	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}

	return compressor.Decompress(data)
}

// SupportedAlgorithms lists the registered compression algorithms.
func (cm *CompressionManager) SupportedAlgorithms() []CompressionType {
	algorithms := make([]CompressionType, 0, len(cm.compressors))
	for algorithm := range cm.compressors {
		algorithms = append(algorithms, algorithm)
	}
	return algorithms
}

func compressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

// GzipCompressor implements gzip compression
type GzipCompressor struct{}

func (gc *GzipCompressor) Compress(data []byte, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, nil, NewCompressionError("failed to create gzip writer", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, nil, NewCompressionError("failed to write data to gzip writer", err)
	}
	if err := writer.Close(); err != nil {
		return nil, nil, NewCompressionError("failed to close gzip writer", err)
	}

	compressed := buf.Bytes()
	return compressed, &CompressionStats{
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(compressed)),
		Ratio:          compressionRatio(int64(len(data)), int64(len(compressed))),
		Algorithm:      CompressionTypeGzip,
		Level:          level,
		Duration:       time.Since(start),
	}, nil
}

func (gc *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, NewCompressionError("failed to create gzip reader", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("failed to decompress gzip data", err)
	}
	return decompressed, nil
}

func (gc *GzipCompressor) Algorithm() CompressionType {
	return CompressionTypeGzip
}

func (gc *GzipCompressor) LevelRange() (int, int, int) {
	return gzip.BestSpeed, 6, gzip.BestCompression
}

// LZ4Compressor implements LZ4 compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) Compress(data []byte, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()

	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	// LZ4 only distinguishes fast and high compression modes
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, nil, NewCompressionError("failed to set LZ4 high compression", err)
		}
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, nil, NewCompressionError("failed to write data to LZ4 writer", err)
	}
	if err := writer.Close(); err != nil {
		return nil, nil, NewCompressionError("failed to close LZ4 writer", err)
	}

	compressed := buf.Bytes()
	return compressed, &CompressionStats{
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(compressed)),
		Ratio:          compressionRatio(int64(len(data)), int64(len(compressed))),
		Algorithm:      CompressionTypeLZ4,
		Level:          level,
		Duration:       time.Since(start),
	}, nil
}

func (lc *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("failed to decompress LZ4 data", err)
	}
	return decompressed, nil
}

func (lc *LZ4Compressor) Algorithm() CompressionType {
	return CompressionTypeLZ4
}

func (lc *LZ4Compressor) LevelRange() (int, int, int) {
	return 1, 1, 12
}

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) Compress(data []byte, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()

	var encoderLevel zstd.EncoderLevel
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, nil, NewCompressionError("failed to create zstd encoder", err)
	}
	defer encoder.Close()

	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)))
	return compressed, &CompressionStats{
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(compressed)),
		Ratio:          compressionRatio(int64(len(data)), int64(len(compressed))),
		Algorithm:      CompressionTypeZstd,
		Level:          level,
		Duration:       time.Since(start),
	}, nil
}

func (zc *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, NewCompressionError("failed to create zstd decoder", err)
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, NewCompressionError("failed to decompress zstd data", err)
	}
	return decompressed, nil
}

func (zc *ZstdCompressor) Algorithm() CompressionType {
	return CompressionTypeZstd
}

func (zc *ZstdCompressor) LevelRange() (int, int, int) {
	return 1, 3, 22
}
