package backup

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// EncodeTo streams src into dst through the requested compression stage
// and, when encrypt is set, the encryption stage. Compression runs on the
// plaintext; memory use stays bounded by the chunk size regardless of
// artifact size.
func EncodeTo(dst io.Writer, src io.Reader, comp Compression, encrypt bool, key string) error {
	out := dst
	var encw *encryptWriter
	if encrypt {
		var err error
		encw, err = newEncryptWriter(dst, key)
		if err != nil {
			return err
		}
		out = encw
	}

	switch comp {
	case CompressionGzip:
		zw := gzip.NewWriter(out)
		if _, err := io.Copy(zw, src); err != nil {
			return fmt.Errorf("gzip compression failed: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("gzip compression failed: %w", err)
		}
	case CompressionZstd:
		zw, err := zstd.NewWriter(out)
		if err != nil {
			return fmt.Errorf("zstd compression failed: %w", err)
		}
		if _, err := io.Copy(zw, src); err != nil {
			zw.Close()
			return fmt.Errorf("zstd compression failed: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("zstd compression failed: %w", err)
		}
	case CompressionNone, "":
		if _, err := io.Copy(out, src); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported compression %q", comp)
	}

	if encw != nil {
		return encw.Close()
	}
	return nil
}

// DecodeFrom reverses EncodeTo: src must have been produced with the same
// compression and encryption settings.
func DecodeFrom(dst io.Writer, src io.Reader, comp Compression, encrypted bool, key string) error {
	in := src
	if encrypted {
		if key == "" {
			return fmt.Errorf("artifact is encrypted and no encryption key is configured")
		}
		r, err := newDecryptReader(src, key)
		if err != nil {
			return err
		}
		in = r
	}

	switch comp {
	case CompressionGzip:
		zr, err := gzip.NewReader(in)
		if err != nil {
			return fmt.Errorf("gzip decompression failed: %w", err)
		}
		defer zr.Close()
		if _, err := io.Copy(dst, zr); err != nil {
			return fmt.Errorf("gzip decompression failed: %w", err)
		}
	case CompressionZstd:
		zr, err := zstd.NewReader(in)
		if err != nil {
			return fmt.Errorf("zstd decompression failed: %w", err)
		}
		defer zr.Close()
		if _, err := io.Copy(dst, zr); err != nil {
			return fmt.Errorf("zstd decompression failed: %w", err)
		}
	case CompressionNone, "":
		if _, err := io.Copy(dst, in); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported compression %q", comp)
	}
	return nil
}
