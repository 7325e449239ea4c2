package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

// Encrypted artifacts are a sequence of AES-256-GCM frames so restore
// never holds more than one chunk in memory. The stream opens with an
// 8-byte random nonce prefix; each frame is a 4-byte big-endian
// ciphertext length followed by the ciphertext, sealed with the nonce
// prefix plus the frame counter. A frame sealing empty plaintext
// terminates the stream, so truncation is detectable.
const (
	cryptChunkSize   = 64 * 1024
	cryptNoncePrefix = 8
)

func newAEAD(key string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func frameNonce(prefix []byte, frame uint32) []byte {
	nonce := make([]byte, cryptNoncePrefix+4)
	copy(nonce, prefix)
	binary.BigEndian.PutUint32(nonce[cryptNoncePrefix:], frame)
	return nonce
}

type encryptWriter struct {
	dst    io.Writer
	aead   cipher.AEAD
	prefix []byte
	buf    []byte
	frame  uint32
	closed bool
}

func newEncryptWriter(dst io.Writer, key string) (*encryptWriter, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	prefix := make([]byte, cryptNoncePrefix)
	if _, err := rand.Read(prefix); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	if _, err := dst.Write(prefix); err != nil {
		return nil, fmt.Errorf("failed to write encryption header: %w", err)
	}
	return &encryptWriter{dst: dst, aead: aead, prefix: prefix}, nil
}

func (w *encryptWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for len(w.buf) >= cryptChunkSize {
		if err := w.seal(w.buf[:cryptChunkSize]); err != nil {
			return 0, err
		}
		w.buf = w.buf[cryptChunkSize:]
	}
	return len(p), nil
}

// Close flushes the final partial chunk and writes the terminator frame.
func (w *encryptWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.buf) > 0 {
		if err := w.seal(w.buf); err != nil {
			return err
		}
		w.buf = nil
	}
	return w.seal(nil)
}

func (w *encryptWriter) seal(plaintext []byte) error {
	nonce := frameNonce(w.prefix, w.frame)
	w.frame++

	ciphertext := w.aead.Seal(nil, nonce, plaintext, nil)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(ciphertext)))
	if _, err := w.dst.Write(length[:]); err != nil {
		return fmt.Errorf("failed to write encrypted frame: %w", err)
	}
	if _, err := w.dst.Write(ciphertext); err != nil {
		return fmt.Errorf("failed to write encrypted frame: %w", err)
	}
	return nil
}

type decryptReader struct {
	src    io.Reader
	aead   cipher.AEAD
	prefix []byte
	buf    []byte
	frame  uint32
	done   bool
}

func newDecryptReader(src io.Reader, key string) (*decryptReader, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize decryption: %w", err)
	}
	prefix := make([]byte, cryptNoncePrefix)
	if _, err := io.ReadFull(src, prefix); err != nil {
		return nil, fmt.Errorf("artifact is not a valid encrypted stream: %w", err)
	}
	return &decryptReader{src: src, aead: aead, prefix: prefix}, nil
}

func (r *decryptReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *decryptReader) open() error {
	var length [4]byte
	if _, err := io.ReadFull(r.src, length[:]); err != nil {
		return fmt.Errorf("encrypted stream truncated: %w", err)
	}
	size := binary.BigEndian.Uint32(length[:])
	if size > uint32(cryptChunkSize+r.aead.Overhead()) {
		return fmt.Errorf("encrypted stream corrupt: frame of %d bytes", size)
	}

	ciphertext := make([]byte, size)
	if _, err := io.ReadFull(r.src, ciphertext); err != nil {
		return fmt.Errorf("encrypted stream truncated: %w", err)
	}

	nonce := frameNonce(r.prefix, r.frame)
	r.frame++

	plaintext, err := r.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decryption failed (wrong key or corrupt artifact): %w", err)
	}
	if len(plaintext) == 0 {
		r.done = true
		return nil
	}
	r.buf = plaintext
	return nil
}
