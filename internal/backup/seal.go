// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package backup

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Sealed artifact layout: a 5-byte magic, a random 16-byte salt, then a
// sequence of length-prefixed ChaCha20-Poly1305 chunks. The chunk nonce
// carries a big-endian counter, and its first byte is set on the final
// chunk so truncation is detectable.
const (
	sealMagic     = "SNKP1"
	sealSaltSize  = 16
	sealChunkSize = 64 * 1024
	sealInfo      = "snapkeep-artifact-v1"
)

var errSealTruncated = errors.New("sealed artifact truncated")

func sealKey(secret string, salt []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), salt, []byte(sealInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving seal key: %w", err)
	}
	return key, nil
}

func chunkNonce(counter uint64, final bool) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	if final {
		nonce[0] = 1
	}
	return nonce
}

// Seal encrypts src to dst with a key derived from secret.
func Seal(dst io.Writer, src io.Reader, secret string) error {
	salt := make([]byte, sealSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	key, err := sealKey(secret, salt)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("initializing cipher: %w", err)
	}

	if _, err := dst.Write([]byte(sealMagic)); err != nil {
		return err
	}
	if _, err := dst.Write(salt); err != nil {
		return err
	}

	buf := make([]byte, sealChunkSize)
	var counter uint64
	for {
		n, rerr := io.ReadFull(src, buf)
		final := rerr == io.EOF || rerr == io.ErrUnexpectedEOF
		if rerr != nil && !final {
			return rerr
		}

		ct := aead.Seal(nil, chunkNonce(counter, final), buf[:n], nil)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ct)))
		if _, err := dst.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := dst.Write(ct); err != nil {
			return err
		}

		if final {
			return nil
		}
		counter++
	}
}

// Unseal decrypts a sealed stream produced by Seal.
func Unseal(dst io.Writer, src io.Reader, secret string) error {
	header := make([]byte, len(sealMagic)+sealSaltSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return errSealTruncated
	}
	if string(header[:len(sealMagic)]) != sealMagic {
		return errors.New("not a sealed artifact")
	}
	key, err := sealKey(secret, header[len(sealMagic):])
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("initializing cipher: %w", err)
	}

	var counter uint64
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(src, lenBuf[:]); err != nil {
			return errSealTruncated
		}
		ctLen := binary.BigEndian.Uint32(lenBuf[:])
		if ctLen > sealChunkSize+uint32(aead.Overhead()) {
			return errors.New("sealed chunk too large")
		}
		ct := make([]byte, ctLen)
		if _, err := io.ReadFull(src, ct); err != nil {
			return errSealTruncated
		}

		pt, err := aead.Open(nil, chunkNonce(counter, false), ct, nil)
		if err != nil {
			// Retry as the final chunk.
			pt, err = openFinal(aead, counter, ct)
			if err != nil {
				return err
			}
			_, err = dst.Write(pt)
			return err
		}
		if _, err := dst.Write(pt); err != nil {
			return err
		}
		counter++
	}
}

func openFinal(aead cipher.AEAD, counter uint64, ct []byte) ([]byte, error) {
	pt, err := aead.Open(nil, chunkNonce(counter, true), ct, nil)
	if err != nil {
		return nil, errors.New("sealed artifact corrupt or wrong secret")
	}
	return pt, nil
}
