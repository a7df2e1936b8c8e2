package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ggmlMagic is the container magic at the head of every ggml model file.
const ggmlMagic = 0x67676d6c

// validateFile checks a downloaded model before it is accepted: the file
// must be plausibly sized for its descriptor, start with the ggml magic,
// and match the SHA-256 pin when the descriptor carries one.
func validateFile(path string, desc Descriptor) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	// Half the advertised size is a generous floor that still catches
	// truncated transfers and HTML error pages saved as the model.
	floor := int64(desc.SizeMB) << 20 / 2
	if info.Size() < floor {
		return fmt.Errorf("%w: file is %d bytes, expected at least %d", ErrValidationFailed, info.Size(), floor)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	defer f.Close()

	var head [4]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return fmt.Errorf("%w: reading header: %v", ErrValidationFailed, err)
	}
	if binary.LittleEndian.Uint32(head[:]) != ggmlMagic {
		return fmt.Errorf("%w: not a ggml model file", ErrValidationFailed)
	}

	if desc.SHA256 != "" {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return fmt.Errorf("%w: hashing: %v", ErrValidationFailed, err)
		}
		if sum := hex.EncodeToString(h.Sum(nil)); sum != desc.SHA256 {
			return fmt.Errorf("%w: checksum mismatch", ErrValidationFailed)
		}
	}
	return nil
}

// looksValid is the cheap check for files already on disk, used by the
// startup scan and by state lookups: size floor and magic only.
func looksValid(path string, desc Descriptor) bool {
	d := desc
	d.SHA256 = ""
	return validateFile(path, d) == nil
}
