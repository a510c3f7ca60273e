// Package memfd creates sealed in-memory files used to hand immutable
// payloads to another process by fd.
package memfd

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

const createFlag = unix.MFD_CLOEXEC | unix.MFD_ALLOW_SEALING
const roSeal = unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE

// New creates a new memfd, caller need to close the file
func New(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, createFlag)
	if err != nil {
		return nil, fmt.Errorf("memfd: memfd_create failed %w", err)
	}
	file := os.NewFile(uintptr(fd), name)
	if file == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memfd: NewFile failed for %v", name)
	}
	return file, nil
}

// Seal makes the memfd read-only and rewinds it so the receiver reads from
// the start
func Seal(file *os.File) error {
	if _, err := unix.FcntlInt(file.Fd(), unix.F_ADD_SEALS, roSeal); err != nil {
		return fmt.Errorf("memfd: seal %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("memfd: seek %w", err)
	}
	return nil
}

// FromBytes creates a sealed memfd holding b
func FromBytes(name string, b []byte) (*os.File, error) {
	file, err := New(name)
	if err != nil {
		return nil, fmt.Errorf("FromBytes: %w", err)
	}
	if _, err = file.Write(b); err != nil {
		file.Close()
		return nil, fmt.Errorf("FromBytes: write %w", err)
	}
	if err = Seal(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("FromBytes: %w", err)
	}
	return file, nil
}
