// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cachefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

func openUnlinked(directory, description string, mode os.FileMode) (*os.File, error) {
	fd, err := unix.Open(directory, unix.O_TMPFILE|unix.O_RDWR|unix.O_CLOEXEC, uint32(mode.Perm()))
	if err != nil {
		// Filesystems without O_TMPFILE support report EOPNOTSUPP;
		// kernels that predate it treat the flag as O_DIRECTORY and
		// fail with EISDIR.
		if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EISDIR) || errors.Is(err, unix.EINVAL) {
			return nil, errUnlinkedUnsupported
		}
		return nil, fmt.Errorf("opening unlinked file in %s: %w", directory, err)
	}
	// O_TMPFILE applies the umask; set the requested mode exactly.
	if err := unix.Fchmod(fd, uint32(mode.Perm())); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setting mode on unlinked file: %w", err)
	}
	return os.NewFile(uintptr(fd), filepath.Join(directory, "(unlinked) "+description)), nil
}

// linkUnlinked gives an O_TMPFILE file a name. linkat with
// AT_EMPTY_PATH needs CAP_DAC_READ_SEARCH, so link through the
// /proc/self/fd magic symlink instead.
func linkUnlinked(file *os.File, destination string) error {
	source := "/proc/self/fd/" + strconv.Itoa(int(file.Fd()))
	err := unix.Linkat(unix.AT_FDCWD, source, unix.AT_FDCWD, destination, unix.AT_SYMLINK_FOLLOW)
	if err != nil {
		return &os.LinkError{Op: "linkat", Old: file.Name(), New: destination, Err: err}
	}
	return nil
}
