package seglog

import "golang.org/x/sys/unix"

// volumeGeometry reports the filesystem block size and total block count
// for the volume containing dir. An explicit override skips the total
// block check (totalBlocks 0) since the caller is no longer describing
// the real volume geometry.
func volumeGeometry(dir string, override int) (blockSize int, totalBlocks uint64, err error) {
	if override > 0 {
		return override, 0, nil
	}

	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, 0, err
	}

	return int(st.Bsize), st.Blocks, nil
}
