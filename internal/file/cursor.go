package file

import "github.com/GriffinCanCode/playsys/internal/abi"

// cursor is the position of a seekable file.
type cursor struct {
	pos int64
}

// seek resolves offset against whence and clamps the result to [0, size].
// A target outside that range is abi.Invalid; the cursor is still moved to
// the nearest boundary.
func (c *cursor) seek(offset int64, whence abi.Whence, size int64) (int64, error) {
	var base int64
	switch whence {
	case abi.SeekSet:
	case abi.SeekCurrent:
		base = c.pos
	case abi.SeekEnd:
		base = size
	default:
		return c.pos, abi.Invalid
	}

	target := base + offset
	switch {
	case offset < 0 && target > base, target < 0:
		c.pos = 0
		return 0, abi.Invalid
	case offset > 0 && target < base, target > size:
		c.pos = size
		return size, abi.Invalid
	}
	c.pos = target
	return target, nil
}
