package abi

import "strings"

// APIVersion is reported by the synthetic /sys/uname entry.
const APIVersion = 1

// Fd is a guest file descriptor.
type Fd int32

const (
	FdStdin  Fd = 0    // input stream
	FdStdout Fd = 1    // main output stream
	FdStderr Fd = 2    // logging output stream
	AtFdCwd  Fd = -100 // "current directory" for *at operations
)

// OpenFlag is the flags argument of openat.
type OpenFlag uint32

const (
	OpenReadOnly  OpenFlag = 0  // open for reading only
	OpenWriteOnly OpenFlag = 1  // open for writing only
	OpenReadWrite OpenFlag = 2  // open for both reading and writing
	OpenAppend    OpenFlag = 4  // start writing at end (seekable files only)
	OpenCreate    OpenFlag = 8  // create file if it does not exist
	OpenTruncate  OpenFlag = 16 // set file size to zero
	OpenExclusive OpenFlag = 32 // fail if file exists when create and excl are set

	accessMask OpenFlag = 3
)

// Access returns the access mode bits.
func (f OpenFlag) Access() OpenFlag { return f & accessMask }

// ValidAccess reports whether the access mode is one of the three defined ones.
func (f OpenFlag) ValidAccess() bool { return f.Access() <= OpenReadWrite }

// Readable reports whether the access mode permits reading.
func (f OpenFlag) Readable() bool { return f.Access() != OpenWriteOnly }

// Writable reports whether the access mode permits writing.
func (f OpenFlag) Writable() bool { return f.Access() != OpenReadOnly }

// Has reports whether all bits of g are set in f.
func (f OpenFlag) Has(g OpenFlag) bool { return f&g == g }

func (f OpenFlag) String() string {
	var parts []string
	switch f.Access() {
	case OpenReadOnly:
		parts = append(parts, "ronly")
	case OpenWriteOnly:
		parts = append(parts, "wonly")
	case OpenReadWrite:
		parts = append(parts, "rw")
	default:
		parts = append(parts, "badaccess")
	}
	for _, b := range []struct {
		flag OpenFlag
		name string
	}{
		{OpenAppend, "append"},
		{OpenCreate, "create"},
		{OpenTruncate, "trunc"},
		{OpenExclusive, "excl"},
	} {
		if f.Has(b.flag) {
			parts = append(parts, b.name)
		}
	}
	return strings.Join(parts, "|")
}

// Whence selects the origin of a seek.
type Whence int

const (
	SeekSet     Whence = iota // absolute offset
	SeekCurrent               // relative to the cursor
	SeekEnd                   // relative to the size
)
