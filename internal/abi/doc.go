// Package abi defines the numeric contract between a guest and the host.
//
// Everything in this package is part of the binary interface a compiled
// guest depends on:
//   - Op: syscall operation codes passed as the first syscall argument
//   - Errno: error codes, returned negated from every failing syscall
//   - OpenFlag: access mode and creation bits for openat
//   - Whence: seek origins
//   - Fd: file descriptors, including the reserved 0/1/2 streams
//
// Values must never be renumbered once published.
package abi
