// Package vfs implements the synthetic namespace: an in-memory registry of
// path → byte buffer entries consulted before any host filesystem.
//
// Lookup is exact string match. There are no directories, no traversal and
// no normalization; "/sys/uname" and "/sys//uname" are different paths.
//
// A Registry is seeded at construction with /sys/uname, a read-only,
// one-line system identity. More entries can be loaded from a YAML seed
// document:
//
//	entries:
//	  - path: /etc/motd
//	    mode: "0444"
//	    content: |
//	      welcome
//
// Entries own their buffers. Files opened on the same entry share it, so a
// write through one fd is visible to a read through another.
package vfs
