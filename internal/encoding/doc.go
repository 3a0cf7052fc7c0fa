// Package encoding implements the native-order key codec used by the buffer
// tier's length-framed intake files.
//
// Keys are written as a 64-bit native-endian length followed by the raw key
// bytes. The format deliberately follows the writing machine's byte order
// and is not portable across architectures.
package encoding
