package compress

import (
	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/utils"
)

// fastlz level-1 block codec. Every block is self-contained: the match
// window never reaches across a block boundary, so blocks decode
// independently. Worst case output is bounded by one control byte per 32
// literals.
const (
	flzMaxCopy     = 32
	flzMaxLen      = 264
	flzMaxDistance = 8192
	flzHashLog     = 13
	flzHashSize    = 1 << flzHashLog
)

var flzHashMask = utils.AllOnes[uint32](flzHashLog)

func flzReadU32(b []byte, i int) uint32 {
	return uint32(b[i]) | uint32(b[i+1])<<8 | uint32(b[i+2])<<16 | uint32(b[i+3])<<24
}

func flzHash(v uint32) uint32 {
	return (v * 2654435769) >> (32 - flzHashLog) & flzHashMask
}

func flzLiterals(dst []byte, src []byte) []byte {
	runs := len(src)
	for runs >= flzMaxCopy {
		dst = append(dst, flzMaxCopy-1)
		dst = append(dst, src[:flzMaxCopy]...)
		src = src[flzMaxCopy:]
		runs -= flzMaxCopy
	}
	if runs > 0 {
		dst = append(dst, byte(runs-1))
		dst = append(dst, src...)
	}
	return dst
}

func flzMatch(dst []byte, length, distance int) []byte {
	distance--
	for length > flzMaxLen-2 {
		dst = append(dst,
			byte(7<<5)+byte(distance>>8),
			flzMaxLen-2-7-2,
			byte(distance))
		length -= flzMaxLen - 2
	}
	if length < 7 {
		dst = append(dst,
			byte(length<<5)+byte(distance>>8),
			byte(distance))
	} else {
		dst = append(dst,
			byte(7<<5)+byte(distance>>8),
			byte(length-7),
			byte(distance))
	}
	return dst
}

// flzCompare returns the length of the common run of in[a:] and in[b:], the
// mismatching byte included, bounded by in[:bound].
func flzCompare(in []byte, a, b, bound int) int {
	start := a
	for b < bound {
		if in[a] != in[b] {
			a++
			break
		}
		a++
		b++
	}
	return a - start
}

// fastlzCompress encodes src into a block using the scratch buffer and
// returns the encoded slice.
func fastlzCompress(src []byte, scratch []byte) []byte {
	length := len(src)
	out := scratch[:0]

	ipBound := length - 4
	ipLimit := length - 12 - 1

	var htab [flzHashSize]int

	anchor := 0
	ip := 2

	for ip < ipLimit {
		var ref, distance int
		var seq uint32

		for {
			seq = flzReadU32(src, ip) & 0xffffff
			hash := flzHash(seq)
			ref = htab[hash]
			htab[hash] = ip
			distance = ip - ref

			var cmp uint32 = 0x1000000
			if distance < flzMaxDistance {
				cmp = flzReadU32(src, ref) & 0xffffff
			}
			if ip >= ipLimit {
				break
			}
			ip++
			if seq == cmp {
				ip--
				break
			}
		}

		if ip >= ipLimit {
			break
		}

		if ip > anchor {
			out = flzLiterals(out, src[anchor:ip])
		}

		matched := flzCompare(src, ref+3, ip+3, ipBound)
		out = flzMatch(out, matched, distance)

		ip += matched
		seq = flzReadU32(src, ip)
		hash := flzHash(seq & 0xffffff)
		htab[hash] = ip
		ip++
		seq >>= 8
		hash = flzHash(seq & 0xffffff)
		htab[hash] = ip
		ip++
		anchor = ip
	}

	return flzLiterals(out, src[anchor:])
}

// fastlzDecompress decodes a block into dst, returning the decoded length.
func fastlzDecompress(src []byte, dst []byte) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}

	ip := 0
	op := 0
	ctrl := int(src[ip] & 31)
	ip++

	for {
		if ctrl >= 32 {
			length := (ctrl >> 5) - 1
			ofs := (ctrl & 31) << 8
			if length == 7-1 {
				if ip >= len(src) {
					return 0, ld.MakeError(ld.ErrBadBlock, "compression", "truncated match length")
				}
				length += int(src[ip])
				ip++
			}
			if ip >= len(src) {
				return 0, ld.MakeError(ld.ErrBadBlock, "compression", "truncated match offset")
			}
			ref := op - ofs - 1 - int(src[ip])
			ip++
			length += 3
			if ref < 0 || op+length > len(dst) {
				return 0, ld.MakeError(ld.ErrBadBlock, "compression", "match out of range")
			}
			// Byte-wise copy: the match may overlap its own output.
			for i := 0; i < length; i++ {
				dst[op] = dst[ref]
				op++
				ref++
			}
		} else {
			ctrl++
			if op+ctrl > len(dst) || ip+ctrl > len(src) {
				return 0, ld.MakeError(ld.ErrBadBlock, "compression", "literal run out of range")
			}
			copy(dst[op:op+ctrl], src[ip:ip+ctrl])
			ip += ctrl
			op += ctrl
		}

		if ip >= len(src) {
			break
		}
		ctrl = int(src[ip])
		ip++
	}

	return op, nil
}
