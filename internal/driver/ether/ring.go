package ether

import (
	"fmt"
)

// ringSize derives AF_PACKET ring geometry from a memory budget. Frames are
// aligned to TPACKET_ALIGNMENT, blocks are a multiple of both the page size
// and the frame size, and blocks * frames approximates bufferSizeMB.
func ringSize(bufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52
	const maxBlockSize = 4 * 1024 * 1024

	if bufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d", bufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// page-sized frames keep the block a multiple of both
		frameSize = alignUp(frameSize, pageSize)
		blockSize = (maxBlockSize / frameSize) * frameSize
		if blockSize == 0 {
			blockSize = frameSize
		}
	}

	numBlocks = bufferSizeMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, align int) int {
	return ((n + align - 1) / align) * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
