package version

import (
	"strconv"
	"strings"
)

// Compare compares two dot-separated numeric version strings component by
// component, left to right. A missing trailing component counts as 0, so
// "1.2" and "1.2.0" are equal. There is no limit on component count.
// Returns -1 if a < b, 0 if equal, 1 if a > b.
func Compare(a, b string) int {
	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")

	n := len(partsA)
	if len(partsB) > n {
		n = len(partsB)
	}

	for i := 0; i < n; i++ {
		numA := componentAt(partsA, i)
		numB := componentAt(partsB, i)

		if numA < numB {
			return -1
		}
		if numA > numB {
			return 1
		}
	}

	return 0
}

// AtLeast reports whether version v is greater than or equal to min.
func AtLeast(v, min string) bool {
	return Compare(v, min) >= 0
}

func componentAt(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}

	// Non-numeric components count as 0, same as missing ones.
	num, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0
	}

	return num
}
