package storage

import (
	"strconv"
	"strings"
)

const (
	// BucketSize is the number of consecutive ids grouped in one bucket.
	BucketSize = 1000

	bucketNameDigits = 9
	bucketNameGroup  = 3
)

// BucketOf returns the 1-based bucket number holding id.
func BucketOf(id int64) int64 {
	return (id-1)/BucketSize + 1
}

// BucketDirName formats a bucket number as a zero-padded, dash-grouped
// directory name: 1 -> "000-000-001".
func BucketDirName(bucket int64) string {
	digits := strconv.FormatInt(bucket, 10)
	if len(digits) < bucketNameDigits {
		digits = strings.Repeat("0", bucketNameDigits-len(digits)) + digits
	}
	var b strings.Builder
	b.Grow(len(digits) + len(digits)/bucketNameGroup)
	for i := 0; i < len(digits); i++ {
		if i > 0 && i%bucketNameGroup == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(digits[i])
	}
	return b.String()
}

// BucketDirNameOf is BucketDirName(BucketOf(id)).
func BucketDirNameOf(id int64) string {
	return BucketDirName(BucketOf(id))
}
