package memorystore

import "strings"

// Bucket is the closed set of named TTL buckets a memory item can belong to.
type Bucket string

const (
	BucketTransient Bucket = "transient"
	BucketSession   Bucket = "session"
	BucketLongTerm  Bucket = "long_term"
)

const (
	transientTTLSeconds = 36 * 60 * 60
	sessionTTLSeconds   = 7 * 24 * 60 * 60
)

// bucketTTL returns the TTL in seconds for a bucket, or nil for no expiry.
func bucketTTL(b Bucket) *int64 {
	switch b {
	case BucketTransient:
		v := int64(transientTTLSeconds)
		return &v
	case BucketSession:
		v := int64(sessionTTLSeconds)
		return &v
	default:
		return nil
	}
}

// scopeDefaultBuckets is checked in order; scope prefix match wins. Ordered
// so the most specific-looking prefixes are tried first, matching the
// Python mapping's insertion order.
var scopeDefaultBuckets = []struct {
	prefix string
	bucket Bucket
}{
	{"persona:", BucketLongTerm},
	{"task:", BucketSession},
	{"ops:", BucketSession},
	{"calendar:", BucketSession},
	{"notes", BucketLongTerm},
	{"recap:", BucketLongTerm},
	{"thread:", BucketTransient},
	{"context:", BucketTransient},
}

// bucketForScope resolves the default bucket for a scope string by prefix
// match, falling back to session for anything unrecognized.
func bucketForScope(scope string) Bucket {
	for _, sb := range scopeDefaultBuckets {
		if strings.HasPrefix(scope, sb.prefix) {
			return sb.bucket
		}
	}
	return BucketSession
}

// resolveTTLSeconds resolves a TTL with the following precedence: explicit
// TTL wins over explicit bucket, which wins over the scope-derived
// bucket. Returns nil for "no expiry".
func resolveTTLSeconds(scope string, explicitBucket *Bucket, explicitTTLSeconds *int64) *int64 {
	if explicitTTLSeconds != nil {
		v := *explicitTTLSeconds
		return &v
	}
	if explicitBucket != nil {
		return bucketTTL(*explicitBucket)
	}
	return bucketTTL(bucketForScope(scope))
}
