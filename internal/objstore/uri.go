package objstore

import (
	"fmt"
	"path"
	"strings"
)

// URI references an object as scheme://bucket/key.
type URI struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseURI parses an object reference. Only s3:// is supported. The key is
// taken verbatim, so '?' and '#' are ordinary key characters.
func ParseURI(raw string) (URI, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return URI{}, fmt.Errorf("invalid object URI %q: missing scheme", raw)
	}
	if scheme != "s3" {
		return URI{}, fmt.Errorf("invalid object URI %q: unsupported scheme %q", raw, scheme)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return URI{}, fmt.Errorf("invalid object URI %q: missing bucket", raw)
	}
	if strings.ContainsAny(bucket, " \t\r\n?#") {
		return URI{}, fmt.Errorf("invalid object URI %q: invalid bucket name %q", raw, bucket)
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return URI{}, fmt.Errorf("invalid object URI %q: missing object key", raw)
	}
	return URI{Scheme: scheme, Bucket: bucket, Key: key}, nil
}

// Basename returns the last element of the key.
func (u URI) Basename() string {
	return path.Base(u.Key)
}

func (u URI) String() string {
	return u.Scheme + "://" + u.Bucket + "/" + u.Key
}
