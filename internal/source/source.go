// Package source reads newline-delimited JSON objects from object storage
// (s3://, gs:// or file://) for the client-side staging load.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver

	"github.com/withObsrvr/sparkify-dwh/internal/logging"
)

var (
	// ErrNoObjects is returned when a location prefix matches no objects.
	ErrNoObjects = errors.New("no objects found")

	// ErrUnsupportedScheme is returned for locations that are not s3, gs or file URLs.
	ErrUnsupportedScheme = errors.New("unsupported location scheme")
)

// Options configure how bucket URLs are opened.
type Options struct {
	Region   string
	Endpoint string // custom S3 endpoint (MinIO, R2, LocalStack)
}

// Object is one listed object.
type Object struct {
	Key  string
	Size int64
}

// Location is a bucket plus the key prefix a URI points at.
type Location struct {
	URI    string
	Prefix string
	bucket *blob.Bucket
}

// OpenLocation opens the bucket behind uri. The path part of the URI becomes
// the key prefix, matching how a warehouse COPY interprets its FROM clause.
func OpenLocation(ctx context.Context, uri string, opts Options) (*Location, error) {
	bucketURL, prefix, err := splitURI(uri, opts)
	if err != nil {
		return nil, err
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket for %s: %w", uri, err)
	}
	return &Location{URI: uri, Prefix: prefix, bucket: bucket}, nil
}

// BucketURL splits uri into a gocloud bucket URL and the key prefix inside it.
func BucketURL(uri string, opts Options) (bucketURL, prefix string, err error) {
	return splitURI(uri, opts)
}

func splitURI(uri string, opts Options) (bucketURL, prefix string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse location %q: %w", uri, err)
	}

	switch u.Scheme {
	case "s3":
		params := url.Values{}
		params.Set("awssdk", "v2")
		if opts.Region != "" {
			params.Set("region", opts.Region)
		}
		if opts.Endpoint != "" {
			params.Set("endpoint", opts.Endpoint)
			// Custom endpoints rarely support virtual-host addressing.
			params.Set("use_path_style", "true")
		}
		return fmt.Sprintf("s3://%s?%s", u.Host, params.Encode()), strings.TrimPrefix(u.Path, "/"), nil

	case "gs":
		return fmt.Sprintf("gs://%s", u.Host), strings.TrimPrefix(u.Path, "/"), nil

	case "file":
		p := filepath.FromSlash(u.Path)
		info, statErr := os.Stat(p)
		if statErr == nil && info.IsDir() {
			return "file://" + filepath.ToSlash(p), "", nil
		}
		return "file://" + filepath.ToSlash(filepath.Dir(p)), filepath.Base(p), nil

	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
	}
}

// List returns every object under the prefix, sorted by key.
func (l *Location) List(ctx context.Context) ([]Object, error) {
	var objects []Object

	iter := l.bucket.List(&blob.ListOptions{Prefix: l.Prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", l.URI, err)
		}

		// Skip directories
		if obj.IsDir {
			continue
		}
		// fileblob keeps attribute sidecars next to the data.
		if strings.HasSuffix(obj.Key, ".attrs") {
			continue
		}
		objects = append(objects, Object{Key: obj.Key, Size: obj.Size})
	}

	if len(objects) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoObjects, l.URI)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	logging.Component("source").Debug("listed objects", "location", l.URI, "count", len(objects))
	return objects, nil
}

// Open returns a reader over the decompressed content of key.
func (l *Location) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := l.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}

	rc, err := Decompress(key, r)
	if err != nil {
		r.Close()
		return nil, err
	}
	return rc, nil
}

// Close releases the bucket.
func (l *Location) Close() error {
	if l.bucket != nil {
		return l.bucket.Close()
	}
	return nil
}

// ReadObject reads the single object uri points at, such as a JSONPaths file.
func ReadObject(ctx context.Context, uri string, opts Options) ([]byte, error) {
	loc, err := OpenLocation(ctx, uri, opts)
	if err != nil {
		return nil, err
	}
	defer loc.Close()

	if loc.Prefix == "" || strings.HasSuffix(loc.Prefix, "/") {
		return nil, fmt.Errorf("read %s: location is not an object", uri)
	}

	rc, err := loc.Open(ctx, loc.Prefix)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path.Base(loc.Prefix), err)
	}
	return data, nil
}
