package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/geogenius/rda/rda"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// OpenBucket returns a blob.Bucket for the given reference.
// The reference should be of the form:
//
//	gs://<bucketname>[/<prefix>]
//	s3://<bucketname>[/<prefix>]
//	vast://<endpoint>/<bucketname>
//	file:///<directory>
//	mem://
func OpenBucket(ctx context.Context, ref string) (bucket *blob.Bucket, err error) {
	switch {
	case strings.HasPrefix(ref, "gs://"), strings.HasPrefix(ref, "gcs://"):
		name := ref[strings.Index(ref, "://")+3:]
		parts := strings.SplitN(name, "/", 2)
		// Google Store authentication via application default credentials.
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			return nil, err
		}
		client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, err
		}
		bucket, err = gcsblob.OpenBucket(ctx, client, parts[0], nil)
		if err != nil {
			rda.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if len(parts) == 2 && parts[1] != "" {
			bucket = blob.PrefixedBucket(bucket, strings.TrimSuffix(parts[1], "/")+"/")
		}

	case strings.HasPrefix(ref, "s3://"):
		// AWS credentials and AWS_REGION must be discoverable by gocloud.
		name := strings.TrimPrefix(ref, "s3://")
		parts := strings.SplitN(name, "/", 2)
		bucket, err = blob.OpenBucket(ctx, "s3://"+parts[0])
		if err != nil {
			rda.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if len(parts) == 2 && parts[1] != "" {
			bucket = blob.PrefixedBucket(bucket, strings.TrimSuffix(parts[1], "/")+"/")
		}

	case strings.HasPrefix(ref, "vast://"):
		// S3-compatible storage at a custom endpoint.  AWS_REGION must be set though it
		// is ignored, and credentials come from AWS_SHARED_CREDENTIALS_FILE.
		parts := strings.SplitN(strings.TrimPrefix(ref, "vast://"), "/", 2)
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("vast ref must be of form 'vast://<endpoint>/<bucket>'")
		}
		url := fmt.Sprintf("s3://%s?endpoint=%s&s3ForcePathStyle=true", parts[1], parts[0])
		bucket, err = blob.OpenBucket(ctx, url)
		if err != nil {
			rda.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}

	case strings.HasPrefix(ref, "file://"), strings.HasPrefix(ref, "mem://"):
		bucket, err = blob.OpenBucket(ctx, ref)
		if err != nil {
			rda.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported bucket reference %q", ref)
	}
	return bucket, nil
}
