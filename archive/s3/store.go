package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/volcache/archive"
	"github.com/mwantia/volcache/data"
)

// S3Store archives committed group metadata as one object per version
// in an S3 bucket. Objects live under
//
//	<prefix><group_name>/<group_id>-<seqno>
//
// and contain the serialized archive entry.
type S3Store struct {
	client     *minio.Client
	bucketName string
	prefix     string
}

// NewS3Store creates an S3-backed archive store. The bucket must
// already exist.
func NewS3Store(ctx context.Context, endpoint, bucketName, accessKey, secretKey string, useSsl bool) (*S3Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSsl,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("bucket '%s' does not exist", bucketName)
	}

	return &S3Store{
		client:     client,
		bucketName: bucketName,
		prefix:     "archive/",
	}, nil
}

func (ss *S3Store) objectKey(entry *archive.Entry) string {
	return fmt.Sprintf("%s%s/%s-%010d", ss.prefix, entry.GroupName,
		data.NormalizeID(entry.GroupID), entry.SeqNo)
}

// Put records one committed metadata version.
func (ss *S3Store) Put(ctx context.Context, entry *archive.Entry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = ss.client.PutObject(ctx, ss.bucketName, ss.objectKey(entry),
		bytes.NewReader(buf), int64(len(buf)), minio.PutObjectOptions{
			ContentType: "application/json",
		})

	return err
}

// List returns all archived versions for a group name, oldest first.
func (ss *S3Store) List(ctx context.Context, name string) ([]*archive.Entry, error) {
	entries := make([]*archive.Entry, 0)

	objects := ss.client.ListObjects(ctx, ss.bucketName, minio.ListObjectsOptions{
		Prefix:    ss.prefix + name + "/",
		Recursive: true,
	})

	for object := range objects {
		if object.Err != nil {
			return nil, object.Err
		}

		entry, err := ss.getEntry(ctx, object.Key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SeqNo < entries[j].SeqNo
	})

	return entries, nil
}

// Latest returns the newest archived version for a group name.
func (ss *S3Store) Latest(ctx context.Context, name string) (*archive.Entry, error) {
	entries, err := ss.List(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, data.ErrNotExist
	}

	return entries[len(entries)-1], nil
}

func (ss *S3Store) getEntry(ctx context.Context, key string) (*archive.Entry, error) {
	object, err := ss.client.GetObject(ctx, ss.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()

	buf, err := io.ReadAll(object)
	if err != nil {
		return nil, err
	}

	entry := &archive.Entry{}
	if err := json.Unmarshal(buf, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// Close releases nothing; the S3 client is stateless.
func (ss *S3Store) Close(ctx context.Context) error {
	return nil
}
