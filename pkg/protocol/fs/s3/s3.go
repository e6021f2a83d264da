// Package s3 is an object-store backend for the filesystem protocol.
// The URL host names the bucket and the path names the key; "directories"
// are key prefixes ending in '/'.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
)

// API is the subset of the S3 client the backend uses.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds the S3 client settings.
type Config struct {
	// Region defaults to us-east-1.
	Region string

	// Endpoint is the S3 endpoint URL for S3-compatible services.
	Endpoint string

	// AccessKeyID and SecretAccessKey are used when neither the URL nor the
	// channel login carries credentials. Empty means the SDK default chain.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style addressing (required for MinIO).
	ForcePathStyle bool
}

// Backend implements fs.Backend over an S3 bucket.
type Backend struct {
	cfg    Config
	client API
	fixed  bool // client was injected and survives Unmount
	bucket string
}

var (
	_ fs.Backend    = (*Backend)(nil)
	_ fs.Renamer    = (*Backend)(nil)
	_ fs.Remover    = (*Backend)(nil)
	_ fs.DirMaker   = (*Backend)(nil)
	_ fs.DirRemover = (*Backend)(nil)
)

// New creates an S3 backend that builds its client on Mount.
func New(cfg Config) *Backend {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &Backend{cfg: cfg}
}

// NewWithClient creates an S3 backend over an existing client.
func NewWithClient(client API) *Backend {
	return &Backend{client: client, fixed: true}
}

// Name implements fs.Backend.
func (b *Backend) Name() string { return "s3" }

// Mount implements fs.Backend. Credentials come from the URL, then the
// channel login, then the configuration.
func (b *Backend) Mount(ctx context.Context, u *devicespec.ParsedURL, creds fs.Credentials) error {
	if u.Host == "" {
		return netstatus.Errorf(netstatus.InvalidDeviceSpec, "mount", "no bucket in %s", u.Redacted())
	}
	b.bucket = u.Host
	if b.fixed {
		return nil
	}

	key, secret := b.cfg.AccessKeyID, b.cfg.SecretAccessKey
	switch {
	case u.User != "":
		key, secret = u.User, u.Password
	case creds.Login != "":
		key, secret = creds.Login, creds.Password
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(b.cfg.Region)}
	if key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return netstatus.Wrap(netstatus.GeneralFailure, "mount", fmt.Errorf("load AWS config: %w", err))
	}

	var s3Opts []func(*s3.Options)
	if b.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(b.cfg.Endpoint)
		})
	}
	if b.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	b.client = s3.NewFromConfig(awsCfg, s3Opts...)

	logger.DebugCtx(ctx, "S3 client ready", logger.KeyBucket, b.bucket, logger.KeyRegion, b.cfg.Region)
	return nil
}

// Unmount implements fs.Backend.
func (b *Backend) Unmount(context.Context) error {
	if !b.fixed {
		b.client = nil
	}
	return nil
}

func (b *Backend) api(op string) (API, error) {
	if b.client == nil || b.bucket == "" {
		return nil, netstatus.ErrNotConnected(op)
	}
	return b.client, nil
}

// objectKey turns an absolute path into a key.
func objectKey(p string) string {
	return strings.TrimPrefix(p, "/")
}

// dirPrefix turns an absolute directory path into a listing prefix.
func dirPrefix(p string) string {
	k := strings.Trim(p, "/")
	if k == "" {
		return ""
	}
	return k + "/"
}

// Stat implements fs.Backend. A key that does not exist as an object but
// prefixes other keys is a directory.
func (b *Backend) Stat(ctx context.Context, p string) (fs.Entry, error) {
	c, err := b.api("stat")
	if err != nil {
		return fs.Entry{}, err
	}
	name := baseName(p)
	key := objectKey(p)
	if key == "" || strings.HasSuffix(key, "/") {
		return b.statDir(ctx, c, p, name)
	}

	out, err := c.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err == nil {
		return fs.Entry{
			Name:    name,
			Size:    aws.ToInt64(out.ContentLength),
			ModTime: aws.ToTime(out.LastModified),
		}, nil
	}
	if !isNotFound(err) {
		return fs.Entry{}, translate("stat", err)
	}
	return b.statDir(ctx, c, p, name)
}

func (b *Backend) statDir(ctx context.Context, c API, p, name string) (fs.Entry, error) {
	prefix := dirPrefix(p)
	if prefix == "" {
		return fs.Entry{Name: "/", IsDir: true}, nil
	}
	out, err := c.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fs.Entry{}, translate("stat", err)
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return fs.Entry{}, netstatus.Errorf(netstatus.FileNotFound, "stat", "no such key %q", objectKey(p))
	}
	return fs.Entry{Name: name, IsDir: true}, nil
}

func baseName(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// OpenDir implements fs.Backend.
func (b *Backend) OpenDir(ctx context.Context, p string) (fs.DirIterator, error) {
	c, err := b.api("opendir")
	if err != nil {
		return nil, err
	}
	prefix := dirPrefix(p)

	var entries []fs.Entry
	pager := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translate("opendir", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				entries = append(entries, fs.Entry{Name: name, IsDir: true})
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue // directory marker
			}
			entries = append(entries, fs.Entry{
				Name:    name,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return &fs.SliceIterator{Entries: entries}, nil
}

// OpenFile implements fs.Backend. Writes are buffered and uploaded on
// Close; append downloads the existing object first.
func (b *Backend) OpenFile(ctx context.Context, p string, mode protocol.OpenMode) (fs.File, error) {
	c, err := b.api("open")
	if err != nil {
		return nil, err
	}
	key := objectKey(p)
	fctx := context.WithoutCancel(ctx)

	switch mode {
	case protocol.ModeRead:
		out, err := c.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
		if err != nil {
			return nil, translate("open", err)
		}
		return &object{body: out.Body}, nil

	case protocol.ModeWrite, protocol.ModePut:
		return &object{ctx: fctx, api: c, bucket: b.bucket, key: key, upload: &bytes.Buffer{}}, nil

	case protocol.ModeAppend:
		buf := &bytes.Buffer{}
		out, err := c.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
		switch {
		case err == nil:
			_, err = io.Copy(buf, out.Body)
			_ = out.Body.Close()
			if err != nil {
				return nil, translate("open", err)
			}
		case !isNotFound(err):
			return nil, translate("open", err)
		}
		return &object{ctx: fctx, api: c, bucket: b.bucket, key: key, upload: buf}, nil
	}
	return nil, netstatus.Errorf(netstatus.InvalidCommand, "open", "unsupported open mode %d on s3", mode)
}

// object is a downloading or uploading object.
type object struct {
	body io.ReadCloser

	ctx    context.Context
	api    API
	bucket string
	key    string
	upload *bytes.Buffer
}

func (o *object) Read(p []byte) (int, error) {
	if o.body == nil {
		return 0, errors.New("s3: object opened for writing")
	}
	return o.body.Read(p)
}

func (o *object) Write(p []byte) (int, error) {
	if o.upload == nil {
		return 0, errors.New("s3: object opened for reading")
	}
	return o.upload.Write(p)
}

func (o *object) Close() error {
	if o.body != nil {
		return o.body.Close()
	}
	if o.upload == nil {
		return nil
	}
	data := o.upload.Bytes()
	o.upload = nil
	_, err := o.api.PutObject(o.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(o.bucket),
		Key:           aws.String(o.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return translate("put", err)
}

// Rename implements fs.Renamer as a copy followed by a delete.
func (b *Backend) Rename(ctx context.Context, from, to string) error {
	c, err := b.api("rename")
	if err != nil {
		return err
	}
	src, dst := objectKey(from), objectKey(to)
	_, err = c.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(b.bucket + "/" + src),
	})
	if err != nil {
		return translate("rename", err)
	}
	_, err = c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(src)})
	return translate("rename", err)
}

// Remove implements fs.Remover. S3 deletes are idempotent, so existence is
// checked first to report FileNotFound.
func (b *Backend) Remove(ctx context.Context, p string) error {
	c, err := b.api("delete")
	if err != nil {
		return err
	}
	key := objectKey(p)
	if _, err := c.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)}); err != nil {
		return translate("delete", err)
	}
	_, err = c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	return translate("delete", err)
}

// Mkdir implements fs.DirMaker with an empty marker object.
func (b *Backend) Mkdir(ctx context.Context, p string) error {
	c, err := b.api("mkdir")
	if err != nil {
		return err
	}
	marker := dirPrefix(p)
	if marker == "" {
		return netstatus.New(netstatus.FileExists, "mkdir")
	}
	if _, err := c.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(marker)}); err == nil {
		return netstatus.Errorf(netstatus.FileExists, "mkdir", "%q exists", marker)
	}
	_, err = c.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(marker),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	return translate("mkdir", err)
}

// Rmdir implements fs.DirRemover. Only an empty prefix (at most its own
// marker) can be removed.
func (b *Backend) Rmdir(ctx context.Context, p string) error {
	c, err := b.api("rmdir")
	if err != nil {
		return err
	}
	prefix := dirPrefix(p)
	out, err := c.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return translate("rmdir", err)
	}
	marker := false
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) != prefix {
			return netstatus.Errorf(netstatus.AccessDenied, "rmdir", "%q is not empty", prefix)
		}
		marker = true
	}
	if !marker {
		return netstatus.Errorf(netstatus.FileNotFound, "rmdir", "no directory %q", prefix)
	}
	_, err = c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(prefix)})
	return translate("rmdir", err)
}

// ============================================================================
// Errors
// ============================================================================

var apiCodes = map[string]netstatus.ErrorCode{
	"NoSuchKey":             netstatus.FileNotFound,
	"NotFound":              netstatus.FileNotFound,
	"NoSuchBucket":          netstatus.FileNotFound,
	"AccessDenied":          netstatus.AccessDenied,
	"Forbidden":             netstatus.AccessDenied,
	"InvalidAccessKeyId":    netstatus.InvalidUsernameOrPassword,
	"SignatureDoesNotMatch": netstatus.InvalidUsernameOrPassword,
	"ExpiredToken":          netstatus.InvalidUsernameOrPassword,
	"EntityTooLarge":        netstatus.NoSpaceOnDevice,
	"QuotaExceeded":         netstatus.NoSpaceOnDevice,
	"SlowDown":              netstatus.ServiceNotAvailable,
	"ServiceUnavailable":    netstatus.ServiceNotAvailable,
	"InternalError":         netstatus.ServiceNotAvailable,
	"RequestTimeout":        netstatus.SocketTimeout,
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiCodes[apiErr.ErrorCode()]; ok {
			return netstatus.Wrap(code, op, err)
		}
		return netstatus.Wrap(netstatus.GeneralFailure, op, err)
	}
	return netstatus.FromNetError(op, err)
}
