package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
)

// ============================================================================
// In-memory bucket
// ============================================================================

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (f *fakeBucket) put(key, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = []byte(data)
}

func (f *fakeBucket) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return string(b), ok
}

var modTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func (f *fakeBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b))), LastModified: aws.Time(modTime)}, nil
}

func (f *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b)), ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeBucket) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, src, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	b, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = append([]byte(nil), b...)
	return &s3.CopyObjectOutput{}, nil
}

// ListObjectsV2 pages two keys at a time.
func (f *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix, delim := aws.ToString(in.Prefix), aws.ToString(in.Delimiter)
	common := map[string]bool{}
	var keys []string
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if i := strings.Index(rest, delim); delim != "" && i >= 0 {
			cp := prefix + rest[:i+1]
			if !common[cp] {
				common[cp] = true
				keys = append(keys, cp)
			}
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for start < len(keys) && keys[start] <= tok {
			start++
		}
	}
	limit := 2
	if in.MaxKeys != nil && int(*in.MaxKeys) < limit {
		limit = int(*in.MaxKeys)
	}
	end := start + limit
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		if common[k] {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(k)})
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: aws.Time(modTime),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func bucketURL(p string) *devicespec.ParsedURL {
	return devicespec.Parse("S3://games" + p)
}

func open(t *testing.T, p *fs.Protocol, u *devicespec.ParsedURL, mode protocol.OpenMode) error {
	t.Helper()
	return p.Open(context.Background(), u, protocol.OpenArgs{Mode: mode, Aux1: byte(mode)})
}

// ============================================================================
// Backend Tests
// ============================================================================

func TestMount(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresBucket", func(t *testing.T) {
		err := NewWithClient(newFakeBucket()).Mount(ctx, devicespec.Parse("S3:/key"), fs.Credentials{})
		assert.Equal(t, netstatus.InvalidDeviceSpec, netstatus.CodeOf(err))
	})

	t.Run("NotConnectedBeforeMount", func(t *testing.T) {
		_, err := New(Config{}).Stat(ctx, "/x")
		assert.Equal(t, netstatus.NotConnected, netstatus.CodeOf(err))
	})

	t.Run("DefaultRegion", func(t *testing.T) {
		assert.Equal(t, "us-east-1", New(Config{}).cfg.Region)
	})
}

func TestStat(t *testing.T) {
	ctx := context.Background()
	f := newFakeBucket()
	f.put("dos.sys", "12345")
	f.put("demos/a.bin", "x")
	b := NewWithClient(f)
	require.NoError(t, b.Mount(ctx, bucketURL("/"), fs.Credentials{}))

	t.Run("Object", func(t *testing.T) {
		e, err := b.Stat(ctx, "/dos.sys")
		require.NoError(t, err)
		assert.Equal(t, fs.Entry{Name: "dos.sys", Size: 5, ModTime: modTime}, e)
	})

	t.Run("PrefixIsDirectory", func(t *testing.T) {
		e, err := b.Stat(ctx, "/demos")
		require.NoError(t, err)
		assert.True(t, e.IsDir)
		assert.Equal(t, "demos", e.Name)
	})

	t.Run("Root", func(t *testing.T) {
		e, err := b.Stat(ctx, "/")
		require.NoError(t, err)
		assert.True(t, e.IsDir)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := b.Stat(ctx, "/nothing")
		assert.Equal(t, netstatus.FileNotFound, netstatus.CodeOf(err))
	})
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want netstatus.ErrorCode
	}{
		{"NoSuchKey", &types.NoSuchKey{}, netstatus.FileNotFound},
		{"NoSuchBucket", &types.NoSuchBucket{}, netstatus.FileNotFound},
		{"AccessDenied", &smithy.GenericAPIError{Code: "AccessDenied"}, netstatus.AccessDenied},
		{"BadKey", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, netstatus.InvalidUsernameOrPassword},
		{"SlowDown", &smithy.GenericAPIError{Code: "SlowDown"}, netstatus.ServiceNotAvailable},
		{"Unknown", &smithy.GenericAPIError{Code: "Weird"}, netstatus.GeneralFailure},
		{"Network", io.ErrUnexpectedEOF, netstatus.ConnectionReset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, netstatus.CodeOf(translate("op", tt.err)))
		})
	}
	assert.NoError(t, translate("op", nil))
}

// ============================================================================
// Filesystem Protocol Tests
// ============================================================================

func TestProtocolOverS3(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadObject", func(t *testing.T) {
		f := newFakeBucket()
		f.put("games/autorun.sys", "hello world")
		bufs := protocol.NewBuffers()
		p := fs.New(bufs, protocol.DefaultOptions(), NewWithClient(f))
		require.NoError(t, open(t, p, bucketURL("/games/AUTORUN.SYS"), protocol.ModeRead))

		var st netstatus.NetworkStatus
		require.NoError(t, p.Status(ctx, &st))
		assert.Equal(t, uint32(11), st.BytesWaiting)
		require.NoError(t, p.Read(ctx, 11))
		assert.Equal(t, "hello world", bufs.Receive.String())
		require.NoError(t, p.Close(ctx))
	})

	t.Run("ListingFollowsPages", func(t *testing.T) {
		f := newFakeBucket()
		f.put("games/", "")
		f.put("games/dos.sys", "x")
		f.put("games/autorun.sys", "y")
		f.put("games/demos/a.bin", "z")
		f.put("games/demos/b.bin", "z")
		f.put("other.txt", "q")

		bufs := protocol.NewBuffers()
		p := fs.New(bufs, protocol.DefaultOptions(), NewWithClient(f))
		require.NoError(t, open(t, p, bucketURL("/games/"), protocol.ModeDirectory))
		_ = p.Read(ctx, 4096)
		assert.Equal(t,
			"  AUTORUN SYS 001\r  DEMOS       DIR\r  DOS     SYS 001\r"+fs.FreeSectorsSentinel+"\r",
			bufs.Receive.String())
	})

	t.Run("WriteUploadsOnClose", func(t *testing.T) {
		f := newFakeBucket()
		bufs := protocol.NewBuffers()
		p := fs.New(bufs, protocol.DefaultOptions(), NewWithClient(f))
		require.NoError(t, open(t, p, bucketURL("/saves/slot1.dat"), protocol.ModeWrite))

		bufs.Transmit.WriteString("level 3")
		require.NoError(t, p.Write(ctx, 7))
		_, ok := f.get("saves/slot1.dat")
		assert.False(t, ok)

		require.NoError(t, p.Close(ctx))
		got, ok := f.get("saves/slot1.dat")
		require.True(t, ok)
		assert.Equal(t, "level 3", got)
	})

	t.Run("AppendKeepsExistingData", func(t *testing.T) {
		f := newFakeBucket()
		f.put("log.txt", "one ")
		bufs := protocol.NewBuffers()
		p := fs.New(bufs, protocol.DefaultOptions(), NewWithClient(f))
		require.NoError(t, open(t, p, bucketURL("/log.txt"), protocol.ModeAppend))
		bufs.Transmit.WriteString("two")
		require.NoError(t, p.Write(ctx, 3))
		require.NoError(t, p.Close(ctx))

		got, _ := f.get("log.txt")
		assert.Equal(t, "one two", got)
	})

	t.Run("ReadWriteIsRejected", func(t *testing.T) {
		p := fs.New(protocol.NewBuffers(), protocol.DefaultOptions(), NewWithClient(newFakeBucket()))
		err := open(t, p, bucketURL("/x.bin"), protocol.ModeReadWrite)
		assert.Equal(t, netstatus.InvalidCommand, netstatus.CodeOf(err))
	})

	t.Run("NamespaceOps", func(t *testing.T) {
		f := newFakeBucket()
		f.put("games/dos.sys", "x")
		p := fs.New(protocol.NewBuffers(), protocol.DefaultOptions(), NewWithClient(f))

		require.NoError(t, p.Rename(ctx, bucketURL("/games/dos.sys,boot.sys")))
		got, ok := f.get("games/boot.sys")
		require.True(t, ok)
		assert.Equal(t, "x", got)
		_, ok = f.get("games/dos.sys")
		assert.False(t, ok)

		require.NoError(t, p.Mkdir(ctx, bucketURL("/games/saves/")))
		_, ok = f.get("games/saves/")
		assert.True(t, ok)
		err := p.Mkdir(ctx, bucketURL("/games/saves"))
		assert.Equal(t, netstatus.FileExists, netstatus.CodeOf(err))

		err = p.Rmdir(ctx, bucketURL("/games"))
		assert.Equal(t, netstatus.AccessDenied, netstatus.CodeOf(err))
		require.NoError(t, p.Rmdir(ctx, bucketURL("/games/saves")))

		err = p.Delete(ctx, bucketURL("/games/nothing"))
		assert.Equal(t, netstatus.FileNotFound, netstatus.CodeOf(err))
		require.NoError(t, p.Delete(ctx, bucketURL("/games/boot.sys")))
		assert.Empty(t, f.objects)

		err = p.Lock(ctx, bucketURL("/games/x"))
		assert.Equal(t, netstatus.NotImplemented, netstatus.CodeOf(err))
	})
}
