package smb

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/hirochachacha/go-smb2"
	"github.com/stretchr/testify/assert"

	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
)

func TestSplitShare(t *testing.T) {
	tests := []struct {
		in, share, rest string
	}{
		{"/public/games/dos.sys", "public", "/games/dos.sys"},
		{"/public/", "public", "/"},
		{"/public", "public", "/"},
		{"/", "", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			share, rest := SplitShare(tt.in)
			assert.Equal(t, tt.share, share)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestSharePath(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, `games\dos.sys`, b.sharePath("/public/games/dos.sys"))
	assert.Equal(t, `games`, b.sharePath("/public/games/"))
	assert.Equal(t, "", b.sharePath("/public/"))
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate("x", nil))

	err := translate("stat", &os.PathError{Op: "stat", Path: "x", Err: &smb2.ResponseError{Code: 0xC0000034}})
	assert.Equal(t, netstatus.FileNotFound, netstatus.CodeOf(err))

	err = translate("session", fmt.Errorf("session: %w", &smb2.ResponseError{Code: 0xC000006D}))
	assert.Equal(t, netstatus.InvalidUsernameOrPassword, netstatus.CodeOf(err))

	assert.Equal(t, netstatus.GeneralFailure, CodeForStatus(0xC0001234))
	assert.Equal(t, netstatus.FileExists, CodeForStatus(0xC0000035))

	err = translate("open", os.ErrNotExist)
	assert.Equal(t, netstatus.FileNotFound, netstatus.CodeOf(err))
}

func TestMountNeedsShare(t *testing.T) {
	b := New(Config{})
	err := b.Mount(context.Background(), devicespec.Parse("SMB://server/"), fs.Credentials{})
	assert.Equal(t, netstatus.InvalidDeviceSpec, netstatus.CodeOf(err))
}

func TestUnmounted(t *testing.T) {
	ctx := context.Background()
	b := New(Config{})
	assert.NoError(t, b.Unmount(ctx))
	_, err := b.Stat(ctx, "/public/x")
	assert.Equal(t, netstatus.NotConnected, netstatus.CodeOf(err))
	assert.Equal(t, netstatus.NotConnected, netstatus.CodeOf(b.Mkdir(ctx, "/public/x")))
}
