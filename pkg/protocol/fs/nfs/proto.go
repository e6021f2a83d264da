package nfs

import (
	"fmt"
	"time"

	"github.com/marmos91/netbridge/pkg/netstatus"
)

// Program numbers and versions.
const (
	progPortmap = 100000
	versPortmap = 2
	progMount   = 100005
	versMount   = 3
	progNFS     = 100003
	versNFS     = 3

	ipProtoTCP = 6
)

// Procedures.
const (
	pmapProcGetPort = 3

	mountProcMnt    = 1
	mountProcUmnt   = 3
	mountProcExport = 5

	nfsProcGetAttr     = 1
	nfsProcSetAttr     = 2
	nfsProcLookup      = 3
	nfsProcRead        = 6
	nfsProcWrite       = 7
	nfsProcCreate      = 8
	nfsProcMkdir       = 9
	nfsProcRemove      = 12
	nfsProcRmdir       = 13
	nfsProcRename      = 14
	nfsProcReadDirPlus = 17
)

// ftype3 values used here.
const (
	typeReg = 1
	typeDir = 2
)

const (
	stableFileSync  = 2
	createUnchecked = 0
)

// Status is an nfsstat3 (also used for mountstat3, which shares the values).
type Status uint32

const (
	StatusOK          Status = 0
	StatusPerm        Status = 1
	StatusNoEnt       Status = 2
	StatusIO          Status = 5
	StatusNXIO        Status = 6
	StatusAccess      Status = 13
	StatusExist       Status = 17
	StatusXDev        Status = 18
	StatusNoDev       Status = 19
	StatusNotDir      Status = 20
	StatusIsDir       Status = 21
	StatusInval       Status = 22
	StatusFBig        Status = 27
	StatusNoSpc       Status = 28
	StatusROFS        Status = 30
	StatusNameTooLong Status = 63
	StatusNotEmpty    Status = 66
	StatusDQuot       Status = 69
	StatusStale       Status = 70
	StatusBadHandle   Status = 10001
	StatusNotSupp     Status = 10004
	StatusServerFault Status = 10006
	StatusJukebox     Status = 10008
)

var statusCodes = map[Status]netstatus.ErrorCode{
	StatusOK:          netstatus.Success,
	StatusPerm:        netstatus.AccessDenied,
	StatusNoEnt:       netstatus.FileNotFound,
	StatusIO:          netstatus.GeneralFailure,
	StatusNXIO:        netstatus.InvalidDeviceSpec,
	StatusAccess:      netstatus.AccessDenied,
	StatusExist:       netstatus.FileExists,
	StatusXDev:        netstatus.AccessDenied,
	StatusNoDev:       netstatus.InvalidDeviceSpec,
	StatusNotDir:      netstatus.NotADirectory,
	StatusIsDir:       netstatus.AccessDenied,
	StatusInval:       netstatus.InvalidCommand,
	StatusFBig:        netstatus.NoSpaceOnDevice,
	StatusNoSpc:       netstatus.NoSpaceOnDevice,
	StatusROFS:        netstatus.ReadOnly,
	StatusNameTooLong: netstatus.InvalidDeviceSpec,
	StatusNotEmpty:    netstatus.AccessDenied,
	StatusDQuot:       netstatus.NoSpaceOnDevice,
	StatusStale:       netstatus.NotConnected,
	StatusBadHandle:   netstatus.NotConnected,
	StatusNotSupp:     netstatus.NotImplemented,
	StatusServerFault: netstatus.GeneralFailure,
	StatusJukebox:     netstatus.SocketTimeout,
}

// Code returns the bridge error code for s.
func (s Status) Code() netstatus.ErrorCode {
	if c, ok := statusCodes[s]; ok {
		return c
	}
	return netstatus.GeneralFailure
}

// StatusError is a procedure that ran and failed.
type StatusError struct {
	Proc   string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nfs: %s failed with status %d", e.Proc, uint32(e.Status))
}

// Attr is the subset of fattr3 the bridge uses.
type Attr struct {
	Type  uint32
	Mode  uint32
	Size  uint64
	MTime time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool { return a.Type == typeDir }

// ReadOnly reports whether no write permission bit is set.
func (a Attr) ReadOnly() bool { return a.Mode&0o222 == 0 }

// fattr3 reads a full fattr3.
func (d *decoder) fattr3() Attr {
	var a Attr
	a.Type = d.u32()
	a.Mode = d.u32()
	d.u32() // nlink
	d.u32() // uid
	d.u32() // gid
	a.Size = d.u64()
	d.u64() // used
	d.u32() // rdev specdata1
	d.u32() // rdev specdata2
	d.u64() // fsid
	d.u64() // fileid
	d.u32() // atime
	d.u32()
	sec, nsec := d.u32(), d.u32()
	a.MTime = time.Unix(int64(sec), int64(nsec))
	d.u32() // ctime
	d.u32()
	return a
}

// postOpAttr reads a post_op_attr.
func (d *decoder) postOpAttr() (Attr, bool) {
	if !d.boolean() {
		return Attr{}, false
	}
	return d.fattr3(), true
}

// wccData skips a wcc_data.
func (d *decoder) wccData() {
	if d.boolean() {
		d.u64() // size
		d.u32() // mtime
		d.u32()
		d.u32() // ctime
		d.u32()
	}
	d.postOpAttr()
}

// postOpFH reads a post_op_fh3.
func (d *decoder) postOpFH() []byte {
	if !d.boolean() {
		return nil
	}
	return d.opaque()
}

// status reads an nfsstat3 and turns failures into a StatusError.
func (d *decoder) status(proc string) (Status, error) {
	s := Status(d.u32())
	if d.err != nil {
		return s, fmt.Errorf("nfs: decode %s reply: %w", proc, d.err)
	}
	if s != StatusOK {
		return s, &StatusError{Proc: proc, Status: s}
	}
	return s, nil
}

// sattr writes a sattr3 that sets only the fields given.
func (e *encoder) sattr(mode *uint32, size *uint64) *encoder {
	if mode != nil {
		e.put(true).put(*mode)
	} else {
		e.put(false)
	}
	e.put(false) // uid
	e.put(false) // gid
	if size != nil {
		e.put(true).put(*size)
	} else {
		e.put(false)
	}
	e.put(uint32(0)) // atime: DONT_CHANGE
	return e.put(uint32(0))
}
