// Package netstatus defines the error taxonomy and the status record that
// every network protocol reports back to the bus.
//
// The numeric values follow the conventions retro-OS network drivers already
// expect, so they are part of the wire contract and must not be renumbered.
// This is a leaf package: protocols, the dispatcher and the bus server all
// import it, and it imports nothing from the module.
package netstatus

import "fmt"

// ErrorCode is the one-byte error reported in the status record.
type ErrorCode uint8

const (
	// Success indicates the operation completed.
	Success ErrorCode = 1

	// WriteOnly indicates a read on a channel opened for writing only.
	WriteOnly ErrorCode = 131

	// InvalidCommand indicates a command byte this channel does not understand.
	InvalidCommand ErrorCode = 132

	// ReadOnly indicates a write on a channel opened for reading only.
	ReadOnly ErrorCode = 135

	// EndOfFile indicates a read exhausted a file or directory stream.
	// It is not fatal: the channel stays usable for Status and Close.
	EndOfFile ErrorCode = 136

	// GeneralTimeout indicates a non-socket timeout (for example an RPC reply).
	GeneralTimeout ErrorCode = 138

	// GeneralFailure covers protocol construction failures and unmapped backend errors.
	GeneralFailure ErrorCode = 144

	// NotImplemented indicates the backend lacks the requested operation.
	NotImplemented ErrorCode = 146

	// FileExists indicates the target already exists.
	FileExists ErrorCode = 151

	// NoSpaceOnDevice indicates the backend is full.
	NoSpaceOnDevice ErrorCode = 162

	// InvalidDeviceSpec indicates the devicespec and prefix did not resolve to a usable URL.
	InvalidDeviceSpec ErrorCode = 165

	// AccessDenied indicates a permission failure on the backend.
	AccessDenied ErrorCode = 167

	// FileNotFound indicates the path does not exist.
	FileNotFound ErrorCode = 170

	// ConnectionRefused indicates the peer actively refused the connection.
	ConnectionRefused ErrorCode = 200

	// NetworkUnreachable indicates no route to the host, or name resolution failed.
	NetworkUnreachable ErrorCode = 201

	// SocketTimeout indicates a socket read or write did not complete in time.
	// Short writes are reported with this code.
	SocketTimeout ErrorCode = 202

	// NetworkDown indicates the local network is unavailable.
	NetworkDown ErrorCode = 203

	// ConnectionReset indicates the peer reset or closed the connection.
	ConnectionReset ErrorCode = 204

	// NotConnected indicates the channel has no bound protocol, or the
	// protocol has no live connection.
	NotConnected ErrorCode = 207

	// ServiceNotAvailable indicates the remote service rejected the session.
	ServiceNotAvailable ErrorCode = 210

	// ConnectionAborted indicates the connection was aborted locally.
	ConnectionAborted ErrorCode = 211

	// InvalidUsernameOrPassword indicates authentication failed.
	InvalidUsernameOrPassword ErrorCode = 212

	// CouldNotParseJSON indicates JSON channel mode could not parse or query data.
	CouldNotParseJSON ErrorCode = 213

	// NotADirectory indicates a directory operation on a non-directory path.
	NotADirectory ErrorCode = 217

	// CouldNotAllocateBuffers indicates resource exhaustion.
	CouldNotAllocateBuffers ErrorCode = 255
)

// Category groups error codes the way bus drivers interpret them.
type Category int

const (
	CategorySuccess Category = iota
	CategoryEndOfFile
	CategoryTimeout
	CategoryGeneral
	CategoryNotImplemented
	CategoryAccessDenied
	CategoryNotFound
	CategoryFilesystem
	CategoryConnection
	CategoryAuth
	CategoryResource
	CategoryDeviceSpec
)

var categoryNames = map[Category]string{
	CategorySuccess:        "success",
	CategoryEndOfFile:      "eof",
	CategoryTimeout:        "timeout",
	CategoryGeneral:        "general",
	CategoryNotImplemented: "not-implemented",
	CategoryAccessDenied:   "access-denied",
	CategoryNotFound:       "not-found",
	CategoryFilesystem:     "filesystem",
	CategoryConnection:     "connection",
	CategoryAuth:           "auth",
	CategoryResource:       "resource",
	CategoryDeviceSpec:     "devicespec",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("category(%d)", int(c))
}

type codeInfo struct {
	name     string
	category Category
}

var codes = map[ErrorCode]codeInfo{
	Success:                   {"Success", CategorySuccess},
	WriteOnly:                 {"WriteOnly", CategoryAccessDenied},
	InvalidCommand:            {"InvalidCommand", CategoryGeneral},
	ReadOnly:                  {"ReadOnly", CategoryAccessDenied},
	EndOfFile:                 {"EndOfFile", CategoryEndOfFile},
	GeneralTimeout:            {"GeneralTimeout", CategoryTimeout},
	GeneralFailure:            {"GeneralFailure", CategoryGeneral},
	NotImplemented:            {"NotImplemented", CategoryNotImplemented},
	FileExists:                {"FileExists", CategoryFilesystem},
	NoSpaceOnDevice:           {"NoSpaceOnDevice", CategoryFilesystem},
	InvalidDeviceSpec:         {"InvalidDeviceSpec", CategoryDeviceSpec},
	AccessDenied:              {"AccessDenied", CategoryAccessDenied},
	FileNotFound:              {"FileNotFound", CategoryNotFound},
	ConnectionRefused:         {"ConnectionRefused", CategoryConnection},
	NetworkUnreachable:        {"NetworkUnreachable", CategoryConnection},
	SocketTimeout:             {"SocketTimeout", CategoryTimeout},
	NetworkDown:               {"NetworkDown", CategoryConnection},
	ConnectionReset:           {"ConnectionReset", CategoryConnection},
	NotConnected:              {"NotConnected", CategoryConnection},
	ServiceNotAvailable:       {"ServiceNotAvailable", CategoryConnection},
	ConnectionAborted:         {"ConnectionAborted", CategoryConnection},
	InvalidUsernameOrPassword: {"InvalidUsernameOrPassword", CategoryAuth},
	CouldNotParseJSON:         {"CouldNotParseJSON", CategoryGeneral},
	NotADirectory:             {"NotADirectory", CategoryFilesystem},
	CouldNotAllocateBuffers:   {"CouldNotAllocateBuffers", CategoryResource},
}

// String returns the symbolic name of the code.
func (c ErrorCode) String() string {
	if info, ok := codes[c]; ok {
		return info.name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(c))
}

// Category returns the category of the code. Unknown codes are general failures.
func (c ErrorCode) Category() Category {
	if info, ok := codes[c]; ok {
		return info.category
	}
	return CategoryGeneral
}

// Known reports whether c is part of the enumeration.
func (c ErrorCode) Known() bool {
	_, ok := codes[c]
	return ok
}

// IsNetwork reports whether the code is a connection-class error.
func (c ErrorCode) IsNetwork() bool {
	return c.Category() == CategoryConnection || c == SocketTimeout
}
