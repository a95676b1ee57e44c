// Package flags defines the canonical access-flag set and error-kind
// taxonomy shared by every component that resolves or creates an artifact.
package flags

import "fmt"

// AccessFlags is the canonical, POSIX-independent description of how a
// reference is being accessed. It is derived once (at trace-record time, or
// at live-tracer time) from whatever bitmask the underlying platform used,
// and carried as a value from then on.
type AccessFlags struct {
	Read      bool
	Write     bool
	Exec      bool
	NoFollow  bool
	Truncate  bool
	Create    bool
	Exclusive bool
	Append    bool
	Directory bool

	// Mode holds the permission bits requested on Create. It is recorded
	// but, per spec.md design note (c), never enforced.
	Mode uint32
}

// Open-style bit positions, matching Linux's O_* flags closely enough for
// the derivation to be unambiguous; the exact numeric values only matter to
// FromOpen/FromAccess/FromStat, which are the sole consumers.
const (
	OpenRDONLY = 0x0
	OpenWRONLY = 0x1
	OpenRDWR   = 0x2
	OpenCreat  = 0x40
	OpenExcl   = 0x80
	OpenTrunc  = 0x200
	OpenAppend = 0x400
	OpenDir    = 0x10000
	OpenNoFollow = 0x20000
)

// FromOpen derives AccessFlags from an open(2)-style bitmask, grounded on
// original_source/src/core/IR.hh's Reference::Access::Flags::fromOpen.
func FromOpen(bits int) AccessFlags {
	var f AccessFlags
	switch bits & 0x3 {
	case OpenRDONLY:
		f.Read = true
	case OpenWRONLY:
		f.Write = true
	case OpenRDWR:
		f.Read = true
		f.Write = true
	}
	f.Create = bits&OpenCreat != 0
	f.Exclusive = bits&OpenExcl != 0
	f.Truncate = bits&OpenTrunc != 0
	f.Append = bits&OpenAppend != 0
	f.Directory = bits&OpenDir != 0
	f.NoFollow = bits&OpenNoFollow != 0
	return f
}

// Access-style bit positions (access(2)'s mode argument).
const (
	AccessF_OK = 0x0
	AccessR_OK = 0x4
	AccessW_OK = 0x2
	AccessX_OK = 0x1
)

// FromAccess derives AccessFlags from an access(2)-style (mode, flags) pair.
// The flags argument mirrors faccessat2's AT_* bits; only AT_SYMLINK_NOFOLLOW
// (0x100) is meaningful here.
func FromAccess(mode, atFlags int) AccessFlags {
	var f AccessFlags
	f.Read = mode&AccessR_OK != 0
	f.Write = mode&AccessW_OK != 0
	f.Exec = mode&AccessX_OK != 0
	f.NoFollow = atFlags&0x100 != 0
	return f
}

// FromStat derives AccessFlags from an fstatat(2)-style flags argument: a
// stat is a read of metadata only, optionally not following a terminal
// symlink.
func FromStat(atFlags int) AccessFlags {
	return AccessFlags{
		Read:     true,
		NoFollow: atFlags&0x100 != 0,
	}
}

// ErrorKind is the closed, total error taxonomy used at every core boundary.
// Unknown platform error codes must map to Other; the zero value is Ok.
type ErrorKind int

const (
	Ok ErrorKind = iota
	NotFound
	Exists
	NotDir
	IsDir
	Loop
	Access
	NoSpace
	Invalid
	Other
)

func (k ErrorKind) String() string {
	switch k {
	case Ok:
		return "Ok"
	case NotFound:
		return "NotFound"
	case Exists:
		return "Exists"
	case NotDir:
		return "NotDir"
	case IsDir:
		return "IsDir"
	case Loop:
		return "Loop"
	case Access:
		return "Access"
	case NoSpace:
		return "NoSpace"
	case Invalid:
		return "Invalid"
	case Other:
		return "Other"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// FromErrno maps a platform errno value to its ErrorKind. Codes not listed
// are mapped to Other, keeping the taxonomy total as required by spec.md
// §4.A.
func FromErrno(errno int) ErrorKind {
	switch errno {
	case 0:
		return Ok
	case 2: // ENOENT
		return NotFound
	case 17: // EEXIST
		return Exists
	case 20: // ENOTDIR
		return NotDir
	case 21: // EISDIR
		return IsDir
	case 40: // ELOOP
		return Loop
	case 13: // EACCES
		return Access
	case 28: // ENOSPC
		return NoSpace
	case 22: // EINVAL
		return Invalid
	default:
		return Other
	}
}
