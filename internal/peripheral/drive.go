package peripheral

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/computergrid/internal/vfs"
	"github.com/zclconf/go-cty/cty"
)

// DriveType is the peripheral type name of a disk drive.
const DriveType = "drive"

// FileSystemOwner is implemented by computers whose filesystem a drive can
// mount its disk into.
type FileSystemOwner interface {
	FileSystem() *vfs.FileSystem
}

// Drive holds an optional disk and mounts it into every attached computer's
// filesystem at "disk", "disk2", and so on.
type Drive struct {
	mu      sync.Mutex
	disk    vfs.WritableMount
	label   string
	mounts  map[Computer]string
	names   map[Computer]string
	methods MethodTable
}

// NewDrive creates an empty drive.
func NewDrive() *Drive {
	d := &Drive{
		mounts: make(map[Computer]string),
		names:  make(map[Computer]string),
	}
	d.methods = MethodTable{
		"isDiskPresent": {Fn: d.callIsDiskPresent},
		"getDiskLabel":  {Fn: d.callGetDiskLabel},
		"setDiskLabel":  {MainThread: true, Fn: d.callSetDiskLabel},
		"getMountPath":  {Fn: d.callGetMountPath},
	}
	return d
}

func (d *Drive) Type() string { return DriveType }

func (d *Drive) Methods() MethodTable { return d.methods }

func (d *Drive) Equals(o Peripheral) bool { return Same(d, o) }

// Insert puts a disk in the drive, mounting it for every attached computer
// and raising a "disk" event on each.
func (d *Drive) Insert(disk vfs.WritableMount, label string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disk != nil {
		d.ejectLocked()
	}
	d.disk, d.label = disk, label
	for c, name := range d.names {
		d.mountLocked(c)
		c.QueueEvent("disk", cty.StringVal(name))
	}
}

// Eject removes the disk, if any.
func (d *Drive) Eject() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ejectLocked()
}

func (d *Drive) ejectLocked() {
	if d.disk == nil {
		return
	}
	for c, name := range d.names {
		d.unmountLocked(c)
		c.QueueEvent("disk_eject", cty.StringVal(name))
	}
	d.disk, d.label = nil, ""
}

func (d *Drive) Attach(c Computer, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[c] = name
	if d.disk != nil {
		d.mountLocked(c)
	}
}

func (d *Drive) Detach(c Computer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unmountLocked(c)
	delete(d.names, c)
}

func (d *Drive) mountLocked(c Computer) {
	owner, ok := c.(FileSystemOwner)
	if !ok {
		return
	}
	fs := owner.FileSystem()
	for i := 1; i <= 64; i++ {
		at := "disk"
		if i > 1 {
			at = fmt.Sprintf("disk%d", i)
		}
		if exists, _ := fs.Exists(at); exists {
			continue
		}
		if err := fs.Mount(at, d.disk); err == nil {
			d.mounts[c] = at
			return
		}
	}
}

func (d *Drive) unmountLocked(c Computer) {
	at, ok := d.mounts[c]
	if !ok {
		return
	}
	if owner, ok := c.(FileSystemOwner); ok {
		owner.FileSystem().Unmount(at)
	}
	delete(d.mounts, c)
}

func (d *Drive) callIsDiskPresent(context.Context, Call) ([]cty.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Values(cty.BoolVal(d.disk != nil)), nil
}

func (d *Drive) callGetDiskLabel(context.Context, Call) ([]cty.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disk == nil || d.label == "" {
		return Values(cty.NullVal(cty.String)), nil
	}
	return Values(cty.StringVal(d.label)), nil
}

func (d *Drive) callSetDiskLabel(_ context.Context, call Call) ([]cty.Value, error) {
	label, err := OptStringArg(call.Args, 0, "")
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disk == nil {
		return nil, fmt.Errorf("no disk in drive")
	}
	d.label = label
	return nil, nil
}

func (d *Drive) callGetMountPath(_ context.Context, call Call) ([]cty.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.mounts[call.Computer]
	if !ok {
		return Values(cty.NullVal(cty.String)), nil
	}
	return Values(cty.StringVal(at)), nil
}
