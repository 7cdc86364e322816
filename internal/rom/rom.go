// Package rom embeds the read-only programs every computer boots from when
// its own storage has no startup program.
package rom

import (
	"embed"
	"io/fs"

	"github.com/vk/computergrid/internal/vfs"
)

//go:embed files
var files embed.FS

// FS returns the ROM contents rooted at the ROM directory.
func FS() fs.FS {
	sub, err := fs.Sub(files, "files")
	if err != nil {
		panic(err)
	}
	return sub
}

// Mount returns the ROM as a mount, ready to bind at "rom".
func Mount() *vfs.FSMount {
	return vfs.NewFSMount(FS())
}
