// Command mkramdisk builds the ustar image cmd/kernel mounts as
// /init at boot (spec §4.4.2, §6). It walks a host skeleton
// directory the same way biscuit/src/mkfs/mkfs.go's addfiles walks
// one into a ufs.Ufs_t, except the destination here is a flat ustar
// archive instead of a live filesystem image: internal/ramdisk.Parse
// only understands a regular-file ustar stream with no subdirectory
// entries, so this tool flattens the tree into archive-relative paths
// at write time.
package main

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: mkramdisk <output image> <skel dir>\n")
	os.Exit(1)
}

// addFiles walks skelDir on the host and writes every regular file it
// finds into tw, using the file's path relative to skelDir (without a
// leading slash) as its ustar name. Directory entries themselves are
// skipped: internal/ramdisk.Parse builds its root directory listing
// from the files it sees, not from explicit directory headers.
func addFiles(tw *tar.Writer, skelDir string) error {
	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("access %q: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}

		rel := strings.TrimPrefix(path, skelDir)
		rel = strings.TrimPrefix(rel, "/")

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %q: %w", path, err)
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("header for %q: %w", path, err)
		}
		hdr.Name = rel
		hdr.Format = tar.FormatUSTAR
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header for %q: %w", rel, err)
		}

		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %q: %w", path, err)
		}
		defer src.Close()
		if _, err := io.Copy(tw, src); err != nil {
			return fmt.Errorf("copy %q: %w", path, err)
		}
		return nil
	})
}

func main() {
	if len(os.Args) != 3 {
		usage()
	}
	image, skelDir := os.Args[1], os.Args[2]

	out, err := os.Create(image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkramdisk: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	if err := addFiles(tw, skelDir); err != nil {
		fmt.Fprintf(os.Stderr, "mkramdisk: %v\n", err)
		os.Exit(1)
	}
	if err := tw.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "mkramdisk: %v\n", err)
		os.Exit(1)
	}
}
