// Package klog is the kernel's bare printf-style logger. The teacher
// logs by calling fmt.Printf/fmt.Println directly at every call site
// (e.g. mem.Phys_init's "Reserved %v pages" line); corvid keeps that
// idiom but funnels it through one io.Writer so the boot sequence can
// point it at the framebuffer console once one exists, and tests can
// point it at a bytes.Buffer.
package klog

import (
	"fmt"
	"io"
	"os"
)

// Out is where kernel log lines go. Defaults to os.Stderr so early boot
// code (before the console is mapped) still produces output; cmd/kernel
// repoints it at the console writer as soon as the console exists,
// before devfs is created.
var Out io.Writer = os.Stderr

// Printf writes a formatted line, exactly like the teacher's bare
// fmt.Printf call sites.
func Printf(format string, args ...any) {
	fmt.Fprintf(Out, format, args...)
}

// Println writes a line.
func Println(args ...any) {
	fmt.Fprintln(Out, args...)
}
