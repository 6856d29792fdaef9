//go:build !windows

package stream

import "os"
import "syscall"

func interruptSignal() os.Signal { return syscall.SIGTERM }
