//go:build windows

package stream

import "os"

func interruptSignal() os.Signal { return os.Interrupt }
