package espeak

/*
#include <espeak-ng/speak_lib.h>
*/
import "C"

import (
	"context"
	"runtime/cgo"
	"unsafe"
)

// synthBuffer collects the chunks of one espeak_Synth call.
type synthBuffer struct {
	ctx     context.Context
	samples []int16
}

//export voxtalkSynthCallback
func voxtalkSynthCallback(wav *C.short, n C.int, events *C.espeak_EVENT) C.int {
	if events == nil || events.user_data == nil {
		return 0
	}
	buf, ok := cgo.Handle(uintptr(events.user_data)).Value().(*synthBuffer)
	if !ok {
		return 1
	}
	if wav != nil && n > 0 {
		buf.samples = append(buf.samples, unsafe.Slice((*int16)(unsafe.Pointer(wav)), int(n))...)
	}
	// Non-zero stops synthesis.
	if buf.ctx.Err() != nil {
		return 1
	}
	return 0
}
