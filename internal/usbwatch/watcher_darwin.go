package usbwatch

import (
	"context"
	"log"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// CoreFoundation and IOKit handle types.
type (
	cfAllocatorRef  uintptr
	cfDictionaryRef uintptr
	cfIndex         int64
	cfNumberRef     uintptr
	cfNumberType    = cfIndex
	cfRunLoopRef    uintptr
	cfStringRef     uintptr
	cfTypeRef       uintptr

	cfStringEncoding uint32

	ioHIDDeviceRef  uintptr
	ioHIDManagerRef uintptr
	ioOptionBits    uint32
	ioReturn        int32
)

const (
	kCFAllocatorDefault   cfAllocatorRef  = 0
	kCFNumberSInt16Type   cfIndex         = 2
	kCFStringEncodingUTF8 cfStringEncoding = 0x08000100

	kIOHIDOptionsTypeNone ioOptionBits = 0
	kIOReturnSuccess      ioReturn     = 0
)

var (
	cfNumberGetValue        func(number cfNumberRef, theType cfNumberType, valuePtr unsafe.Pointer) bool
	cfRelease               func(cf cfTypeRef)
	cfRunLoopGetCurrent     func() cfRunLoopRef
	cfRunLoopRun            func()
	cfRunLoopStop           func(runLoop cfRunLoopRef)
	cfStringCreateWithBytes func(alloc cfAllocatorRef, bytes []byte, numBytes cfIndex, encoding cfStringEncoding, isExternalRepresentation bool) cfStringRef

	ioHIDDeviceGetProperty                     func(device ioHIDDeviceRef, key cfStringRef) cfTypeRef
	ioHIDManagerClose                          func(manager ioHIDManagerRef, options ioOptionBits) ioReturn
	ioHIDManagerCreate                         func(allocator cfAllocatorRef, options ioOptionBits) ioHIDManagerRef
	ioHIDManagerOpen                           func(manager ioHIDManagerRef, options ioOptionBits) ioReturn
	ioHIDManagerSetDeviceMatching              func(manager ioHIDManagerRef, matching cfDictionaryRef)
	ioHIDManagerRegisterDeviceMatchingCallback func(manager ioHIDManagerRef, callback uintptr, context unsafe.Pointer)
	ioHIDManagerScheduleWithRunLoop            func(manager ioHIDManagerRef, runLoop cfRunLoopRef, runLoopMode cfStringRef)
)

var kCFRunLoopDefaultMode uintptr

func init() {
	cf, err := purego.Dlopen("/System/Library/Frameworks/CoreFoundation.framework/CoreFoundation", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
	if err != nil {
		panic(err)
	}

	purego.RegisterLibFunc(&cfNumberGetValue, cf, "CFNumberGetValue")
	purego.RegisterLibFunc(&cfRelease, cf, "CFRelease")
	purego.RegisterLibFunc(&cfRunLoopGetCurrent, cf, "CFRunLoopGetCurrent")
	purego.RegisterLibFunc(&cfRunLoopRun, cf, "CFRunLoopRun")
	purego.RegisterLibFunc(&cfRunLoopStop, cf, "CFRunLoopStop")
	purego.RegisterLibFunc(&cfStringCreateWithBytes, cf, "CFStringCreateWithBytes")

	kCFRunLoopDefaultMode, err = purego.Dlsym(cf, "kCFRunLoopDefaultMode")
	if err != nil {
		panic(err)
	}

	iokit, err := purego.Dlopen("/System/Library/Frameworks/IOKit.framework/IOKit", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
	if err != nil {
		panic(err)
	}

	purego.RegisterLibFunc(&ioHIDDeviceGetProperty, iokit, "IOHIDDeviceGetProperty")
	purego.RegisterLibFunc(&ioHIDManagerClose, iokit, "IOHIDManagerClose")
	purego.RegisterLibFunc(&ioHIDManagerCreate, iokit, "IOHIDManagerCreate")
	purego.RegisterLibFunc(&ioHIDManagerOpen, iokit, "IOHIDManagerOpen")
	purego.RegisterLibFunc(&ioHIDManagerSetDeviceMatching, iokit, "IOHIDManagerSetDeviceMatching")
	purego.RegisterLibFunc(&ioHIDManagerRegisterDeviceMatchingCallback, iokit, "IOHIDManagerRegisterDeviceMatchingCallback")
	purego.RegisterLibFunc(&ioHIDManagerScheduleWithRunLoop, iokit, "IOHIDManagerScheduleWithRunLoop")
}

// watcherCtx holds the state passed to the IOKit callback.
type watcherCtx struct {
	ch      chan<- uint16
	vendors map[uint16]bool
}

func deviceMatchingCallback(_ unsafe.Pointer, _ ioReturn, _ uintptr, device ioHIDDeviceRef) {
	wctx := callbackCtx
	if wctx == nil {
		return
	}

	vid, ok := getDeviceVendorID(device)
	if !ok || !wctx.vendors[vid] {
		return
	}

	select {
	case wctx.ch <- vid:
	default:
	}
}

// callbackCtx keeps the active watcher reachable while the callback is
// registered. Only one watcher runs at a time.
var callbackCtx *watcherCtx

var deviceMatchingCallbackPtr = purego.NewCallback(deviceMatchingCallback)

func getDeviceVendorID(device ioHIDDeviceRef) (uint16, bool) {
	key := []byte("VendorID")
	skey := cfStringCreateWithBytes(kCFAllocatorDefault, key, cfIndex(len(key)), kCFStringEncodingUTF8, false)
	if skey == 0 {
		return 0, false
	}
	defer cfRelease(cfTypeRef(skey))

	prop := ioHIDDeviceGetProperty(device, skey)
	if prop == 0 {
		return 0, false
	}

	var vid uint16
	if !cfNumberGetValue(cfNumberRef(prop), kCFNumberSInt16Type, unsafe.Pointer(&vid)) {
		return 0, false
	}
	return vid, true
}

// arrivals reports the vendor ID of each matching HID device that appears,
// using IOKit's matching callback so waiting costs no CPU. IOKit also
// reports devices already attached when the manager opens.
func arrivals(ctx context.Context, vendors map[uint16]bool) <-chan uint16 {
	ch := make(chan uint16, 8)
	callbackCtx = &watcherCtx{ch: ch, vendors: vendors}

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(ch)

		mgr := ioHIDManagerCreate(kCFAllocatorDefault, kIOHIDOptionsTypeNone)
		if rv := ioHIDManagerOpen(mgr, kIOHIDOptionsTypeNone); rv != kIOReturnSuccess {
			log.Printf("usbwatch: failed to open IOHIDManager: 0x%08x", rv)
			return
		}

		// Match all HID devices; vendors are filtered in the callback.
		ioHIDManagerSetDeviceMatching(mgr, 0)

		rl := cfRunLoopGetCurrent()
		ioHIDManagerScheduleWithRunLoop(mgr, rl, **(**cfStringRef)(unsafe.Pointer(&kCFRunLoopDefaultMode)))
		ioHIDManagerRegisterDeviceMatchingCallback(mgr, deviceMatchingCallbackPtr, nil)

		go func() {
			<-ctx.Done()
			cfRunLoopStop(rl)
		}()

		log.Printf("usbwatch: watching %d vendor(s)", len(vendors))
		cfRunLoopRun()

		ioHIDManagerClose(mgr, kIOHIDOptionsTypeNone)
		cfRelease(cfTypeRef(mgr))
		callbackCtx = nil
		log.Println("usbwatch: stopped")
	}()

	return ch
}

// Supported reports whether arrivals are delivered on this platform.
const Supported = true
