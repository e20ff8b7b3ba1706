// Command tbbridge builds the shared library that lets a native training
// loop write TensorBoard event files through a flat C interface:
//
//	go build -buildmode=c-shared -o libtbbridge.so ./cmd/tbbridge
//
// Handles are opaque uintptr_t values; 0 means "no handle". Calls with an
// unknown or already closed handle are logged and ignored. Configuration is
// read from the file named by TBPROGRESS_CONFIG, or from the default search
// path, with TBPROGRESS_* environment overrides.
package main
