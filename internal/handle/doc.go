// Package handle maps opaque integer handles to the writers, adapters and
// models a foreign caller holds across the C boundary. Handles are never
// reused; 0 is never issued. Operations on an unknown handle return
// ErrUnknownHandle instead of touching freed memory.
package handle
