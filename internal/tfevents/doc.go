// Package tfevents writes and reads TensorBoard event files.
//
// An event file is a sequence of TFRecord frames, each carrying one
// serialized tensorflow.Event message:
//
//	uint64 length | uint32 masked_crc32c(length) | data | uint32 masked_crc32c(data)
//
// Events are encoded with protowire directly, so the package carries no
// generated protobuf code. Only the fields TensorBoard needs for scalar
// curves and graph display are supported.
package tfevents
