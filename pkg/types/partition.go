package types

// PartitionerKind names the key-hashing strategy used to order partitions.
type PartitionerKind string

const (
	// PartitionerMurmur3 orders partitions by the 64-bit Murmur3 token.
	PartitionerMurmur3 PartitionerKind = "murmur3"

	// PartitionerRandom orders partitions by the MD5 digest of the key.
	PartitionerRandom PartitionerKind = "random"

	// PartitionerByteOrdered orders partitions by raw key bytes.
	PartitionerByteOrdered PartitionerKind = "byteordered"
)

// CompressionKind names the Data component block codec.
type CompressionKind string

const (
	CompressionSnappy CompressionKind = "snappy"
	CompressionZstd   CompressionKind = "zstd"
	CompressionNone   CompressionKind = "none"
)

// ErrorPolicy decides what happens to the run when a row fails.
type ErrorPolicy string

const (
	// PolicyAbort stops the run at the first failing row.
	PolicyAbort ErrorPolicy = "abort"

	// PolicySkip logs the failing row and continues.
	PolicySkip ErrorPolicy = "skip"
)
