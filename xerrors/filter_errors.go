package xerrors

var (
	// ErrInvalidItemType 元素无法规范化为字节序列。
	ErrInvalidItemType = New(ErrInvalidArg, 400101, "invalid item type", "supported kinds: text, integer, bytes", nil)
	// ErrInvalidOptions 过滤器构造参数非法。
	ErrInvalidOptions = New(ErrInvalidArg, 400102, "invalid filter options", "check capacity, load factor, bucket size and tag width", nil)
	// ErrBitOutOfRange 位地址或位宽超出存储可寻址范围。
	ErrBitOutOfRange = New(ErrInvalidArg, 400103, "bit range out of bounds", "offset or width exceeds the store address space", nil)
	// ErrCapacityExhausted 位移次数耗尽且牺牲槽已被占用。
	ErrCapacityExhausted = New(ErrLimitExceeded, 429101, "cuckoo filter capacity exhausted", "rebuild the filter with a larger capacity", nil)
	// ErrStoreUnavailable 位存储后端不可用。
	ErrStoreUnavailable = New(ErrUnavailable, 503101, "bit store unavailable", "backend request failed after retries", nil)
	// ErrOperationTimeout 操作被取消或超时。
	ErrOperationTimeout = New(ErrDeadlineExceeded, 504101, "filter operation timed out", "context cancelled or deadline exceeded", nil)
)
