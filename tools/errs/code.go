package errs

// 错误码分段：
// 500        服务内部错误
// 101xx      鉴权/会话
// 102xx      网络与后端调用
// 103xx      本地存储
// 104xx      实时订阅
const (
	ServerInternalError = 500

	ArgsError    = 10001
	TokenExpired = 10101

	NetworkError   = 10201
	RecordNotFound = 10202

	StorageCorrupt = 10301

	SubscriptionMismatch = 10401
	StaleCallback        = 10402
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrTokenExpired   = NewCodeError(TokenExpired, "TokenExpiredError")

	// ErrNetwork 历史拉取/发送失败：可重试，调用方状态不前进
	ErrNetwork        = NewCodeError(NetworkError, "NetworkError")
	ErrRecordNotFound = NewCodeError(RecordNotFound, "RecordNotFoundError")

	// ErrStorageCorrupt 持久化 JSON 解析失败：重置对应桶，不致命
	ErrStorageCorrupt = NewCodeError(StorageCorrupt, "StorageCorruptError")

	// ErrSubscriptionMismatch 退订时 handler 引用未找到：仅记录日志
	ErrSubscriptionMismatch = NewCodeError(SubscriptionMismatch, "SubscriptionMismatchError")

	// ErrStaleCallback 身份/会话已切换后的迟到回调：静默丢弃
	ErrStaleCallback = NewCodeError(StaleCallback, "StaleCallbackError")
)
