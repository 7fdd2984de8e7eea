package xerrors

var (
	// ErrInvalidInput 贷款或批次输入数据未通过结构校验（必填字段缺失、数值越界等）。
	ErrInvalidInput = New(ErrInvalidArg, 400101, "invalid loan input", "check loan and package field bounds", nil)
	// ErrMissingArtifact 模型仓库中找不到请求的模型 artifact 文件。
	ErrMissingArtifact = New(ErrNotFound, 404101, "missing model artifact", "artifact file not found under configured root", nil)
	// ErrBadArtifactFormat 模型 artifact 文件存在但内容无法解析或结构不合法。
	ErrBadArtifactFormat = New(ErrInvalidArg, 400102, "bad artifact format", "artifact file failed schema validation", nil)
	// ErrVariantNotFound 请求的曲线/模型变体未在当前已加载的 Registry 中注册。
	ErrVariantNotFound = New(ErrNotFound, 404102, "model variant not found", "requested curve or model variant is not loaded", nil)
	// ErrCancelled 计算在完成前被调用方取消（ctx.Done）。
	ErrCancelled = New(ErrUnavailable, 499101, "valuation cancelled", "context was cancelled before completion", nil)
	// ErrTimeout 计算超出了配置的截止时间。
	ErrTimeout = New(ErrDeadlineExceeded, 504101, "valuation timed out", "computation exceeded the configured deadline", nil)
	// ErrNumeric 单笔贷款的现金流投影遇到数值异常（NaN、发散、负余额）。
	ErrNumeric = New(ErrInternal, 500101, "numeric error in projection", "cash-flow projection produced a non-finite or inconsistent result", nil)
)

// ModelFallback 不是失败，而是分段模型从较高优先级的分层退化到较低分层
// （决策树→规则表→硬编码分桶），或缺失输入特征被填补时的诊断记录；
// 它写入结构化日志并随估值结果返回，而不作为 error 上报。
type ModelFallback struct {
	LoanID   string
	FromTier string
	ToTier   string
	Reason   string
}
