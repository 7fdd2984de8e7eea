// Package loan 定义了估值内核的输入实体：单笔贷款、贷款批次与模拟配置，
// 并提供按揭等额本息摊还公式。
package loan

import "math"

// NoScoreSentinel 是信用分数字段的哨兵值，代表"无评分"。
const NoScoreSentinel = 555

// ForeclosureState 描述止赎流程所在的司法管辖类型，决定止赎延迟时长。
type ForeclosureState string

const (
	Judicial    ForeclosureState = "judicial"
	NonJudicial ForeclosureState = "non_judicial"
)

// Loan 是单次估值调用的输入实体，调用期间视为不可变。
type Loan struct {
	ID              string
	UPB             float64 // 未偿本金余额
	NoteRate        float64 // 年化票面利率，小数形式 (例如 0.072)
	OriginalTerm    int     // 原始期限（月）
	RemainingTerm   int     // 剩余期限（月），必须 ≥ 1 且 ≤ OriginalTerm
	AgeMonths       int     // 账龄（月），≥ 0
	CreditScore     int     // 300-850，NoScoreSentinel 表示无评分
	LTV             float64 // 贷款价值比，小数形式 (例如 0.80)

	// 可选字段，使用指针以区分"缺失"与"零值"。
	OriginationYear *int
	DTI             *float64
	PropertyState   *string
	ITIN            *bool

	// PropertyValue 补充字段：源自 original_source 的房产评估价值，
	// 用于 C4 违约回收现金流 (recovery_rate · property_value)。缺失时
	// 由 UPB/LTV 派生，并作为 ModelFallback 事件记录。
	PropertyValue float64

	// ForeclosureState 补充字段：司法/非司法止赎州分类，决定止赎延迟。
	// 缺失或无法识别时默认为 NonJudicial。
	ForeclosureState ForeclosureState
}

// EffectivePropertyValue 返回房产评估价值；若未显式设置（≤0），按 UPB/LTV 派生。
// 派生发生时，调用方应记录一次 ModelFallback。
func (l Loan) EffectivePropertyValue() (value float64, imputed bool) {
	if l.PropertyValue > 0 {
		return l.PropertyValue, false
	}
	if l.LTV <= 0 {
		return l.UPB, true
	}
	return l.UPB / l.LTV, true
}

// EffectiveDTI 返回债务收入比，缺失时默认 36。
func (l Loan) EffectiveDTI() (value float64, imputed bool) {
	if l.DTI != nil {
		return *l.DTI, false
	}
	return 36, true
}

// EffectiveITIN 返回 ITIN 标志，缺失时默认 false。
func (l Loan) EffectiveITIN() (value bool, imputed bool) {
	if l.ITIN != nil {
		return *l.ITIN, false
	}
	return false, true
}

// MonthlyRate 返回月化票面利率。
func (l Loan) MonthlyRate() float64 {
	return l.NoteRate / 12
}

// ScheduledPayment 按标准等额本息公式计算固定月供，在剩余期限内将当前
// 余额完全摊销。r=0 与 n 退化时走闭式特殊情况。
func ScheduledPayment(balance float64, monthlyRate float64, remainingTerm int) float64 {
	if remainingTerm <= 0 {
		return 0
	}
	if remainingTerm == 1 {
		return balance * (1 + monthlyRate)
	}
	if monthlyRate == 0 {
		return balance / float64(remainingTerm)
	}
	factor := math.Pow(1+monthlyRate, float64(remainingTerm))
	return balance * monthlyRate * factor / (factor - 1)
}

// ScheduledPayment 是贷款在其剩余期限内、按票面利率计算的固定月供。
func (l Loan) ScheduledPayment() float64 {
	return ScheduledPayment(l.UPB, l.MonthlyRate(), l.RemainingTerm)
}

// Package 是一批贷款的集合，估值调用的顶层输入单位。
type Package struct {
	ID            string
	Loans         []Loan
	PurchasePrice float64 // 可选，0 表示未提供
}

// TotalUPB 返回批次内所有贷款的未偿本金余额之和。
func (p Package) TotalUPB() float64 {
	var sum float64
	for _, l := range p.Loans {
		sum += l.UPB
	}
	return sum
}
