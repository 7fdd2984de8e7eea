// Package validator 提供了贷款与批次输入字段的合法性校验工具函数。
package validator

import (
	"strings"
)

// IsEmpty 判断去空格后的字符串是否为空。
func IsEmpty(val string) bool {
	return strings.TrimSpace(val) == ""
}

// IsValidLength 校验字符串是否在指定长度闭区间内。
func IsValidLength(val string, minLen, maxLen int) bool {
	length := len([]rune(val))

	return length >= minLen && length <= maxLen
}

// IsPositive 判断数字是否为正数。
func IsPositive(num int64) bool {
	return num > 0
}

// IsNonNegative 判断数字是否为非负数。
func IsNonNegative(num int64) bool {
	return num >= 0
}

// IsInRange 校验数字是否在指定闭区间内。
func IsInRange(num, minVal, maxVal int64) bool {
	return num >= minVal && num <= maxVal
}

// IsValidRate 校验利率/折现率是否落在 [0, 1] 闭区间内（年化比例，非百分数）。
func IsValidRate(rate float64) bool {
	return rate >= 0 && rate <= 1
}

// IsValidFICO 校验 FICO 信用分数是否落在常规 300-850 区间。
func IsValidFICO(score int) bool {
	return score >= 300 && score <= 850
}

// IsValidLTV 校验贷款价值比是否落在合理区间，容忍二押叠加后略微超过 1。
func IsValidLTV(ltv float64) bool {
	return ltv > 0 && ltv <= 2.0
}
