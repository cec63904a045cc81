package service

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// 用户名长度限制（字符数）
const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
)

var (
	shareCodePattern = regexp.MustCompile(`^[A-Z]{3}-[0-9]{3}$`)
	usernamePattern  = regexp.MustCompile(`^[A-Za-z0-9 _-]+$`)
)

// ValidateShareCode 规范化并校验共享码。
// 去除首尾空白、转为大写后必须严格匹配 "3 字母-3 数字" 格式，
// 否则返回 ErrInvalidFormat。成功结果再次校验仍得到相同值（幂等）。
func ValidateShareCode(input string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(input))
	if !shareCodePattern.MatchString(code) {
		return "", ErrInvalidFormat
	}
	return code, nil
}

// ValidateUsername 规范化并校验用户名。
// 去除首尾空白后长度须在 3-20 之间，且仅含字母、数字、空格、下划线、连字符。
func ValidateUsername(input string) (string, error) {
	name := strings.TrimSpace(input)
	if len(name) < MinUsernameLength || len(name) > MaxUsernameLength {
		return "", ErrInvalidUsername
	}
	if !usernamePattern.MatchString(name) {
		return "", ErrInvalidUsername
	}
	return name, nil
}

// SanitizeCoordinates 校验一对经纬度。
// 输入来自未知类型的 JSON 载荷，先尝试数值化，再检查范围：
// 纬度 ∈ [-90, 90]，经度 ∈ [-180, 180]。任一项非法时整对拒绝，
// 返回 ErrInvalidCoordinates。纯函数，无副作用。
func SanitizeCoordinates(lat, lon interface{}) (float64, float64, error) {
	latF, ok := coerceFloat(lat)
	if !ok {
		return 0, 0, ErrInvalidCoordinates
	}
	lonF, ok := coerceFloat(lon)
	if !ok {
		return 0, 0, ErrInvalidCoordinates
	}
	if latF < -90 || latF > 90 || lonF < -180 || lonF > 180 {
		return 0, 0, ErrInvalidCoordinates
	}
	return latF, lonF, nil
}

// CoerceHeading 尝试将可选的朝向值数值化。
// 朝向不做范围校验；缺失或非数值返回 nil。
func CoerceHeading(heading interface{}) *float64 {
	if heading == nil {
		return nil
	}
	h, ok := coerceFloat(heading)
	if !ok {
		return nil
	}
	return &h
}

// coerceFloat 将 JSON 解码可能产生的数值表示统一为 float64。
// NaN 与 Inf 视为非法。
func coerceFloat(v interface{}) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
