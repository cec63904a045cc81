package service_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yfffy/simplemeet/internal/service"
)

// --- 测试 ValidateShareCode ---

func TestValidateShareCode_NormalizesInput(t *testing.T) {
	// 小写加首尾空白应被规范化为标准形式
	code, err := service.ValidateShareCode(" abc-123 ")
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", code)

	// 规范化结果再次校验应得到相同值（幂等）
	again, err := service.ValidateShareCode(code)
	require.NoError(t, err)
	assert.Equal(t, code, again)
}

func TestValidateShareCode_RejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"字母数字位数不符", "AB-1234"},
		{"缺少连字符", "ABC123"},
		{"空字符串", ""},
		{"纯空白", "   "},
		{"内部空白", "AB C-123"},
		{"数字在前", "123-ABC"},
		{"过长", "ABCD-1234"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.ValidateShareCode(tc.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, service.ErrInvalidFormat), "应返回 ErrInvalidFormat")
		})
	}
}

// --- 测试 ValidateUsername ---

func TestValidateUsername_TrimsWhitespace(t *testing.T) {
	name, err := service.ValidateUsername("  TestUser  ")
	require.NoError(t, err)
	assert.Equal(t, "TestUser", name)
}

func TestValidateUsername_AllowsPermittedCharacters(t *testing.T) {
	name, err := service.ValidateUsername("User_42 -x")
	require.NoError(t, err)
	assert.Equal(t, "User_42 -x", name)
}

func TestValidateUsername_RejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"过短", "ab"},
		{"过长", "abcdefghijklmnopqrstu"}, // 21 个字符
		{"含特殊字符", "<script>"},
		{"含标点", "user!"},
		{"空字符串", ""},
		{"纯空白", "    "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.ValidateUsername(tc.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, service.ErrInvalidUsername), "应返回 ErrInvalidUsername")
		})
	}
}

// --- 测试 SanitizeCoordinates ---

func TestSanitizeCoordinates_AcceptsValidPair(t *testing.T) {
	lat, lon, err := service.SanitizeCoordinates(40.7128, -74.0060)
	require.NoError(t, err)
	assert.InDelta(t, 40.7128, lat, 1e-9)
	assert.InDelta(t, -74.0060, lon, 1e-9)
}

func TestSanitizeCoordinates_AcceptsBoundaryValues(t *testing.T) {
	lat, lon, err := service.SanitizeCoordinates(-90, 180)
	require.NoError(t, err)
	assert.Equal(t, -90.0, lat)
	assert.Equal(t, 180.0, lon)
}

func TestSanitizeCoordinates_CoercesStringInput(t *testing.T) {
	// JSON 解码可能把数值送成字符串，应被数值化后接受
	lat, lon, err := service.SanitizeCoordinates("51.5074", "-0.1278")
	require.NoError(t, err)
	assert.InDelta(t, 51.5074, lat, 1e-9)
	assert.InDelta(t, -0.1278, lon, 1e-9)
}

func TestSanitizeCoordinates_RejectsInvalidPair(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon interface{}
	}{
		{"纬度超上限", 91, 0},
		{"纬度超下限", -90.0001, 0},
		{"经度超上限", 0, 180.5},
		{"经度超下限", 0, -181},
		{"非数值字符串", "north", 0},
		{"nil 值", nil, 10.0},
		{"布尔值", true, 10.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := service.SanitizeCoordinates(tc.lat, tc.lon)
			require.Error(t, err)
			assert.True(t, errors.Is(err, service.ErrInvalidCoordinates), "应返回 ErrInvalidCoordinates")
		})
	}
}

// --- 测试 CoerceHeading ---

func TestCoerceHeading(t *testing.T) {
	// 缺失或非数值的朝向返回 nil，不报错
	assert.Nil(t, service.CoerceHeading(nil))
	assert.Nil(t, service.CoerceHeading("east"))

	h := service.CoerceHeading(90.0)
	require.NotNil(t, h)
	assert.Equal(t, 90.0, *h)

	h = service.CoerceHeading("270")
	require.NotNil(t, h)
	assert.Equal(t, 270.0, *h)
}
