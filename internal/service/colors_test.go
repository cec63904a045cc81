package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yfffy/simplemeet/internal/service"
)

func TestNextColor_CyclesThroughPalette(t *testing.T) {
	size := service.PaletteSize()
	assert.Equal(t, 10, size)

	first := service.NextColor(0)
	assert.NotEmpty(t, first)

	// 第 size 个成员回绕到调色板首色
	assert.Equal(t, first, service.NextColor(size))
	assert.Equal(t, service.NextColor(3), service.NextColor(size+3))
}

func TestNextColor_DistinctWithinOneCycle(t *testing.T) {
	// 同一轮内的颜色互不相同
	seen := make(map[string]bool)
	for i := 0; i < service.PaletteSize(); i++ {
		c := service.NextColor(i)
		assert.False(t, seen[c], "颜色 %s 在一轮内重复", c)
		seen[c] = true
	}
}

func TestNextColor_NegativeCountFallsBackToFirst(t *testing.T) {
	assert.Equal(t, service.NextColor(0), service.NextColor(-5))
}
