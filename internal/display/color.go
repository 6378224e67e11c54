package display

import (
	"strconv"
	"strings"

	"github.com/wfunc/coin-bank/internal/errors"
)

// Color RGB颜色
type Color struct {
	R, G, B uint8
}

// 常用颜色
var (
	Black = Color{}
	White = Color{R: 255, G: 255, B: 255}
)

// IsBlack 是否为熄灭状态
func (c Color) IsBlack() bool {
	return c == Black
}

// Hex 输出 #RRGGBB 形式
func (c Color) Hex() string {
	const digits = "0123456789ABCDEF"
	buf := []byte{'#', 0, 0, 0, 0, 0, 0}
	for i, v := range [3]uint8{c.R, c.G, c.B} {
		buf[1+i*2] = digits[v>>4]
		buf[2+i*2] = digits[v&0x0F]
	}
	return string(buf)
}

// ParseColor 解析 #RRGGBB 或 RRGGBB
func ParseColor(s string) (Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return Color{}, errors.Newf(errors.ErrInvalidParam, "颜色格式错误: %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, errors.Wrapf(err, errors.ErrInvalidParam, "颜色格式错误: %q", s)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}
