package display

const (
	glyphWidth     = 3
	glyphHeight    = 5
	digitPitch     = glyphWidth + 1
	separatorWidth = 1
	separatorPitch = separatorWidth + 1
	minorDigits    = 2
)

// digitGlyphs 0-9 的 3x5 字模，每行低3位有效，bit2为最左列
var digitGlyphs = [10][glyphHeight]uint8{
	{0b111, 0b101, 0b101, 0b101, 0b111}, // 0
	{0b010, 0b110, 0b010, 0b010, 0b111}, // 1
	{0b111, 0b001, 0b111, 0b100, 0b111}, // 2
	{0b111, 0b001, 0b111, 0b001, 0b111}, // 3
	{0b101, 0b101, 0b111, 0b001, 0b001}, // 4
	{0b111, 0b100, 0b111, 0b001, 0b111}, // 5
	{0b111, 0b100, 0b111, 0b101, 0b111}, // 6
	{0b111, 0b001, 0b001, 0b001, 0b001}, // 7
	{0b111, 0b101, 0b111, 0b101, 0b111}, // 8
	{0b111, 0b101, 0b111, 0b001, 0b111}, // 9
}

// separatorGlyph 小数点 1x5
var separatorGlyph = [glyphHeight]uint8{0, 0, 0, 0, 1}

// GlyphOn 查询数字字模某点是否点亮
func GlyphOn(digit, col, row int) bool {
	if digit < 0 || digit > 9 || col < 0 || col >= glyphWidth || row < 0 || row >= glyphHeight {
		return false
	}
	return digitGlyphs[digit][row]&(1<<(glyphWidth-1-col)) != 0
}

func drawDigit(f *Frame, digit, x0, y0 int, c Color) {
	for row := 0; row < glyphHeight; row++ {
		for col := 0; col < glyphWidth; col++ {
			if GlyphOn(digit, col, row) {
				f.Set(x0+col, y0+row, c)
			}
		}
	}
}

func drawSeparator(f *Frame, x0, y0 int, c Color) {
	for row := 0; row < glyphHeight; row++ {
		if separatorGlyph[row] != 0 {
			f.Set(x0, y0+row, c)
		}
	}
}
