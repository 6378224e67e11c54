// Package display 负责把余额渲染到LED点阵。
//
// 逻辑坐标原点在左上角；物理灯带从右下角开始按蛇形走线，
// 偶数物理行从左到右，奇数物理行从右到左。
package display

// Sink 点阵输出能力：按线性下标设置颜色并整帧刷新
type Sink interface {
	SetPixel(index int, c Color)
	Show() error
}

// Frame 像素帧，按物理顺序存储
type Frame struct {
	width  int
	height int
	pixels []Color
}

// NewFrame 创建全黑帧
func NewFrame(width, height int) *Frame {
	return &Frame{
		width:  width,
		height: height,
		pixels: make([]Color, width*height),
	}
}

// Width 宽度
func (f *Frame) Width() int { return f.width }

// Height 高度
func (f *Frame) Height() int { return f.height }

// Len 像素总数
func (f *Frame) Len() int { return len(f.pixels) }

// Index 逻辑坐标到物理下标：先双轴翻转，再蛇形扫描
func (f *Frame) Index(x, y int) int {
	return SerpentineIndex(f.width, f.height, x, y)
}

// SerpentineIndex 纯函数形式的物理下标映射
func SerpentineIndex(width, height, x, y int) int {
	px := width - 1 - x
	py := height - 1 - y
	if py%2 == 0 {
		return py*width + px
	}
	return py*width + (width - 1 - px)
}

// InBounds 判断逻辑坐标是否在点阵内
func (f *Frame) InBounds(x, y int) bool {
	return x >= 0 && x < f.width && y >= 0 && y < f.height
}

// Set 设置逻辑坐标颜色，越界坐标直接丢弃
func (f *Frame) Set(x, y int, c Color) {
	if !f.InBounds(x, y) {
		return
	}
	f.pixels[f.Index(x, y)] = c
}

// At 读取逻辑坐标颜色，越界返回黑色
func (f *Frame) At(x, y int) Color {
	if !f.InBounds(x, y) {
		return Black
	}
	return f.pixels[f.Index(x, y)]
}

// Fill 整帧填充
func (f *Frame) Fill(c Color) {
	for i := range f.pixels {
		f.pixels[i] = c
	}
}

// Clear 清空
func (f *Frame) Clear() {
	f.Fill(Black)
}

// Pixels 物理顺序像素（只读视图）
func (f *Frame) Pixels() []Color {
	return f.pixels
}

// Flush 把整帧写入输出设备
func (f *Frame) Flush(sink Sink) error {
	for i, c := range f.pixels {
		sink.SetPixel(i, c)
	}
	return sink.Show()
}

// Lit 已点亮像素数
func (f *Frame) Lit() int {
	n := 0
	for _, c := range f.pixels {
		if !c.IsBlack() {
			n++
		}
	}
	return n
}
