package display

// Options 渲染参数
type Options struct {
	Width         int
	Height        int
	Color         Color
	ErrorColor    Color
	MinorPerMajor uint32 // 主单位与辅单位换算，默认100
}

// Renderer 把余额排版为 "主单位.两位辅单位"，右对齐、垂直居中
type Renderer struct {
	opts   Options
	budget int
	yOff   int
}

// NewRenderer 创建渲染器
func NewRenderer(opts Options) *Renderer {
	if opts.MinorPerMajor == 0 {
		opts.MinorPerMajor = 100
	}
	budget := (opts.Width - separatorPitch - minorDigits*digitPitch) / digitPitch
	if budget < 0 {
		budget = 0
	}
	return &Renderer{
		opts:   opts,
		budget: budget,
		yOff:   (opts.Height - glyphHeight) / 2,
	}
}

// MajorBudget 主单位最多可显示的位数
func (r *Renderer) MajorBudget() int {
	return r.budget
}

// layout 计算要显示的数字，返回主单位低位在前的数字及位数
func (r *Renderer) layout(total uint32) (major [10]int, n int, minor [minorDigits]int) {
	m := total / r.opts.MinorPerMajor
	rem := total % r.opts.MinorPerMajor
	minor[0] = int(rem % 10)
	minor[1] = int(rem / 10 % 10)

	// 主单位至少显示一位0，超出预算只保留低位
	for {
		if n == r.budget {
			break
		}
		major[n] = int(m % 10)
		n++
		m /= 10
		if m == 0 {
			break
		}
	}
	return major, n, minor
}

// Text 屏幕上实际显示的文本（截断后）
func (r *Renderer) Text(total uint32) string {
	major, n, minor := r.layout(total)
	buf := make([]byte, 0, n+1+minorDigits)
	for i := n - 1; i >= 0; i-- {
		buf = append(buf, byte('0'+major[i]))
	}
	buf = append(buf, '.', byte('0'+minor[1]), byte('0'+minor[0]))
	return string(buf)
}

// Render 清空帧并绘制余额
func (r *Renderer) Render(f *Frame, total uint32) {
	r.draw(f, total, r.opts.Color)
}

// RenderError 用错误颜色绘制余额（扣减失败提示）
func (r *Renderer) RenderError(f *Frame, total uint32) {
	r.draw(f, total, r.opts.ErrorColor)
}

func (r *Renderer) draw(f *Frame, total uint32, c Color) {
	f.Clear()
	major, n, minor := r.layout(total)

	// 从右向左排版，cursor为下一个字符右侧的空列
	cursor := f.Width()
	place := func(width int) int {
		x0 := cursor - width
		cursor = x0 - 1
		return x0
	}

	for _, d := range minor {
		drawDigit(f, d, place(glyphWidth), r.yOff, c)
	}
	drawSeparator(f, place(separatorWidth), r.yOff, c)
	for i := 0; i < n; i++ {
		drawDigit(f, major[i], place(glyphWidth), r.yOff, c)
	}
}
