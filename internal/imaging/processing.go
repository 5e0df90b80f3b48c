package imaging

// ROI 定义画面中的相对感兴趣区域，各字段为 0~1 的比例值
type ROI struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// ExtractROI 按相对比例从帧中裁出番号区域
// 区域为空或越界时返回原帧，由后续识别层自行判定
func ExtractROI(f Frame, roi ROI) Frame {
	if f.Empty() || roi.Width <= 0 || roi.Height <= 0 {
		return f
	}

	x := int(roi.X * float64(f.Width))
	y := int(roi.Y * float64(f.Height))
	w := int(roi.Width * float64(f.Width))
	h := int(roi.Height * float64(f.Height))

	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > f.Width || y+h > f.Height {
		return f
	}

	pixels := make([]byte, w*h)
	for row := 0; row < h; row++ {
		copy(pixels[row*w:(row+1)*w], f.Pixels[(y+row)*f.Width+x:(y+row)*f.Width+x+w])
	}
	return Frame{Width: w, Height: h, Pixels: pixels}
}

// Preprocess 对番号区域做识别前的预处理
// 先做均值降噪，再按 Otsu 风格的全局阈值二值化，提高 OCR 对比度
func Preprocess(f Frame) Frame {
	if f.Empty() {
		return f
	}

	smoothed := boxBlur(f)
	threshold := globalThreshold(smoothed)

	pixels := make([]byte, len(smoothed.Pixels))
	for i, v := range smoothed.Pixels {
		if v >= threshold {
			pixels[i] = 255
		} else {
			pixels[i] = 0
		}
	}
	return Frame{Width: smoothed.Width, Height: smoothed.Height, Pixels: pixels}
}

// boxBlur 做 3x3 均值滤波降噪
func boxBlur(f Frame) Frame {
	pixels := make([]byte, len(f.Pixels))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			var sum, n int
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= 0 && ny >= 0 && nx < f.Width && ny < f.Height {
						sum += int(f.At(nx, ny))
						n++
					}
				}
			}
			pixels[y*f.Width+x] = byte(sum / n)
		}
	}
	return Frame{Width: f.Width, Height: f.Height, Pixels: pixels}
}

// globalThreshold 用灰度均值作为全局二值化阈值
func globalThreshold(f Frame) byte {
	var sum int
	for _, v := range f.Pixels {
		sum += int(v)
	}
	return byte(sum / len(f.Pixels))
}
