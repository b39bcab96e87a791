package pipeline

// 默认分块参数
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 30
	DefaultSeparator    = "\n"
)

// Segment 是一个分块及其在原文中的位置（以 rune 计，左闭右开）。
type Segment struct {
	Text  string
	Start int
	End   int
}

// Splitter 按分隔符把文本切成带重叠的定长分块。
//
// 文本先按分隔符切成单元（单元保留其结尾的分隔符），再贪心地把单元累加进当前分块，
// 直到再加一个单元会超过 chunkSize。下一个分块以上一个分块末尾的 overlap 个字符开头。
// 如果完整的重叠加上下一个单元放不下，重叠会缩短；单个单元本身超过 chunkSize 时，
// 该单元单独成为一个超长分块。
type Splitter struct {
	chunkSize int
	overlap   int
	separator []rune
}

// SplitterOption 配置 Splitter。
type SplitterOption func(*Splitter)

// WithChunkSize 设置分块的最大字符数。
func WithChunkSize(size int) SplitterOption {
	return func(s *Splitter) { s.chunkSize = size }
}

// WithChunkOverlap 设置相邻分块的重叠字符数。
func WithChunkOverlap(overlap int) SplitterOption {
	return func(s *Splitter) { s.overlap = overlap }
}

// WithSeparator 设置单元分隔符，空字符串表示逐字符切分。
func WithSeparator(sep string) SplitterOption {
	return func(s *Splitter) { s.separator = []rune(sep) }
}

// NewSplitter 创建 Splitter。非法的 chunkSize 回退为默认值，非法的 overlap 视为 0。
func NewSplitter(opts ...SplitterOption) *Splitter {
	s := &Splitter{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		separator: []rune(DefaultSeparator),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	if s.overlap < 0 || s.overlap >= s.chunkSize {
		s.overlap = 0
	}
	return s
}

// SplitText 使用给定参数切分文本。
func SplitText(text string, chunkSize, overlap int, separator string) []string {
	return NewSplitter(WithChunkSize(chunkSize), WithChunkOverlap(overlap), WithSeparator(separator)).Split(text)
}

// Split 返回分块文本。
func (s *Splitter) Split(text string) []string {
	segs := s.Segments(text)
	if len(segs) == 0 {
		return nil
	}
	out := make([]string, len(segs))
	for i, seg := range segs {
		out[i] = seg.Text
	}
	return out
}

// Segments 返回分块及其位置。相邻分块满足 segs[i+1].Start <= segs[i].End，
// 且 segs[i+1].Start 与 segs[i].End 之间即重叠部分，因此去掉重叠后拼接可还原原文。
func (s *Splitter) Segments(text string) []Segment {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	units := splitUnits(runes, s.separator)

	var segs []Segment
	pos := 0
	prevStart := 0
	for i := 0; i < len(units); {
		u := units[i]
		ov := 0
		if len(segs) > 0 {
			ov = min(s.overlap, pos-prevStart)
			if unitLen := u.end - u.start; ov+unitLen > s.chunkSize {
				ov = max(0, s.chunkSize-unitLen)
			}
		}
		start := pos - ov

		// 至少放入一个单元
		end := u.end
		i++
		for i < len(units) && units[i].end-start <= s.chunkSize {
			end = units[i].end
			i++
		}

		segs = append(segs, Segment{Text: string(runes[start:end]), Start: start, End: end})
		prevStart = start
		pos = end
	}
	return segs
}

type span struct{ start, end int }

// splitUnits 把文本切成首尾相接的单元，每个单元包含其结尾的分隔符。
func splitUnits(runes, sep []rune) []span {
	if len(sep) == 0 {
		units := make([]span, len(runes))
		for i := range runes {
			units[i] = span{i, i + 1}
		}
		return units
	}

	var units []span
	start := 0
	for i := 0; i+len(sep) <= len(runes); {
		if hasPrefixAt(runes, sep, i) {
			units = append(units, span{start, i + len(sep)})
			i += len(sep)
			start = i
			continue
		}
		i++
	}
	if start < len(runes) {
		units = append(units, span{start, len(runes)})
	}
	return units
}

func hasPrefixAt(runes, sep []rune, at int) bool {
	for j, r := range sep {
		if runes[at+j] != r {
			return false
		}
	}
	return true
}
