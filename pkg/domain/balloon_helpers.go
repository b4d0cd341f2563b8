package domain

// Balloons は Balloon のスライスです。
type Balloons []Balloon

// Texts は各吹き出しの認識テキストを順序どおりに返します。
func (bs Balloons) Texts() []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Text
	}
	return out
}

// WithText はテキストが空でない吹き出しのインデックスを返します。
func (bs Balloons) WithText() []int {
	idx := make([]int, 0, len(bs))
	for i, b := range bs {
		if b.Text != "" {
			idx = append(idx, i)
		}
	}
	return idx
}

// Clone はポリゴンも含めたディープコピーを返します。
// 呼び出し元のスライスを書き換えずにテキストを埋めるときに使います。
func (bs Balloons) Clone() Balloons {
	if bs == nil {
		return nil
	}
	out := make(Balloons, len(bs))
	for i, b := range bs {
		c := b
		c.Polygon = b.Polygon.Clone()
		out[i] = c
	}
	return out
}

// Renumber は ID を 0 から振り直します。
func (bs Balloons) Renumber() {
	for i := range bs {
		bs[i].ID = i
	}
}
