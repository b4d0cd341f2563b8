package panel

import (
	"sort"

	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/geometry"
)

// selectPanels は候補矩形を面積・縦横比で絞り込み、入れ子を除去して読み順に並べます。
func selectPanels(boxes []geometry.Box, w, h int, cfg Config) []domain.Panel {
	pageArea := float64(w * h)
	if pageArea == 0 {
		return []domain.Panel{}
	}
	minArea := pageArea * cfg.MinAreaRatio
	maxArea := pageArea * cfg.MaxAreaRatio

	candidates := make([]geometry.Box, 0, len(boxes))
	for _, b := range boxes {
		area := float64(b.Area())
		if area <= minArea || area >= maxArea {
			continue
		}
		aspect := float64(b.W) / float64(b.H)
		if aspect < cfg.MinAspect || aspect > cfg.MaxAspect {
			continue
		}
		candidates = append(candidates, b.Pad(cfg.Padding, w, h))
	}

	kept := suppressNested(candidates, cfg.NestedRatio)
	sortReadingOrder(kept, cfg.RowBand)

	panels := make([]domain.Panel, len(kept))
	for i, b := range kept {
		panels[i] = domain.Panel{
			ID:         i + 1,
			OrderIndex: i + 1,
			Box:        b,
			Polygon:    b.Corners(),
			Label:      domain.PanelLabel,
		}
	}
	return panels
}

// suppressNested は面積の大きい順に見て、自身の面積の ratio を超えて既存のコマに含まれる候補を捨てます。
func suppressNested(candidates []geometry.Box, ratio float64) []geometry.Box {
	sorted := make([]geometry.Box, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Area() > sorted[j].Area()
	})

	kept := make([]geometry.Box, 0, len(sorted))
	for _, c := range sorted {
		area := c.Area()
		if area == 0 {
			continue
		}
		nested := false
		for _, k := range kept {
			if float64(c.IntersectionArea(k))/float64(area) > ratio {
				nested = true
				break
			}
		}
		if !nested {
			kept = append(kept, c)
		}
	}
	return kept
}

// sortReadingOrder は y を band 幅の段に分け、(段, x) の昇順に並べます。
func sortReadingOrder(boxes []geometry.Box, band int) {
	if band <= 0 {
		band = DefaultRowBand
	}
	sort.SliceStable(boxes, func(i, j int) bool {
		bi, bj := boxes[i].Y/band, boxes[j].Y/band
		if bi != bj {
			return bi < bj
		}
		return boxes[i].X < boxes[j].X
	})
}
