package balloon

import (
	"strings"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/geometry"
	"github.com/shouni/go-manga-lens/pkg/llmjson"
)

// sidecarResponse は外部の検出スクリプト / サービスが返す JSON です。
//
//	{"status":"success","balloons":[{"id":0,"conf":0.91,"box":[x,y,w,h],"polygon":[[x,y],...]}]}
type sidecarResponse struct {
	Status   string           `json:"status"`
	Message  string           `json:"message"`
	Balloons []sidecarBalloon `json:"balloons"`
}

type sidecarBalloon struct {
	ID      int              `json:"id"`
	Conf    float64          `json:"conf"`
	Box     []float64        `json:"box"`
	Polygon geometry.Polygon `json:"polygon"`
}

// parseSidecar は出力中の最初の { から最後の } までを JSON として読みます。
// 検出スクリプトはログを標準出力に混ぜることがあるため、前後の余計な文字列は無視します。
func parseSidecar(out []byte) ([]RawDetection, error) {
	body, ok := llmjson.Span(string(out), '{', '}')
	if !ok {
		return nil, apperr.Errorf(apperr.KindParseFailed, "detector output has no JSON object: %q", truncate(string(out), 200))
	}

	var resp sidecarResponse
	if err := llmjson.DecodeObject(body, &resp); err != nil {
		return nil, err
	}
	if strings.EqualFold(resp.Status, "error") {
		return nil, apperr.Errorf(apperr.KindGenerationFailed, "detector reported error: %s", resp.Message)
	}

	raws := make([]RawDetection, 0, len(resp.Balloons))
	for _, b := range resp.Balloons {
		if len(b.Box) != 4 {
			continue
		}
		x, y, w, h := b.Box[0], b.Box[1], b.Box[2], b.Box[3]
		raws = append(raws, RawDetection{
			Confidence: b.Conf,
			X1:         x,
			Y1:         y,
			X2:         x + w,
			Y2:         y + h,
			Contour:    b.Polygon,
		})
	}
	return raws, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
