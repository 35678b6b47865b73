package pathway

import (
	"strconv"
	"strings"

	"github.com/kalambet/quill/internal/parse"
)

// parseScore pulls a 0-100 score out of a free-form model response.
// Accepts a bare integer, an integer embedded in prose, or a JSON object
// with a "score" field. The result is clamped to [0,100].
func parseScore(resp string) (int, bool) {
	resp = strings.TrimSpace(resp)

	if n, err := strconv.Atoi(resp); err == nil {
		return clampScore(n), true
	}

	var obj struct {
		Score *int `json:"score"`
	}
	if parse.ObjectInto(resp, &obj) && obj.Score != nil {
		return clampScore(*obj.Score), true
	}

	// First integer token anywhere in the response.
	for _, field := range strings.Fields(resp) {
		field = strings.Trim(field, ".,:;!?%()[]\"'")
		if field == "" {
			continue
		}
		if n, err := strconv.Atoi(field); err == nil {
			return clampScore(n), true
		}
	}
	return 0, false
}
