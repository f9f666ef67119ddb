// Package emotion maps controlled emotion/strength vocabulary to the
// 8-dimensional delivery vector the synthesis engine consumes.
//
// Vector layout (Index-TTS): [高兴, 生气, 伤心, 害怕, 厌恶, 低落, 惊喜, 平静].
package emotion

// basicEmotions occupy exactly one dimension each, in vector order.
var basicEmotions = []string{"高兴", "生气", "伤心", "害怕", "厌恶", "低落", "惊喜", "平静"}

// compoundEmotions blend two or three basic dimensions. Dominant share
// >= 0.5, secondary <= 0.3, totals within the engine's 0.8 cap.
var compoundEmotions = map[string][8]float64{
	"疑惑": {0.0, 0.0, 0.0, 0.25, 0.0, 0.0, 0.45, 0.0},
	"紧张": {0.0, 0.0, 0.0, 0.55, 0.0, 0.25, 0.0, 0.0},
	"感动": {0.5, 0.0, 0.3, 0.0, 0.0, 0.0, 0.0, 0.0},
	"无奈": {0.0, 0.0, 0.0, 0.0, 0.2, 0.55, 0.0, 0.0},
	"得意": {0.55, 0.0, 0.0, 0.0, 0.0, 0.0, 0.25, 0.0},
	"嘲讽": {0.25, 0.0, 0.0, 0.0, 0.55, 0.0, 0.0, 0.0},
	"焦虑": {0.0, 0.15, 0.0, 0.45, 0.0, 0.2, 0.0, 0.0},
	"温柔": {0.3, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.5},
	"坚定": {0.0, 0.45, 0.0, 0.0, 0.0, 0.0, 0.0, 0.35},
	"哀求": {0.0, 0.0, 0.55, 0.25, 0.0, 0.0, 0.0, 0.0},
}

// intensityScale maps strength names to the dimension value (basic
// emotions) or scaling baseline (compound emotions).
var intensityScale = map[string]float64{
	"微弱": 0.3,
	"稍弱": 0.5,
	"中等": 0.7,
	"较强": 0.85,
	"强烈": 1.0,
}

// mediumScale is the baseline so compound vectors keep their designed
// values at medium strength.
const mediumScale = 0.7

// sumCap is the engine's normalization constraint on the vector total.
const sumCap = 0.8

// Vector converts an emotion/strength name pair to the 8-dim delivery
// vector. Unknown emotions map to the zero vector (neutral delivery);
// unknown strengths fall back to a 0.5 scale.
func Vector(emotionName, strengthName string) []float64 {
	scale, ok := intensityScale[strengthName]
	if !ok {
		scale = 0.5
	}

	vec := make([]float64, 8)

	for i, name := range basicEmotions {
		if name == emotionName {
			vec[i] = scale
			return vec
		}
	}

	if base, ok := compoundEmotions[emotionName]; ok {
		ratio := scale / mediumScale
		total := 0.0
		for i, v := range base {
			vec[i] = v * ratio
			total += vec[i]
		}
		if total > sumCap {
			factor := sumCap / total
			for i := range vec {
				vec[i] *= factor
			}
		}
		return vec
	}

	return vec
}

// Known reports whether the emotion name maps to a non-neutral vector
func Known(emotionName string) bool {
	for _, name := range basicEmotions {
		if name == emotionName {
			return true
		}
	}
	_, ok := compoundEmotions[emotionName]
	return ok
}
