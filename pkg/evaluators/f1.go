package evaluators

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// MetricF1Score is the key produced by the F1 evaluator.
const MetricF1Score = "f1_score"

// asciiPunctuation includes the ASCII symbols that unicode.P leaves out.
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKD,
			cases.Fold(),
			runes.Remove(runes.In(unicode.Mn)),
			runes.Remove(runes.In(unicode.P)),
			runes.Remove(runes.Predicate(func(r rune) bool {
				return strings.ContainsRune(asciiPunctuation, r)
			})),
			width.Fold,
			norm.NFC,
		)
	},
}

var articles = map[string]bool{"a": true, "an": true, "the": true}

// normalizeTokens decomposes, folds case and width, strips accents and
// punctuation, and drops articles.
func normalizeTokens(s string) []string {
	tr := chainPool.Get().(transform.Transformer)
	folded, _, err := transform.String(tr, strings.ToValidUTF8(s, ""))
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		folded = strings.ToLower(s)
	}

	fields := strings.Fields(folded)
	tokens := fields[:0]
	for _, f := range fields {
		if !articles[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// F1 is the token overlap F1 between answer and groundTruth.
func F1(answer, groundTruth string) float64 {
	pred := normalizeTokens(answer)
	truth := normalizeTokens(groundTruth)
	if len(pred) == 0 || len(truth) == 0 {
		return 0
	}

	counts := make(map[string]int, len(truth))
	for _, t := range truth {
		counts[t]++
	}
	same := 0
	for _, p := range pred {
		if counts[p] > 0 {
			counts[p]--
			same++
		}
	}
	if same == 0 {
		return 0
	}

	precision := float64(same) / float64(len(pred))
	recall := float64(same) / float64(len(truth))
	return 2 * precision * recall / (precision + recall)
}

// NewF1Score returns an evaluator computing token F1 between answer and ground truth.
func NewF1Score(opts ...Option) (Func, error) {
	o := newOptions(opts)
	logger := o.logger.With("evaluator", "f1_score")
	return func(ctx context.Context, in Input) (Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inputs, err := in.fields(FieldAnswer, FieldGroundTruth)
		if err != nil {
			return nil, err
		}
		score := F1(inputs[FieldAnswer].(string), inputs[FieldGroundTruth].(string))
		logger.DebugContext(ctx, "evaluation completed", "score", score)
		return Result{MetricF1Score: score}, nil
	}, nil
}
