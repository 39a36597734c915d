package ensemble

import (
	"github.com/adverant/nexus/ocr-consensus-worker/internal/engine"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

type decision struct {
	engine         string
	text           string
	confidence     float64
	belowThreshold bool
}

// decide picks the consensus among usable results. results[i] belongs to
// members[i]; equal scores go to the earlier member.
//
// Results at or above threshold compete on confidence*weight. If none clear
// it, the most confident result wins and the decision is flagged. The
// reported confidence is always the winner's raw confidence.
func decide(members []engine.Weighted, results []*model.EngineResult, threshold float64) (decision, bool) {
	best, bestScore := -1, 0.0
	for i, r := range results {
		if !r.Usable() || r.Confidence < threshold {
			continue
		}
		score := r.Confidence * members[i].Weight
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		r := results[best]
		return decision{engine: r.Engine, text: r.Text, confidence: r.Confidence}, true
	}

	for i, r := range results {
		if !r.Usable() {
			continue
		}
		if best < 0 || r.Confidence > results[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return decision{}, false
	}
	r := results[best]
	return decision{engine: r.Engine, text: r.Text, confidence: r.Confidence, belowThreshold: true}, true
}

// resolveLanguage takes the majority language of the usable results. A tie
// goes to the language reported by the most confident engine among the tied
// languages, then to member order. With no detected language the hint and
// then the default apply.
func resolveLanguage(results []*model.EngineResult, hint, fallback string) string {
	type tally struct {
		votes     int
		bestConf  float64
		firstSeen int
	}
	tallies := make(map[string]*tally)
	for i, r := range results {
		if !r.Usable() || r.Language == "" {
			continue
		}
		lang := r.Language
		if normalized, ok := model.NormalizeLanguage(lang); ok && normalized != "" {
			lang = normalized
		}
		t, ok := tallies[lang]
		if !ok {
			t = &tally{firstSeen: i, bestConf: -1}
			tallies[lang] = t
		}
		t.votes++
		if r.Confidence > t.bestConf {
			t.bestConf = r.Confidence
		}
	}

	winner := ""
	var w *tally
	for lang, t := range tallies {
		switch {
		case w == nil,
			t.votes > w.votes,
			t.votes == w.votes && t.bestConf > w.bestConf,
			t.votes == w.votes && t.bestConf == w.bestConf && t.firstSeen < w.firstSeen:
			winner, w = lang, t
		}
	}
	if winner != "" {
		return winner
	}
	if hint != "" {
		return hint
	}
	return fallback
}
