package llm

// CompletenessAnalysis is a read-only view of how a turn's output split
// between deliberation and answer text.
type CompletenessAnalysis struct {
	TotalLen       int
	ReasoningLen   int
	AnswerLen      int
	ReasoningRatio float64
}

func analyzeCompleteness(thinkLen, answerLen int) CompletenessAnalysis {
	total := thinkLen + answerLen
	var ratio float64
	if total > 0 {
		ratio = float64(thinkLen) / float64(total)
	}
	return CompletenessAnalysis{
		TotalLen:       total,
		ReasoningLen:   thinkLen,
		AnswerLen:      answerLen,
		ReasoningRatio: ratio,
	}
}

// completenessThresholds decide when a turn looks like it deliberated but
// never answered. Stricter levels expect little reasoning and demand it be
// short if present.
type completenessThresholds struct {
	minReasoning int
	maxAnswer    int
	minRatio     float64
}

func thresholdsForLevel(level ThinkLevel) completenessThresholds {
	switch level {
	case ThinkLow:
		return completenessThresholds{minReasoning: 200, maxAnswer: 50, minRatio: 0.85}
	case ThinkMedium:
		return completenessThresholds{minReasoning: 350, maxAnswer: 75, minRatio: 0.88}
	default:
		return completenessThresholds{minReasoning: 500, maxAnswer: 100, minRatio: 0.90}
	}
}

// needsRepair reports whether the turn produced deliberation but no usable
// answer under the given thresholds.
func (a CompletenessAnalysis) needsRepair(t completenessThresholds) bool {
	return a.ReasoningLen > t.minReasoning &&
		a.AnswerLen < t.maxAnswer &&
		a.ReasoningRatio > t.minRatio
}
