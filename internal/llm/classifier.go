package llm

import "strings"

// Transcript think-block delimiters. These are the same tags some models
// embed inline, so a rendered transcript round-trips through the
// classifier unchanged.
const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"

	thinkBlockOpen  = "<think>\n"
	thinkBlockClose = "\n</think>\n\n"
)

// thinkClassifier separates deliberation text from answer text across the
// upstream encodings and renders one coherent transcript. It is stateful
// for the whole turn: at most one think block is open at a time, and a
// block stays open only across contiguous thinking-bearing events.
type thinkClassifier struct {
	transcript strings.Builder

	blockOpen bool
	// inInlineThink tracks an inline <think> tag whose closing tag has not
	// arrived yet; tags may span event boundaries.
	inInlineThink bool

	// hide discards thinking text while still driving open/close state so
	// answer interleaving stays correct.
	hide bool

	thinkLen  int
	answerLen int

	onUpdate func(string)
}

func newThinkClassifier(onUpdate func(string), hide bool) *thinkClassifier {
	return &thinkClassifier{hide: hide, onUpdate: onUpdate}
}

// Feed routes one event into the transcript. Every processed event fires
// the update callback with the full transcript so far.
func (c *thinkClassifier) Feed(event Event) {
	switch event.Type {
	case EventThinkingDelta:
		c.appendThinking(event.Text)
	case EventTextDelta:
		c.handleText(event.Text)
	default:
		// Not thinking-bearing: a block never stays open across it.
		if !c.inInlineThink {
			c.closeBlock()
		}
	}
	c.fireUpdate()
}

// Finish force-closes any still-open block at turn end.
func (c *thinkClassifier) Finish() {
	c.inInlineThink = false
	c.closeBlock()
	c.fireUpdate()
}

func (c *thinkClassifier) Transcript() string {
	return c.transcript.String()
}

// Stats reports how many thinking and answer characters were classified,
// counting thinking even when it is hidden from the transcript.
func (c *thinkClassifier) Stats() (thinkLen, answerLen int) {
	return c.thinkLen, c.answerLen
}

// handleText classifies an answer-text delta that may carry inline think
// tags. The delta can hold a thinking tail plus the start of the answer in
// one piece; the text after the closing tag must be kept as answer text,
// never dropped.
func (c *thinkClassifier) handleText(text string) {
	for text != "" {
		if c.inInlineThink {
			closeAt := strings.Index(text, thinkCloseTag)
			if closeAt < 0 {
				c.appendThinking(text)
				return
			}
			c.appendThinking(text[:closeAt])
			c.inInlineThink = false
			c.closeBlock()
			text = text[closeAt+len(thinkCloseTag):]
			continue
		}

		openAt := strings.Index(text, thinkOpenTag)
		if openAt < 0 {
			// A stray closing tag can show up when the opening came from a
			// dedicated-field delta; treat the prefix as thinking.
			if closeAt := strings.Index(text, thinkCloseTag); closeAt >= 0 && c.blockOpen {
				c.appendThinking(text[:closeAt])
				c.closeBlock()
				text = text[closeAt+len(thinkCloseTag):]
				continue
			}
			c.appendAnswer(text)
			return
		}

		if openAt > 0 {
			c.appendAnswer(text[:openAt])
		}
		c.inInlineThink = true
		text = text[openAt+len(thinkOpenTag):]
	}
}

func (c *thinkClassifier) appendThinking(text string) {
	if text == "" {
		return
	}
	if !c.blockOpen {
		c.blockOpen = true
		if !c.hide {
			c.transcript.WriteString(thinkBlockOpen)
		}
	}
	c.thinkLen += len(text)
	if !c.hide {
		c.transcript.WriteString(text)
	}
}

func (c *thinkClassifier) appendAnswer(text string) {
	if text == "" {
		return
	}
	c.closeBlock()
	c.answerLen += len(text)
	c.transcript.WriteString(text)
}

func (c *thinkClassifier) closeBlock() {
	if !c.blockOpen {
		return
	}
	c.blockOpen = false
	if !c.hide {
		c.transcript.WriteString(thinkBlockClose)
	}
}

func (c *thinkClassifier) fireUpdate() {
	if c.onUpdate != nil {
		c.onUpdate(c.transcript.String())
	}
}
