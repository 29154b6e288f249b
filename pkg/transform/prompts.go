package transform

import (
	"fmt"
	"strings"
)

// Template selects the document shape
type Template string

const (
	TemplateBusiness Template = "business"
	TemplatePersonal Template = "personal"
	TemplateSales    Template = "sales"
)

// Tone selects the writing register
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneFriendly     Tone = "friendly"
	ToneFormal       Tone = "formal"
)

const systemPrompt = "You are an expert content organizer and writer, skilled at transforming messy notes " +
	"into well-structured, professional content while maintaining the original meaning and intent."

var templatePrompts = map[Template]string{
	TemplateBusiness: "Transform these business notes into a professional, well-structured document:",
	TemplatePersonal: "Organize these personal notes into a clear and actionable format:",
	TemplateSales:    "Convert these notes into compelling sales content:",
}

var toneModifiers = map[Tone]string{
	ToneProfessional: "Use a professional and formal tone.",
	ToneCasual:       "Use a casual and relaxed tone.",
	ToneFriendly:     "Use a warm and approachable tone.",
	ToneFormal:       "Use a highly formal and business-appropriate tone.",
}

// ParseTemplate normalizes raw; empty selects business
func ParseTemplate(raw string) (Template, bool) {
	t := Template(strings.ToLower(strings.TrimSpace(raw)))
	if t == "" {
		return TemplateBusiness, true
	}
	_, ok := templatePrompts[t]
	return t, ok
}

// ParseTone normalizes raw; empty selects professional
func ParseTone(raw string) (Tone, bool) {
	t := Tone(strings.ToLower(strings.TrimSpace(raw)))
	if t == "" {
		return ToneProfessional, true
	}
	_, ok := toneModifiers[t]
	return t, ok
}

// BuildPrompt renders the user message for a transformation
func BuildPrompt(notes string, template Template, tone Tone) string {
	tp, ok := templatePrompts[template]
	if !ok {
		tp = templatePrompts[TemplateBusiness]
	}
	tm, ok := toneModifiers[tone]
	if !ok {
		tm = toneModifiers[ToneProfessional]
	}

	return fmt.Sprintf("%s\n\nNotes:\n%s\n\n%s\n\n"+
		"Please structure the output in a clear, readable format using appropriate headings, "+
		"bullet points, or paragraphs as needed.", tp, notes, tm)
}
