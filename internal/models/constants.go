package models

const (
	SlideHeaderRegex  = `(?i)^\**\s*SLIDE\s+(\d+)\s*(?:[:.\-]|\**\s*$)\s*\**\s*(.*)$`
	SegmentLabelRegex = `(?mi)^\s*(?:#{1,6}\s*|[-*]\s*)?\**(?:segment|persona|audience)\s*(?:\d+\s*)?\**\s*[:\-]\s*\**(.+?)\**\s*$`
	ThinkTag          = `(?s)<think>.*?</think>`
	DocumentSeparator = "\n---\n"
)

// UnwantedPhrases are model boilerplate lines removed from slide output.
var UnwantedPhrases = []string{
	"here's your carousel",
	"i'll create",
	"let me craft",
	"here are the slides",
	"i've created",
	"this carousel",
	"here's how",
	"let's break this down",
	"i've optimized",
	"here's the content",
	"based on your request",
}

// UnwantedPrefixes mark meta-commentary lines in slide output.
var UnwantedPrefixes = []string{"*", "[", "Note:"}

var (
	SynthesisPromptTemplate = `# BRAND CONTENT SYSTEM GENERATOR

You are an executive-level brand and marketing director. Analyze the client documents below and write one
complete system message that a content creation model will use for every future post for this client.

CLIENT DOCUMENTS:
%s

## THE SYSTEM MESSAGE MUST CONTAIN
1. Brand identity: name, core essence, specialization, market area and brand promise.
2. Voice requirements: the most important voice attributes, each with a concrete behavioral instruction.
3. Target audiences: one section per audience segment with demographics, core truth, primary triggers,
   content preferences, conversion indicators and language rules.
4. Content performance framework: high-converting content types and the engagement formula.
5. Compliance and brand protection: what to never use and what to always include.
6. Execution instructions for every piece of content.

## AUDIENCE SEGMENTS THAT MUST EACH HAVE THEIR OWN SECTION
%s

## OUTPUT REQUIREMENTS
- Cover EVERY audience segment found in the documents. Do not stop until all of them are covered.
- Do not summarize several segments into one.
- Keep instructions actionable and specific to this client.
- Output only the system message, with no preamble or closing remarks.`

	NoSegmentsListed = "- (none labelled explicitly; identify every segment described in the documents)"

	CarouselSystemPrompt = "You are an expert social media content creator who specializes in creating engaging carousel posts."

	ClientContextHeader = "\n\nClient-specific instructions and context:\n"

	CarouselPromptTemplate = `Transform the following content titled "%s" into %d-%d carousel slides that tell ONE CONNECTED STORY.
Each slide must have at most %d lines. Each line is one complete sentence or thought.

Every slide must build on the previous slide and create curiosity for the next one. Refer back to
"%s" in the first and the last slide.

Do NOT include any introductory text, explanations, commentary, bullet points or notes.
Start immediately with "SLIDE 1:" and format the response EXACTLY as:
SLIDE 1:
[slide text only]

SLIDE 2:
[slide text only]

Content to transform:
%s`

	StricterFormatInstruction = `

IMPORTANT: your previous answer could not be parsed. Reply with between %d and %d blocks, each starting
on its own line with "SLIDE N:" where N counts up from 1. Output nothing before "SLIDE 1:" and nothing
after the last slide.`

	ImagePromptTemplate = `A %s social media background image for a carousel titled "%s".
Soft, uncluttered composition with large calm areas of contrast suitable for text overlay.
No people, no text, no logos, no busy patterns.`
)
