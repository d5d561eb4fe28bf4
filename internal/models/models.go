package models

import "time"

// SourceDocument is one uploaded client document.
type SourceDocument struct {
	ID     string
	Format string
	Size   int64
	Data   []byte
	Text   string
}

// ExtractionOutcome tags the result of extracting one document in a batch.
type ExtractionOutcome struct {
	DocumentID string
	Format     string
	Chars      int
	Err        error
}

func (o ExtractionOutcome) OK() bool { return o.Err == nil }

// LabelledText is extracted text keyed by its source document.
type LabelledText struct {
	Label string
	Text  string
}

// ClientContext is the synthesized system message for one project key.
type ClientContext struct {
	ProjectKey        string
	SystemMessage     string
	SourceDocumentIDs []string
	UpdatedAt         time.Time
}

type RequestStatus string

const (
	StatusRequested  RequestStatus = "Requested"
	StatusGenerating RequestStatus = "Generating"
	StatusComplete   RequestStatus = "Complete"
	StatusFailed     RequestStatus = "Failed"
)

func (s RequestStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CarouselRequest is created externally; the engine only moves its status.
type CarouselRequest struct {
	ID         string
	Title      string
	Content    string
	ProjectKey string
	Status     RequestStatus
	Format     string
	Reason     string
	AssetURL   string
}

type Slide struct {
	Position int
	Text     string
	Theme    string
	ImageRef string
}

type SlideSet struct {
	Slides []Slide
}

func (s SlideSet) Len() int { return len(s.Slides) }

// Themes returns the distinct slide themes in first-seen order.
func (s SlideSet) Themes() []string {
	seen := make(map[string]bool)
	var themes []string
	for _, sl := range s.Slides {
		if !seen[sl.Theme] {
			seen[sl.Theme] = true
			themes = append(themes, sl.Theme)
		}
	}
	return themes
}

// ImageAsset is a generated background for one theme.
type ImageAsset struct {
	Theme       string
	Name        string
	ContentType string
	Data        []byte
}

// AssetRef addresses one uploaded object.
type AssetRef struct {
	Name string `json:"name"`
	Key  string `json:"key"`
	URL  string `json:"url"`
}

// Usage is token accounting reported by a text generation call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// GenerationRun describes one execution. It is only logged.
type GenerationRun struct {
	ID        string
	RequestID string
	Cost      float64
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   RequestStatus
}
