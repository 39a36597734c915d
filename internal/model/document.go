package model

import (
	"image"
	"time"
)

// BoundingBox represents a rectangular region in page pixel coordinates
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Union returns the smallest box containing both b and o.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	x0, y0 := min(b.X, o.X), min(b.Y, o.Y)
	x1, y1 := max(b.X+b.Width, o.X+o.Width), max(b.Y+b.Height, o.Y+o.Height)
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// TextBox is a recognized word or line with its location
type TextBox struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// EngineResult is one engine's answer for one page.
type EngineResult struct {
	Engine       string    `json:"engine"`
	Text         string    `json:"text"`
	Confidence   float64   `json:"confidence"`
	Language     string    `json:"language,omitempty"`
	Boxes        []TextBox `json:"boxes,omitempty"`
	ProcessingMs int64     `json:"processingMs"`
	Error        string    `json:"error,omitempty"`
}

// Usable reports whether the result can take part in the page vote.
func (r *EngineResult) Usable() bool {
	return r != nil && r.Error == "" && r.Text != ""
}

// PageImage is a normalized page ready for recognition.
type PageImage struct {
	Index       int
	PageNumber  int
	Image       image.Image
	PNG         []byte
	Width       int
	Height      int
	Orientation int
	Scores      map[int]float64
	Err         error
}

// PageStatus marks whether a page produced a consensus
type PageStatus string

const (
	PageSuccess PageStatus = "success"
	PageFailed  PageStatus = "failed"
)

// RegionType tags a special-item region
type RegionType string

const (
	RegionStamp         RegionType = "stamp"
	RegionHandwriting   RegionType = "handwriting"
	RegionTable         RegionType = "table"
	RegionStrikethrough RegionType = "strikethrough"
)

// Region is a detected special item on a page
type Region struct {
	Type       RegionType  `json:"type"`
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	// Lines holds the text line span for regions found in the consensus text.
	Lines []int `json:"lines,omitempty"`
}

// SpecialItems summarizes the special-item detectors for one page
type SpecialItems struct {
	HasStamps        bool     `json:"hasStamps"`
	HasHandwriting   bool     `json:"hasHandwriting"`
	HasTable         bool     `json:"hasTable"`
	HasStrikethrough bool     `json:"hasStrikethrough"`
	Regions          []Region `json:"regions"`
}

// PageResult is the per-page consensus.
type PageResult struct {
	PageNumber      int                     `json:"pageNumber"`
	Status          PageStatus              `json:"status"`
	Text            string                  `json:"text"`
	Confidence      float64                 `json:"confidence"`
	Language        string                  `json:"language,omitempty"`
	Orientation     int                     `json:"orientation"`
	ConsensusEngine string                  `json:"consensusEngine,omitempty"`
	BelowThreshold  bool                    `json:"belowThreshold"`
	SpecialItems    SpecialItems            `json:"specialItems"`
	EngineResults   map[string]EngineResult `json:"engineResults"`
	Image           []byte                  `json:"image,omitempty"`
	Error           string                  `json:"error,omitempty"`
}

// Entities are business entities found in the document text
type Entities struct {
	Companies []string `json:"companies"`
	Dates     []string `json:"dates"`
	Amounts   []string `json:"amounts"`
	Persons   []string `json:"persons"`
	Addresses []string `json:"addresses"`
	Emails    []string `json:"emails"`
	Phones    []string `json:"phones"`
}

// DocumentResult aggregates all pages of one OCR task
type DocumentResult struct {
	Pages            []PageResult `json:"pages"`
	Text             string       `json:"text"`
	Confidence       float64      `json:"confidence"`
	Language         string       `json:"language"`
	Entities         *Entities    `json:"entities,omitempty"`
	PageCount        int          `json:"pageCount"`
	FailedPages      int          `json:"failedPages"`
	ProcessingTimeMs int64        `json:"processingTimeMs"`
}

// Options are the caller-facing processing options
type Options struct {
	Language         string `json:"language,omitempty"`
	ExtractEntities  bool   `json:"extract_entities"`
	UseCache         bool   `json:"use_cache"`
	ReturnImages     bool   `json:"return_images"`
	CheckOrientation *bool  `json:"check_orientation,omitempty"`
}

// OrientationEnabled defaults to true when unset.
func (o Options) OrientationEnabled() bool {
	return o.CheckOrientation == nil || *o.CheckOrientation
}

// DefaultOptions mirrors the submission defaults.
func DefaultOptions() Options {
	return Options{UseCache: true}
}

// Elapsed converts a start time to milliseconds.
func Elapsed(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
