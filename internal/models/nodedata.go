package models

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/piko/internal/apperr"
)

// NodeKind discriminates node payloads.
type NodeKind string

const (
	KindPrompt NodeKind = "prompt"
	KindFile   NodeKind = "file"
	KindNano   NodeKind = "nano"
)

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	switch k {
	case KindPrompt, KindFile, KindNano:
		return true
	}
	return false
}

// Generation parameters accepted by nano nodes.
var (
	Resolutions  = []any{"1K", "2K", "4K"}
	AspectRatios = []any{"1:1", "4:3", "3:4", "16:9", "9:16"}
)

// NodeData is the kind-specific payload of a node. The set of implementations
// is closed: PromptData, FileData and NanoData.
type NodeData interface {
	Kind() NodeKind
	Validate() error

	title() string
	setTitle(string)
	clone() NodeData
}

// MediaRef points at an attached or generated media file.
type MediaRef struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Validate checks the reference.
func (m MediaRef) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.URL, validation.Required),
	)
}

// PromptData is the payload of a prompt node.
type PromptData struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (d *PromptData) Kind() NodeKind    { return KindPrompt }
func (d *PromptData) title() string     { return d.Title }
func (d *PromptData) setTitle(t string) { d.Title = t }

func (d *PromptData) clone() NodeData {
	c := *d
	return &c
}

// Validate checks the payload.
func (d *PromptData) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Title, validation.Required),
	)
}

// FileData is the payload of a file/media node.
type FileData struct {
	Title       string     `json:"title"`
	Files       []MediaRef `json:"files"`
	ActiveIndex int        `json:"activeIndex"`
}

func (d *FileData) Kind() NodeKind    { return KindFile }
func (d *FileData) title() string     { return d.Title }
func (d *FileData) setTitle(t string) { d.Title = t }

func (d *FileData) clone() NodeData {
	c := *d
	c.Files = append([]MediaRef{}, d.Files...)
	return &c
}

// Validate checks the payload.
func (d *FileData) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Title, validation.Required),
		validation.Field(&d.Files),
		validation.Field(&d.ActiveIndex, validation.Min(0), validation.By(indexWithin(len(d.Files)))),
	)
}

// NanoData is the payload of a generative-image node: parameters plus the
// images it has produced.
type NanoData struct {
	Title       string     `json:"title"`
	Images      []MediaRef `json:"images"`
	ActiveIndex int        `json:"activeIndex"`
	Resolution  string     `json:"resolution"`
	Aspect      string     `json:"aspect"`
}

func (d *NanoData) Kind() NodeKind    { return KindNano }
func (d *NanoData) title() string     { return d.Title }
func (d *NanoData) setTitle(t string) { d.Title = t }

func (d *NanoData) clone() NodeData {
	c := *d
	c.Images = append([]MediaRef{}, d.Images...)
	return &c
}

// Validate checks the payload.
func (d *NanoData) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Title, validation.Required),
		validation.Field(&d.Images),
		validation.Field(&d.ActiveIndex, validation.Min(0), validation.By(indexWithin(len(d.Images)))),
		validation.Field(&d.Resolution, validation.Required, validation.In(Resolutions...)),
		validation.Field(&d.Aspect, validation.Required, validation.In(AspectRatios...)),
	)
}

// indexWithin accepts 0 for an empty list, otherwise an index below n.
func indexWithin(n int) validation.RuleFunc {
	return func(value any) error {
		i, _ := value.(int)
		if n == 0 && i == 0 {
			return nil
		}
		if i >= n {
			return fmt.Errorf("must be below %d", n)
		}
		return nil
	}
}

// DefaultNode returns the payload and style a freshly created node of kind gets.
func DefaultNode(kind NodeKind) (NodeData, *Style, error) {
	switch kind {
	case KindPrompt:
		return &PromptData{Title: "Prompt", Text: ""}, &Style{Width: 360}, nil
	case KindFile:
		return &FileData{Title: "File", Files: []MediaRef{}, ActiveIndex: 0}, &Style{Width: 360}, nil
	case KindNano:
		return &NanoData{
			Title:       "Nano Banana Pro",
			Images:      []MediaRef{},
			ActiveIndex: 0,
			Resolution:  "1K",
			Aspect:      "4:3",
		}, &Style{Width: 420}, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown node kind %q", apperr.ErrValidation, kind)
}

// SetTitle replaces the title of any payload kind.
func SetTitle(d NodeData, title string) {
	d.setTitle(title)
}

func decodeNodeData(kind NodeKind, raw json.RawMessage) (NodeData, error) {
	data, _, err := DefaultNode(kind)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return data, nil
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", apperr.ErrValidation, kind, err)
	}
	return data, nil
}
