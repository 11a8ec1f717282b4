package chat

import (
	"fmt"
	"strings"

	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
)

// Compose is the unsent message form: text plus at most one attachment and its
// preview reference. It is owned by a single goroutine.
type Compose struct {
	previews *attachment.Previews
	text     string
	file     *attachment.File
	preview  *attachment.Preview
}

func NewCompose(previews *attachment.Previews) *Compose {
	if previews == nil {
		previews = attachment.NewPreviews()
	}
	return &Compose{previews: previews}
}

func (c *Compose) SetText(text string) {
	c.text = text
}

func (c *Compose) Text() string {
	return c.text
}

func (c *Compose) Attachment() *attachment.File {
	return c.file
}

// Preview is nil for documents and when nothing is attached.
func (c *Compose) Preview() *attachment.Preview {
	return c.preview
}

// Empty reports whether there is nothing to send.
func (c *Compose) Empty() bool {
	return strings.TrimSpace(c.text) == "" && c.file == nil
}

// Attach validates f and replaces the current attachment. On error the form
// is left unchanged.
func (c *Compose) Attach(f *attachment.File) error {
	if err := attachment.ValidateFile(f); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	preview, err := c.previews.Build(f)
	if err != nil {
		return fmt.Errorf("build preview: %w", err)
	}
	c.RemoveAttachment()
	c.file = f
	c.preview = preview
	return nil
}

func (c *Compose) RemoveAttachment() {
	c.preview.Release()
	c.preview = nil
	c.file = nil
}

// Reset clears the form after a successful send.
func (c *Compose) Reset() {
	c.RemoveAttachment()
	c.text = ""
}

// Close releases the preview when the form is abandoned.
func (c *Compose) Close() {
	c.Reset()
}
