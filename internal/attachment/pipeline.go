// Package attachment converts raw user-selected files into attachment
// records and resolves, per conversation mode, whether content is uploaded
// to durable storage or kept inline.
package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/entrepeneur4lyf/chatsync/internal/message"
	"github.com/entrepeneur4lyf/chatsync/internal/models"
)

// Mode selects how materialize treats raw content.
type Mode string

const (
	// ModeInline keeps all content local: raw content is rewritten to a
	// data: URI and never sent to durable storage.
	ModeInline Mode = "inline"
	// ModeDurable uploads raw content and replaces it with a storage
	// reference.
	ModeDurable Mode = "durable"
)

// RejectReason classifies why prepare refused a file.
type RejectReason string

const (
	ReasonNoModel         RejectReason = "no_model_selected"
	ReasonTooLarge        RejectReason = "file_too_large"
	ReasonUnsupportedType RejectReason = "unsupported_type"
)

// Rejection is a structured per-file refusal. Prepare keeps processing the
// remaining files after a rejection.
type Rejection struct {
	Name   string       `json:"name"`
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

func (r Rejection) String() string {
	if r.Detail == "" {
		return fmt.Sprintf("%s rejected: %s", r.Name, r.Reason)
	}
	return fmt.Sprintf("%s rejected: %s (%s)", r.Name, r.Reason, r.Detail)
}

// RawFile is a user-selected file before classification.
type RawFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// Uploader stores an attachment durably and returns a copy carrying a
// storage reference.
type Uploader interface {
	Upload(ctx context.Context, att message.Attachment) (message.Attachment, error)
}

// Limits are the size ceilings the pipeline enforces.
type Limits struct {
	// MaxFileSize is the generic per-file ceiling.
	MaxFileSize int64
	// MaxPDFSize is the larger ceiling applied to PDFs.
	MaxPDFSize int64
	// FatalUploadThreshold separates fatal upload failures (above) from
	// silent inline fallback (at or below).
	FatalUploadThreshold int64
	// MaxImageDimension bounds the longest edge of re-encoded images.
	MaxImageDimension int
}

// DefaultLimits returns the standard ceilings: 5 MiB generic, 10 MiB PDF,
// 1 MiB fatal-upload threshold.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:          5 << 20,
		MaxPDFSize:           10 << 20,
		FatalUploadThreshold: 1 << 20,
		MaxImageDimension:    1568,
	}
}

// Pipeline prepares and materializes attachments.
type Pipeline struct {
	limits Limits
	logger *log.Logger
}

// NewPipeline creates a pipeline with the given limits.
func NewPipeline(limits Limits, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	if limits.MaxFileSize <= 0 {
		limits = DefaultLimits()
	}
	return &Pipeline{limits: limits, logger: logger}
}

// Prepare classifies raw files into attachments, rejecting per-file on size,
// unsupported type, or a missing model. Rejected files do not abort the
// batch.
func (p *Pipeline) Prepare(files []RawFile, model *models.Model) ([]message.Attachment, []Rejection) {
	var attachments []message.Attachment
	var rejections []Rejection

	for _, f := range files {
		if model == nil {
			rejections = append(rejections, Rejection{Name: f.Name, Reason: ReasonNoModel})
			continue
		}

		kind, ok := classify(f.MimeType)
		if !ok {
			rejections = append(rejections, Rejection{
				Name:   f.Name,
				Reason: ReasonUnsupportedType,
				Detail: f.MimeType,
			})
			continue
		}

		ceiling := p.limits.MaxFileSize
		if kind == message.AttachmentPDF {
			ceiling = p.limits.MaxPDFSize
		}
		if int64(len(f.Data)) > ceiling {
			rejections = append(rejections, Rejection{
				Name:   f.Name,
				Reason: ReasonTooLarge,
				Detail: fmt.Sprintf("%d bytes exceeds %d byte limit", len(f.Data), ceiling),
			})
			continue
		}

		if !modelSupports(model, kind) {
			rejections = append(rejections, Rejection{
				Name:   f.Name,
				Reason: ReasonUnsupportedType,
				Detail: fmt.Sprintf("%s input not supported by %s", kind, model.ID),
			})
			continue
		}

		attachments = append(attachments, p.build(f, kind))
	}

	return attachments, rejections
}

// build produces the attachment record for an accepted file.
func (p *Pipeline) build(f RawFile, kind message.AttachmentType) message.Attachment {
	att := message.Attachment{
		Type:     kind,
		Name:     f.Name,
		Size:     int64(len(f.Data)),
		MimeType: f.MimeType,
	}

	switch kind {
	case message.AttachmentText:
		att.Content = string(f.Data)
	case message.AttachmentPDF:
		// Text extraction is deferred to send time.
		att.Content = base64.StdEncoding.EncodeToString(f.Data)
	case message.AttachmentImage:
		att.Content, att.MimeType = p.reencodeImage(f)
	}

	return att
}

// reencodeImage re-encodes an image to compact JPEG, falling back to the raw
// base64 payload if decoding or encoding fails.
func (p *Pipeline) reencodeImage(f RawFile) (content, mimeType string) {
	img, err := imaging.Decode(bytes.NewReader(f.Data))
	if err != nil {
		p.logger.Debug("image decode failed, keeping raw payload", "name", f.Name, "error", err)
		return base64.StdEncoding.EncodeToString(f.Data), f.MimeType
	}

	if max := p.limits.MaxImageDimension; max > 0 {
		bounds := img.Bounds()
		if bounds.Dx() > max || bounds.Dy() > max {
			img = imaging.Fit(img, max, max, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		p.logger.Debug("image re-encode failed, keeping raw payload", "name", f.Name, "error", err)
		return base64.StdEncoding.EncodeToString(f.Data), f.MimeType
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), "image/jpeg"
}

// Materialize resolves each attachment's final content representation for
// the given mode. Text-type and already-durable attachments pass through
// unchanged in both modes.
//
// In ModeInline, raw content is rewritten to a data: URI and nothing is
// uploaded. In ModeDurable, raw content is uploaded; failures above the
// fatal threshold are reported per-file, failures at or below it fall back
// silently to the original inline attachment.
func (p *Pipeline) Materialize(ctx context.Context, atts []message.Attachment, mode Mode, uploader Uploader) ([]message.Attachment, []error) {
	if mode == ModeInline {
		return p.materializeInline(atts), nil
	}
	return p.materializeDurable(ctx, atts, uploader)
}

func (p *Pipeline) materializeInline(atts []message.Attachment) []message.Attachment {
	out := make([]message.Attachment, len(atts))
	for i, att := range atts {
		if att.IsDurable() || att.Type == message.AttachmentText || att.Content == "" {
			out[i] = att
			continue
		}
		if !strings.HasPrefix(att.Content, "data:") {
			att.Content = "data:" + att.MimeType + ";base64," + att.Content
		}
		out[i] = att
	}
	return out
}

func (p *Pipeline) materializeDurable(ctx context.Context, atts []message.Attachment, uploader Uploader) ([]message.Attachment, []error) {
	out := make([]message.Attachment, len(atts))
	copy(out, atts)

	var mu sync.Mutex
	var failures []error

	g, ctx := errgroup.WithContext(ctx)
	for i := range out {
		att := out[i]
		if att.IsDurable() || att.Type == message.AttachmentText || att.Content == "" {
			continue
		}

		i := i
		g.Go(func() error {
			uploaded, err := uploader.Upload(ctx, att)
			if err != nil {
				if att.Size > p.limits.FatalUploadThreshold {
					mu.Lock()
					failures = append(failures, &UploadError{Name: att.Name, Fatal: true, Err: err})
					mu.Unlock()
					return nil
				}
				// Small files degrade to the original inline attachment.
				p.logger.Debug("upload failed, keeping inline content", "name", att.Name, "error", err)
				return nil
			}

			if att.Type == message.AttachmentPDF && att.ExtractedText != "" {
				uploaded.ExtractedText = att.ExtractedText
			}
			mu.Lock()
			out[i] = uploaded.StripInline()
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return out, failures
}

// classify maps a MIME type to an attachment kind.
func classify(mimeType string) (message.AttachmentType, bool) {
	switch {
	case mimeType == "application/pdf":
		return message.AttachmentPDF, true
	case strings.HasPrefix(mimeType, "image/"):
		return message.AttachmentImage, true
	case strings.HasPrefix(mimeType, "text/"),
		mimeType == "application/json",
		mimeType == "application/xml":
		return message.AttachmentText, true
	default:
		return "", false
	}
}

func modelSupports(model *models.Model, kind message.AttachmentType) bool {
	switch kind {
	case message.AttachmentImage:
		return model.SupportsImages()
	case message.AttachmentPDF:
		return model.SupportsPDF()
	default:
		return true
	}
}
