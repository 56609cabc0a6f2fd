package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services/blobstore"
	"github.com/driftchat/api/services/provider"
	"github.com/driftchat/api/utils/apperr"
)

// MaxAttachmentSize is the upper bound on a single uploaded file
const MaxAttachmentSize = 25 * 1024 * 1024

// allowedDocumentTypes lists the non-image MIME types a message may attach.
// Images are allowed by wildcard.
var allowedDocumentTypes = map[string]bool{
	"application/pdf":           true,
	"text/plain":                true,
	"text/csv":                  true,
	"text/tab-separated-values": true,
	"text/markdown":             true,
}

// AttachmentService validates uploads and expands stored attachments into
// model-ready content parts.
type AttachmentService struct {
	blobs blobstore.Store
}

// NewAttachmentService creates a new attachment service
func NewAttachmentService(blobs blobstore.Store) *AttachmentService {
	return &AttachmentService{blobs: blobs}
}

// Validate rejects attachments whose type or size falls outside policy
func (s *AttachmentService) Validate(attachments []model.Attachment) error {
	for _, a := range attachments {
		if a.FileSize > MaxAttachmentSize {
			return apperr.Validationf("file %q exceeds the %d MB limit", a.FileName, MaxAttachmentSize/(1024*1024))
		}
		if !isAllowedType(a.FileType) {
			return apperr.Unsupportedf("file type %q is not supported", a.FileType)
		}
	}
	return nil
}

func isAllowedType(mimeType string) bool {
	if strings.HasPrefix(mimeType, "image/") {
		return true
	}
	return allowedDocumentTypes[mimeType]
}

// Resolve turns stored attachments into content parts for the given model.
// Text documents are inlined with a wrapper naming the file. Images become
// binary parts when the model can see them. PDFs go through as typed file
// parts when supported, otherwise their text is extracted and inlined.
// Attachments whose blobs have since been deleted are skipped.
func (s *AttachmentService) Resolve(ctx context.Context, attachments []model.Attachment, m provider.Model) []provider.Part {
	var parts []provider.Part
	for _, a := range attachments {
		data, contentType, err := s.blobs.Get(ctx, a.BlobID)
		if err != nil {
			log.Printf("[Attach] Skipping attachment %s (%s): %v", a.BlobID, a.FileName, err)
			continue
		}
		if contentType == "" {
			contentType = a.FileType
		}

		switch {
		case strings.HasPrefix(contentType, "text/"):
			parts = append(parts, provider.Part{
				Type: provider.PartText,
				Text: wrapFileContent(a.FileName, string(data)),
			})
		case strings.HasPrefix(contentType, "image/"):
			if !m.Supports(provider.CapVision) {
				continue
			}
			parts = append(parts, provider.Part{
				Type:     provider.PartImage,
				Data:     data,
				MIMEType: contentType,
				FileName: a.FileName,
			})
		case contentType == "application/pdf":
			if m.Supports(provider.CapFile) {
				parts = append(parts, provider.Part{
					Type:     provider.PartFile,
					Data:     data,
					MIMEType: contentType,
					FileName: a.FileName,
				})
				continue
			}
			text, err := extractPDFText(data)
			if err != nil {
				log.Printf("[Attach] Failed to extract text from %s: %v", a.FileName, err)
				continue
			}
			parts = append(parts, provider.Part{
				Type: provider.PartText,
				Text: wrapFileContent(a.FileName, text),
			})
		}
	}
	return parts
}

func wrapFileContent(name, content string) string {
	return fmt.Sprintf("<user-uploaded-file-content name=%q>\n%s\n</user-uploaded-file-content>", name, content)
}

// extractPDFText pulls plain text out of a PDF for models without native
// document support
func extractPDFText(content []byte) (string, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= pdfReader.NumPage(); pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no extractable text")
	}
	return sb.String(), nil
}
