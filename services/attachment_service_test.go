package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services/provider"
	"github.com/driftchat/api/utils/apperr"
)

func TestValidateAttachments(t *testing.T) {
	svc := NewAttachmentService(newFakeBlobStore())

	cases := []struct {
		name    string
		att     model.Attachment
		wantErr error
	}{
		{
			name: "png accepted",
			att:  model.Attachment{FileName: "photo.png", FileType: "image/png", FileSize: 1024},
		},
		{
			name: "pdf accepted",
			att:  model.Attachment{FileName: "paper.pdf", FileType: "application/pdf", FileSize: 2048},
		},
		{
			name: "markdown accepted",
			att:  model.Attachment{FileName: "readme.md", FileType: "text/markdown", FileSize: 100},
		},
		{
			name:    "executable rejected",
			att:     model.Attachment{FileName: "tool.exe", FileType: "application/x-msdownload", FileSize: 100},
			wantErr: apperr.ErrUnsupported,
		},
		{
			name:    "oversized rejected",
			att:     model.Attachment{FileName: "huge.png", FileType: "image/png", FileSize: MaxAttachmentSize + 1},
			wantErr: apperr.ErrValidation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Validate([]model.Attachment{tc.att})
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Expected %q to validate, got %v", tc.att.FileName, err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Expected %v for %q, got %v", tc.wantErr, tc.att.FileName, err)
			}
		})
	}
}

func TestResolveInlinesTextFiles(t *testing.T) {
	blobs := newFakeBlobStore()
	svc := NewAttachmentService(blobs)
	blobs.PutWithID("txt-1", []byte("line one\nline two"), "text/plain")

	m, _ := provider.Find(provider.DefaultModelID)
	parts := svc.Resolve(context.Background(), []model.Attachment{
		{BlobID: "txt-1", FileName: "notes.txt", FileType: "text/plain"},
	}, m)

	if len(parts) != 1 || parts[0].Type != provider.PartText {
		t.Fatalf("Expected 1 text part, got %+v", parts)
	}
	if !strings.Contains(parts[0].Text, "notes.txt") || !strings.Contains(parts[0].Text, "line two") {
		t.Fatalf("Inlined text should name the file and carry its content, got %q", parts[0].Text)
	}
}

func TestResolveImagesRespectVision(t *testing.T) {
	blobs := newFakeBlobStore()
	svc := NewAttachmentService(blobs)
	blobs.PutWithID("img-1", []byte{0xff, 0xd8}, "image/jpeg")
	atts := []model.Attachment{{BlobID: "img-1", FileName: "photo.jpg", FileType: "image/jpeg"}}
	ctx := context.Background()

	vision, _ := provider.Find("openai/gpt-4o")
	parts := svc.Resolve(ctx, atts, vision)
	if len(parts) != 1 || parts[0].Type != provider.PartImage {
		t.Fatalf("Vision model should receive an image part, got %+v", parts)
	}

	textOnly, _ := provider.Find("meta-llama/llama-3.3-70b-instruct")
	parts = svc.Resolve(ctx, atts, textOnly)
	if len(parts) != 0 {
		t.Fatalf("Text-only model should not receive image parts, got %+v", parts)
	}
}

func TestResolvePDFAsTypedFilePart(t *testing.T) {
	blobs := newFakeBlobStore()
	svc := NewAttachmentService(blobs)
	blobs.PutWithID("pdf-1", []byte("%PDF-1.4"), "application/pdf")

	m, _ := provider.Find("anthropic/claude-sonnet-4")
	if !m.Supports(provider.CapFile) {
		t.Fatalf("Test model should accept file parts")
	}
	parts := svc.Resolve(context.Background(), []model.Attachment{
		{BlobID: "pdf-1", FileName: "paper.pdf", FileType: "application/pdf"},
	}, m)
	if len(parts) != 1 || parts[0].Type != provider.PartFile {
		t.Fatalf("Expected a typed file part, got %+v", parts)
	}
	if parts[0].FileName != "paper.pdf" || parts[0].MIMEType != "application/pdf" {
		t.Fatalf("File part should carry name and type, got %+v", parts[0])
	}
}

func TestResolveSkipsMissingBlobs(t *testing.T) {
	svc := NewAttachmentService(newFakeBlobStore())
	m, _ := provider.Find(provider.DefaultModelID)

	parts := svc.Resolve(context.Background(), []model.Attachment{
		{BlobID: "vanished", FileName: "gone.txt", FileType: "text/plain"},
	}, m)
	if len(parts) != 0 {
		t.Fatalf("Missing blobs should be skipped, got %+v", parts)
	}
}
