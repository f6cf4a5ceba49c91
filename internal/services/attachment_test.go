package services

import (
	"errors"
	"strings"
	"testing"
)

func upload(name, mimetype string, size int64) Upload {
	return Upload{Filename: name, Mimetype: mimetype, Size: size, Content: strings.NewReader("")}
}

func TestValidateUploads(t *testing.T) {
	ok := []Upload{
		upload("leak.jpg", "image/jpeg", 512),
		upload("site.png", "image/png", 10<<20),
		upload("notice.pdf", "application/pdf", 1<<20),
	}
	if err := ValidateUploads(ok); err != nil {
		t.Fatalf("expected valid uploads to pass, got %v", err)
	}
	if err := ValidateUploads(nil); err != nil {
		t.Fatalf("expected empty upload set to pass, got %v", err)
	}
}

func TestValidateUploadsRejections(t *testing.T) {
	cases := []struct {
		name    string
		uploads []Upload
	}{
		{"too many files", []Upload{
			upload("a.jpg", "image/jpeg", 1), upload("b.jpg", "image/jpeg", 1),
			upload("c.jpg", "image/jpeg", 1), upload("d.jpg", "image/jpeg", 1),
			upload("e.jpg", "image/jpeg", 1), upload("f.jpg", "image/jpeg", 1),
		}},
		{"oversized file", []Upload{upload("huge.png", "image/png", (10<<20)+1)}},
		{"zero size", []Upload{upload("empty.png", "image/png", 0)}},
		{"unsupported type", []Upload{upload("script.sh", "text/x-shellscript", 64)}},
		{"missing name", []Upload{upload("", "image/png", 64)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateUploads(tc.uploads)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}
