// Package attachments validates and manages files handed to assistants.
package attachments

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/assistant"
)

// MaxFileSize is the largest accepted file, in bytes.
const MaxFileSize = 20 << 20

// allowedMIMETypes lists the accepted media types.
var allowedMIMETypes = map[string]struct{}{
	"image/png":       {},
	"image/jpeg":      {},
	"image/gif":       {},
	"image/webp":      {},
	"application/pdf": {},
	"text/plain":      {},
	"text/csv":        {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
}

// InlineFile is a base64 file payload supplied by a client.
type InlineFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Data string `json:"data"`
}

// NormalizeMIMEType lowercases the media type and drops parameters.
func NormalizeMIMEType(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if mediaType, _, errParse := mime.ParseMediaType(trimmed); errParse == nil {
		return mediaType
	}
	return strings.ToLower(trimmed)
}

// IsAllowedMIMEType reports whether the media type is accepted.
func IsAllowedMIMEType(mimeType string) bool {
	_, ok := allowedMIMETypes[NormalizeMIMEType(mimeType)]
	return ok
}

// Validate checks every file and reports all problems at once.
func Validate(files []assistant.FileUpload) error {
	var problems []apperr.FileProblem
	for i, file := range files {
		if p, ok := checkFile(displayName(file.Name, i), file.MimeType, int64(len(file.Data))); !ok {
			problems = append(problems, p)
		}
	}
	if len(problems) > 0 {
		return &apperr.AttachmentError{Problems: problems}
	}
	return nil
}

// Decode turns inline payloads into uploads, validating the whole batch first.
// Declared sizes are checked before decoding so oversized payloads are never materialized.
func Decode(inline []InlineFile) ([]assistant.FileUpload, error) {
	var problems []apperr.FileProblem
	out := make([]assistant.FileUpload, 0, len(inline))
	for i, in := range inline {
		name := displayName(in.Name, i)
		mimeType := NormalizeMIMEType(in.Type)
		if strings.TrimSpace(in.Name) == "" {
			problems = append(problems, apperr.FileProblem{Name: name, Kind: apperr.KindInvalidAttachment, Reason: "name is required"})
			continue
		}
		if p, ok := checkFile(name, mimeType, in.Size); !ok {
			problems = append(problems, p)
			continue
		}
		data, errDecode := decodeBase64(in.Data)
		if errDecode != nil {
			problems = append(problems, apperr.FileProblem{Name: name, Kind: apperr.KindInvalidAttachment, Reason: "data is not valid base64"})
			continue
		}
		if int64(len(data)) != in.Size {
			problems = append(problems, apperr.FileProblem{
				Name:   name,
				Kind:   apperr.KindInvalidAttachment,
				Reason: fmt.Sprintf("decoded size %d does not match declared size %d", len(data), in.Size),
			})
			continue
		}
		out = append(out, assistant.FileUpload{Name: strings.TrimSpace(in.Name), MimeType: mimeType, Data: data})
	}
	if len(problems) > 0 {
		return nil, &apperr.AttachmentError{Problems: problems}
	}
	return out, nil
}

func checkFile(name, mimeType string, size int64) (apperr.FileProblem, bool) {
	switch {
	case !IsAllowedMIMEType(mimeType):
		return apperr.FileProblem{Name: name, Kind: apperr.KindUnsupportedFileType, Reason: fmt.Sprintf("unsupported file type %q", mimeType)}, false
	case size > MaxFileSize:
		return apperr.FileProblem{Name: name, Kind: apperr.KindFileTooLarge, Reason: fmt.Sprintf("file is %d bytes, limit is %d", size, MaxFileSize)}, false
	case size <= 0:
		return apperr.FileProblem{Name: name, Kind: apperr.KindInvalidAttachment, Reason: "file is empty"}, false
	}
	return apperr.FileProblem{}, true
}

// decodeBase64 accepts standard base64, optionally wrapped in a data URL.
func decodeBase64(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "data:") {
		if idx := strings.Index(trimmed, ","); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
	}
	data, errStd := base64.StdEncoding.DecodeString(trimmed)
	if errStd == nil {
		return data, nil
	}
	if data, errRaw := base64.RawStdEncoding.DecodeString(trimmed); errRaw == nil {
		return data, nil
	}
	return nil, errStd
}

func displayName(name string, index int) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return fmt.Sprintf("file #%d", index+1)
}
