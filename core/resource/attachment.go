// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package resource

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/relabs-tech/granja/core/client"
)

// DefaultMaxFileSize is the size limit of attachments, 10 MiB
const DefaultMaxFileSize int64 = 10 << 20

// File is an uploaded file for an attachment field
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Attachment declares a file field and what may be uploaded into it
type Attachment struct {
	// Types is the allow-list of MIME types
	Types []string
	// MaxSize is the size limit in bytes. Default is DefaultMaxFileSize.
	MaxSize int64
}

func (a Attachment) maxSize() int64 {
	if a.MaxSize <= 0 {
		return DefaultMaxFileSize
	}
	return a.MaxSize
}

func mediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

// contentType returns the media type sniffed from the content of the file
func (f File) contentType() string {
	return mediaType(http.DetectContentType(f.Data))
}

// declared returns the media type the upload claims, or "" if it claims none
func (f File) declared() string {
	ct := mediaType(f.ContentType)
	if ct == "application/octet-stream" {
		return ""
	}
	return ct
}

func (a Attachment) check(f File) string {
	if size := int64(len(f.Data)); size > a.maxSize() {
		return fmt.Sprintf("file %s is too large (%d bytes, maximum is %d bytes)", f.Name, size, a.maxSize())
	}
	if len(f.Data) == 0 {
		return fmt.Sprintf("file %s is empty", f.Name)
	}
	ct := f.contentType()
	if d := f.declared(); d != "" && d != ct {
		return fmt.Sprintf("file %s is sent as %s but its content is %s", f.Name, d, ct)
	}
	for _, t := range a.Types {
		if strings.EqualFold(t, ct) {
			return ""
		}
	}
	return fmt.Sprintf("file type %s is not allowed, allowed are %s", ct, strings.Join(a.Types, ", "))
}

// checkFiles validates uploads against the attachment declarations. It returns per
// field messages, or nil.
func checkFiles(attachments map[string]Attachment, files []File) map[string]string {
	fields := map[string]string{}
	seen := map[string]bool{}
	for _, f := range files {
		a, ok := attachments[f.Field]
		switch {
		case !ok:
			fields[f.Field] = "no file can be attached to this field"
		case seen[f.Field]:
			fields[f.Field] = "only one file can be attached"
		default:
			if msg := a.check(f); msg != "" {
				fields[f.Field] = msg
			}
		}
		seen[f.Field] = true
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func toClientFiles(files []File) []client.File {
	if len(files) == 0 {
		return nil
	}
	cf := make([]client.File, 0, len(files))
	for _, f := range files {
		cf = append(cf, client.File{
			Field:       f.Field,
			Name:        f.Name,
			ContentType: f.contentType(),
			Data:        f.Data,
		})
	}
	return cf
}
