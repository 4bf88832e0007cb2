package manager

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// PartKind selects the framing of a multipart part.
type PartKind int

const (
	// PartValue is a plain form field.
	PartValue PartKind = iota
	// PartJSON is an application/json part without a file name.
	PartJSON
	// PartFile is an application/octet-stream part carrying a file name.
	PartFile
)

// Part is one section of a multipart upload.
type Part struct {
	Data     []byte
	Name     string
	FileName string
	Kind     PartKind
}

// ValuePart returns a plain form field.
func ValuePart(name, value string) Part {
	return Part{Data: []byte(value), Name: name, Kind: PartValue}
}

// JSONPart returns v encoded as an application/json part.
func JSONPart(name string, v any) (Part, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Part{}, fmt.Errorf("encoding part %q: %w", name, err)
	}
	return Part{Data: b, Name: name, Kind: PartJSON}, nil
}

// FilePart returns a file part.
func FilePart(name, fileName string, data []byte) Part {
	return Part{Data: data, Name: name, FileName: fileName, Kind: PartFile}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart frames parts with boundary. It returns the body, ending
// with the closing boundary, and the Content-Type header value.
func encodeMultipart(parts []Part, boundary string) ([]byte, string, error) {
	if len(parts) == 0 {
		return nil, "", errors.New("multipart upload needs at least one part")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, "", fmt.Errorf("setting boundary: %w", err)
	}

	for _, p := range parts {
		if p.Name == "" {
			return nil, "", errors.New("multipart part needs a name")
		}

		h := make(textproto.MIMEHeader)
		disposition := fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(p.Name))
		switch p.Kind {
		case PartJSON:
			h.Set("Content-Type", "application/json")
		case PartFile:
			fileName := p.FileName
			if fileName == "" {
				fileName = p.Name
			}
			disposition += fmt.Sprintf(`; filename="%s"`, quoteEscaper.Replace(fileName))
			h.Set("Content-Type", "application/octet-stream")
		}
		h.Set("Content-Disposition", disposition)

		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("creating part %q: %w", p.Name, err)
		}
		if _, err := pw.Write(p.Data); err != nil {
			return nil, "", fmt.Errorf("writing part %q: %w", p.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}

	return body.Bytes(), w.FormDataContentType(), nil
}
