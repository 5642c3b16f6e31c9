package dash

import (
	"bytes"
	"fmt"
	"slices"
	"time"
)

const (
	boundaryRoot  = "B0UND"
	fileFieldName = "file"
	fileName      = "metrics.json.gz"
	crlf          = "\r\n"
)

// Multipart builds a multipart/form-data body from a compressed blob and flat form
// fields. Fields are written in key order and the binary part last.
type Multipart struct {
	file   []byte
	params Params
	nonce  int64
}

// NewMultipart creates a body whose boundary is unique to the current millisecond.
func NewMultipart(file []byte, params Params) *Multipart {
	return &Multipart{file: file, params: params, nonce: time.Now().UTC().UnixMilli()}
}

// Boundary returns the part separator token.
func (m *Multipart) Boundary() string {
	return fmt.Sprintf("%s*%d", boundaryRoot, m.nonce)
}

// ContentType returns the request content type, boundary included.
func (m *Multipart) ContentType() string {
	return fmt.Sprintf(`multipart/form-data; boundary="%s"`, m.Boundary())
}

// Bytes renders the body.
func (m *Multipart) Bytes() []byte {
	separator := "--" + m.Boundary()
	keys := make([]string, 0, len(m.params))
	for k := range m.params {
		if k == fileFieldName {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(separator + crlf)
		fmt.Fprintf(&buf, `Content-Disposition: form-data; name="%s"`, k)
		buf.WriteString(crlf + crlf)
		buf.WriteString(formValue(m.params[k]))
		buf.WriteString(crlf)
	}
	buf.WriteString(separator + crlf)
	fmt.Fprintf(&buf, `Content-Disposition: form-data; name="%s"; filename="%s"`, fileFieldName, fileName)
	buf.WriteString(crlf + "Content-Transfer-Encoding: binary")
	buf.WriteString(crlf + "Content-Type: application/octet-stream")
	buf.WriteString(crlf + crlf)
	buf.Write(m.file)
	buf.WriteString(crlf + separator + "--")
	return buf.Bytes()
}

// formValue renders a scalar parameter as a form field value.
func formValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
