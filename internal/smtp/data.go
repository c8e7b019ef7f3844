package smtp

import (
	"bytes"
)

// dataPayload joins the header block and body into the DATA payload. Line
// endings are normalized to CRLF and lines starting with '.' are stuffed.
// The terminating "." line is not included.
func dataPayload(headers string, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(headers) + len(body) + 64)
	buf.WriteString(headers)
	buf.WriteString("\r\n")

	if len(body) == 0 {
		return buf.Bytes()
	}

	body = bytes.ReplaceAll(body, []byte("\r\n"), []byte("\n"))
	body = bytes.ReplaceAll(body, []byte("\r"), []byte("\n"))
	body = bytes.TrimSuffix(body, []byte("\n"))

	for _, line := range bytes.Split(body, []byte("\n")) {
		if len(line) > 0 && line[0] == '.' {
			buf.WriteByte('.')
		}
		buf.Write(line)
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}
