package email

import (
	"bufio"
	"bytes"
	"fmt"
	"mime"
	"net/textproto"
	"strings"
	"time"
)

// TemplateHeader carries the template id of a generated message.
const TemplateHeader = "X-Template-Id"

// Message is an outgoing HTML email.
type Message struct {
	From       string
	To         []string
	ReplyTo    string
	Subject    string
	HTMLBody   string
	TemplateID string
}

// Bytes renders the message with headers, ready for an SMTP DATA command.
func (m *Message) Bytes() []byte {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(m.To, ", ")))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", m.From))
	if m.ReplyTo != "" {
		sb.WriteString(fmt.Sprintf("Reply-To: %s\r\n", m.ReplyTo))
	}
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject)))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	if m.TemplateID != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\r\n", TemplateHeader, m.TemplateID))
	}
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n") // End of headers
	sb.WriteString(m.HTMLBody)
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

// templateIDOf reads TemplateHeader from a raw message, or returns "".
func templateIDOf(rawMessage []byte) string {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(rawMessage)))
	header, err := r.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return ""
	}
	return header.Get(TemplateHeader)
}
